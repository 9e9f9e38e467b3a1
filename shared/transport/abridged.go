package transport

import "io"

// abridgedPreamble is written once, as the very first byte of the stream,
// to tell the server which framing the client picked.
const abridgedPreamble = 0xef

// Abridged is the most compact framing: a one-byte length (payload bytes / 4)
// when that fits in 7 bits, or 0x7f followed by a 3-byte little-endian
// extended length otherwise. It carries no sequence number or checksum —
// integrity is left entirely to the encryption layer above it.
type Abridged struct {
	wrotePreamble bool
	readPreamble  bool

	// AckRequired records whether the last unpacked frame had the top bit of
	// its length byte set, the framing's quick-ack request flag.
	AckRequired bool
}

func NewAbridged() *Abridged { return &Abridged{} }

func (a *Abridged) Pack(payload []byte) []byte {
	if len(payload)%4 != 0 {
		panic("transport: abridged payload must be a multiple of 4 bytes")
	}
	words := len(payload) / 4

	var out []byte
	if !a.wrotePreamble {
		out = append(out, abridgedPreamble)
		a.wrotePreamble = true
	}
	if words < 0x7f {
		out = append(out, byte(words))
	} else {
		out = append(out, 0x7f, byte(words), byte(words>>8), byte(words>>16))
	}
	out = append(out, payload...)
	return out
}

func (a *Abridged) Unpack(r io.Reader) ([]byte, error) {
	if !a.readPreamble {
		// Unpack does not read a preamble byte: the stream handed to it must
		// start at the first frame's length byte. A leading 0xef would be
		// read as a length byte with the quick-ack bit set.
		a.readPreamble = true
	}
	lead, err := readFull(r, 1)
	if err != nil {
		return nil, err
	}
	a.AckRequired = lead[0]&0x80 != 0
	head := lead[0] & 0x7f
	var words int
	if head == 0x7f {
		ext, err := readFull(r, 3)
		if err != nil {
			return nil, err
		}
		words = int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16
	} else {
		words = int(head)
	}
	if err := checkLength(words * 4); err != nil {
		return nil, err
	}
	return readFull(r, words*4)
}
