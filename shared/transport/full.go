package transport

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Full is the original, heaviest framing: each frame carries its own total
// length, a running sequence number, and a trailing CRC32/IEEE checksum over
// everything before it. Unlike the other three framings it needs no
// encryption layer underneath to detect corruption, which is why it's the
// one variant still usable unobfuscated against a trusted transport.
type Full struct {
	writeSeq int32
	readSeq  int32
}

func NewFull() *Full { return &Full{} }

func (f *Full) Pack(payload []byte) []byte {
	total := 4 + 4 + len(payload) + 4 // length + seqno + payload + crc
	frame := make([]byte, 0, total)
	frame = append(frame, le32(uint32(total))...)
	frame = append(frame, le32(uint32(f.writeSeq))...)
	frame = append(frame, payload...)
	f.writeSeq++

	sum := crc32.ChecksumIEEE(frame)
	frame = append(frame, le32(sum)...)
	return frame
}

func (f *Full) Unpack(r io.Reader) ([]byte, error) {
	lenBytes, err := readFull(r, 4)
	if err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBytes)
	if err := checkLength(int(total)); err != nil {
		return nil, err
	}
	if total < 12 {
		return nil, ErrBadLength
	}
	rest, err := readFull(r, int(total)-4)
	if err != nil {
		return nil, err
	}

	seq := int32(binary.LittleEndian.Uint32(rest[:4]))
	if seq != f.readSeq {
		return nil, ErrBadSeqno
	}
	f.readSeq++

	payload := rest[4 : len(rest)-4]
	gotCRC := binary.LittleEndian.Uint32(rest[len(rest)-4:])

	wantCRC := crc32.ChecksumIEEE(append(append(lenBytes, rest[:4]...), payload...))
	if gotCRC != wantCRC {
		return nil, ErrBadCRC
	}
	return payload, nil
}
