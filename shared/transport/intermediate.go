package transport

import (
	"encoding/binary"
	"io"
)

// intermediateTag is written once, as the first 4 bytes of the stream.
const intermediateTag uint32 = 0xeeeeeeee

// Intermediate frames each payload as a plain 4-byte little-endian length
// followed by the payload itself, with no alignment requirement. It trades
// Abridged's extra compactness for simplicity when payload sizes aren't
// already word-aligned.
type Intermediate struct {
	wrotePreamble bool
}

func NewIntermediate() *Intermediate { return &Intermediate{} }

func (m *Intermediate) Pack(payload []byte) []byte {
	var out []byte
	if !m.wrotePreamble {
		out = append(out, le32(intermediateTag)...)
		m.wrotePreamble = true
	}
	out = append(out, le32(uint32(len(payload)))...)
	out = append(out, payload...)
	return out
}

func (m *Intermediate) Unpack(r io.Reader) ([]byte, error) {
	lenBytes, err := readFull(r, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if err := checkLength(int(n)); err != nil {
		return nil, err
	}
	return readFull(r, int(n))
}

// paddedIntermediateTag marks the padded variant, used over transports (QUIC
// datagrams, some proxies) where a fixed frame-length multiple makes traffic
// analysis harder.
const paddedIntermediateTag uint32 = 0xdddddddd

// PaddedIntermediate is Intermediate plus 0-15 extra random bytes after each
// payload, included in the length prefix. The random tail comes from the
// caller-supplied source so tests stay deterministic; production callers
// pass one backed by crypto/rand.
type PaddedIntermediate struct {
	wrotePreamble bool
	padSource     func(n int) []byte
}

// NewPaddedIntermediate takes the padding-byte source so the crypto layer's
// RNG is the only place random bytes are drawn on this path.
func NewPaddedIntermediate(padSource func(n int) []byte) *PaddedIntermediate {
	return &PaddedIntermediate{padSource: padSource}
}

func (p *PaddedIntermediate) Pack(payload []byte) []byte {
	var out []byte
	if !p.wrotePreamble {
		out = append(out, le32(paddedIntermediateTag)...)
		p.wrotePreamble = true
	}
	padLen := int(p.padSource(1)[0]) % 16
	pad := p.padSource(padLen)
	out = append(out, le32(uint32(len(payload)+len(pad)))...)
	out = append(out, payload...)
	out = append(out, pad...)
	return out
}

func (p *PaddedIntermediate) Unpack(r io.Reader) ([]byte, error) {
	lenBytes, err := readFull(r, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if err := checkLength(int(n)); err != nil {
		return nil, err
	}
	framed, err := readFull(r, int(n))
	if err != nil {
		return nil, err
	}
	// The caller can't know the payload/padding split from the frame alone;
	// MTProto relies on the decrypted payload's own embedded length (the TL
	// message header) to find where real data ends and padding begins.
	return framed, nil
}
