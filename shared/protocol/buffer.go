// Package protocol implements the typed binary codec used to serialize MTProto
// TL objects: fixed-width little-endian integers, length-prefixed padded byte
// strings, Vectors, and CRC32-tagged boxed structures.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Buffer accumulates or consumes the little-endian byte stream that carries
// every MTProto object. Writers append to buf; readers advance pos across it.
// A single Buffer is used both to build outgoing messages and to walk
// incoming ones, mirroring how EncodeMessage/DecodeMessage shared one
// byte-slice view.
type Buffer struct {
	buf []byte
	pos int
}

// NewBuffer wraps an existing byte slice for reading.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{buf: data}
}

// NewWriteBuffer returns an empty Buffer sized for building a new message.
func NewWriteBuffer() *Buffer {
	return &Buffer{buf: make([]byte, 0, 256)}
}

// Bytes returns the buffer's full backing slice.
func (b *Buffer) Bytes() []byte { return b.buf }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.buf) - b.pos }

func (b *Buffer) need(n int) error {
	if b.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

// --- fixed-width integers ---

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.buf[b.pos : b.pos+4])
	b.pos += 4
	return v, nil
}

func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.buf[b.pos : b.pos+8])
	b.pos += 8
	return v, nil
}

func (b *Buffer) WriteDouble(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

func (b *Buffer) ReadDouble() (float64, error) {
	bits, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// Int128 and Int256 are fixed-size opaque values (nonces, auth key hashes).
// They are stored and transmitted byte-for-byte, little-endian as a whole.
type Int128 [16]byte
type Int256 [32]byte

func (b *Buffer) WriteInt128(v Int128) { b.buf = append(b.buf, v[:]...) }

func (b *Buffer) ReadInt128() (Int128, error) {
	var v Int128
	if err := b.need(16); err != nil {
		return v, err
	}
	copy(v[:], b.buf[b.pos:b.pos+16])
	b.pos += 16
	return v, nil
}

func (b *Buffer) WriteInt256(v Int256) { b.buf = append(b.buf, v[:]...) }

func (b *Buffer) ReadInt256() (Int256, error) {
	var v Int256
	if err := b.need(32); err != nil {
		return v, err
	}
	copy(v[:], b.buf[b.pos:b.pos+32])
	b.pos += 32
	return v, nil
}

// --- big integers, used throughout the handshake (dh_prime, g_a, g_b...) ---

// WriteBigIntBytes writes raw big-endian bytes as an MTProto string (the wire
// representation of a TL number: no sign, no leading-zero trimming beyond
// what the caller already did).
func (b *Buffer) WriteBigIntBytes(v []byte) { b.WriteBytes(v) }

// ReadBigInt reads a length-prefixed byte string and interprets it as an
// unsigned big-endian integer.
func (b *Buffer) ReadBigInt() (*big.Int, error) {
	raw, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// --- bool, encoded on the wire as one of two 4-byte constructors ---

const (
	crcBoolTrue  uint32 = 0x997275b5
	crcBoolFalse uint32 = 0xbc799737
)

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint32(crcBoolTrue)
	} else {
		b.WriteUint32(crcBoolFalse)
	}
}

func (b *Buffer) ReadBool() (bool, error) {
	tag, err := b.ReadUint32()
	if err != nil {
		return false, err
	}
	switch tag {
	case crcBoolTrue:
		return true, nil
	case crcBoolFalse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: 0x%08x", ErrBadBoolConstructor, tag)
	}
}

// --- length-prefixed, zero-padded byte strings ---

// WriteBytes serializes v as a TL "string": either a single length byte
// (0-253) followed by data and padding, or the marker 254 followed by a
// 3-byte little-endian length for longer strings. The whole field (length
// prefix + data + padding) is padded with zero bytes to a multiple of 4.
func (b *Buffer) WriteBytes(v []byte) {
	n := len(v)
	start := len(b.buf)
	if n < 254 {
		b.buf = append(b.buf, byte(n))
		b.buf = append(b.buf, v...)
	} else {
		b.buf = append(b.buf, 254, byte(n), byte(n>>8), byte(n>>16))
		b.buf = append(b.buf, v...)
	}
	total := len(b.buf) - start
	if pad := (4 - total%4) % 4; pad > 0 {
		b.buf = append(b.buf, make([]byte, pad)...)
	}
}

// ReadBytes decodes a TL "string" and advances past its padding.
func (b *Buffer) ReadBytes() ([]byte, error) {
	if err := b.need(1); err != nil {
		return nil, err
	}
	start := b.pos
	lead := b.buf[b.pos]
	var length, prefixLen int
	switch {
	case lead < 254:
		length = int(lead)
		prefixLen = 1
	case lead == 255:
		return nil, ErrInvalidLengthMarker
	default:
		if err := b.need(4); err != nil {
			return nil, err
		}
		length = int(b.buf[b.pos+1]) | int(b.buf[b.pos+2])<<8 | int(b.buf[b.pos+3])<<16
		if length < 254 {
			return nil, ErrBadLengthPrefix
		}
		prefixLen = 4
	}
	b.pos += prefixLen
	if err := b.need(length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	copy(data, b.buf[b.pos:b.pos+length])
	b.pos += length

	total := b.pos - start
	if pad := (4 - total%4) % 4; pad > 0 {
		if err := b.need(pad); err != nil {
			return nil, err
		}
		for _, p := range b.buf[b.pos : b.pos+pad] {
			if p != 0 {
				return nil, ErrBadStringPadding
			}
		}
		b.pos += pad
	}
	return data, nil
}

// WriteString is WriteBytes over a Go string's UTF-8 bytes.
func (b *Buffer) WriteString(s string) { b.WriteBytes([]byte(s)) }

func (b *Buffer) ReadString() (string, error) {
	raw, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// --- vectors: crcVector tag, count, then count homogeneous elements ---

const crcVector uint32 = 0x1cb5c415

// WriteVectorHeader writes the Vector constructor and element count; the
// caller writes each element immediately afterward.
func (b *Buffer) WriteVectorHeader(count int) {
	b.WriteUint32(crcVector)
	b.WriteInt32(int32(count))
}

// ReadVectorHeader reads and validates the Vector constructor, returning the
// element count the caller should now loop over.
func (b *Buffer) ReadVectorHeader() (int, error) {
	tag, err := b.ReadUint32()
	if err != nil {
		return 0, err
	}
	if tag != crcVector {
		return 0, fmt.Errorf("%w: 0x%08x", ErrUnknownConstructor, tag)
	}
	n, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxVectorElements {
		return 0, ErrVectorTooLarge
	}
	return int(n), nil
}

// WriteInt32Vector and ReadInt32Vector handle the common case of a vector of
// plain int32s (flags, DC ids) without requiring a per-element closure.
func (b *Buffer) WriteInt32Vector(vals []int32) {
	b.WriteVectorHeader(len(vals))
	for _, v := range vals {
		b.WriteInt32(v)
	}
}

func (b *Buffer) ReadInt32Vector() ([]int32, error) {
	n, err := b.ReadVectorHeader()
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], err = b.ReadInt32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
