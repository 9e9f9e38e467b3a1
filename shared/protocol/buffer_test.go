package protocol

import (
	"bytes"
	"math/big"
	"testing"
)

func TestBufferRoundTripPrimitives(t *testing.T) {
	w := NewWriteBuffer()
	w.WriteInt32(-7)
	w.WriteUint32(0xdeadbeef)
	w.WriteInt64(-123456789012345)
	w.WriteDouble(3.5)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBytes([]byte("hello"))
	w.WriteBytes(bytes.Repeat([]byte{0x42}, 300))

	r := NewBuffer(w.Bytes())

	if v, err := r.ReadInt32(); err != nil || v != -7 {
		t.Fatalf("int32: got %d, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("uint32: got %x, %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -123456789012345 {
		t.Fatalf("int64: got %d, %v", v, err)
	}
	if v, err := r.ReadDouble(); err != nil || v != 3.5 {
		t.Fatalf("double: got %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("bool true: got %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Fatalf("bool false: got %v, %v", v, err)
	}
	if v, err := r.ReadBytes(); err != nil || string(v) != "hello" {
		t.Fatalf("short bytes: got %q, %v", v, err)
	}
	if v, err := r.ReadBytes(); err != nil || len(v) != 300 {
		t.Fatalf("long bytes: got len %d, %v", len(v), err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected buffer fully consumed, %d bytes left", r.Remaining())
	}
}

func TestBufferBytesPadding(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 253, 254, 255, 1000} {
		w := NewWriteBuffer()
		payload := bytes.Repeat([]byte{0x11}, n)
		w.WriteBytes(payload)
		if len(w.Bytes())%4 != 0 {
			t.Fatalf("len %d: not padded to multiple of 4, got %d bytes", n, len(w.Bytes()))
		}
		r := NewBuffer(w.Bytes())
		got, err := r.ReadBytes()
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}

func TestBufferRejectsShortExtendedLength(t *testing.T) {
	// A conforming encoder never uses the 254 marker for a 5-byte string.
	r := NewBuffer([]byte{254, 5, 0, 0, 'h', 'e', 'l', 'l', 'o', 0, 0, 0})
	if _, err := r.ReadBytes(); err != ErrBadLengthPrefix {
		t.Fatalf("expected ErrBadLengthPrefix, got %v", err)
	}
}

func TestBufferRejects255Marker(t *testing.T) {
	r := NewBuffer([]byte{255, 0, 0, 0})
	if _, err := r.ReadBytes(); err != ErrInvalidLengthMarker {
		t.Fatalf("expected ErrInvalidLengthMarker, got %v", err)
	}
}

func TestBufferRejectsNonZeroPadding(t *testing.T) {
	r := NewBuffer([]byte{1, 'x', 0xff, 0})
	if _, err := r.ReadBytes(); err != ErrBadStringPadding {
		t.Fatalf("expected ErrBadStringPadding, got %v", err)
	}
}

func TestBufferBadBoolConstructor(t *testing.T) {
	r := NewBuffer([]byte{0x00, 0x00, 0x00, 0x00})
	if _, err := r.ReadBool(); err == nil {
		t.Fatal("expected error for bad bool constructor")
	}
}

func TestBufferTruncated(t *testing.T) {
	r := NewBuffer([]byte{0x01, 0x02})
	if _, err := r.ReadUint32(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestBufferBigInt(t *testing.T) {
	want := new(big.Int)
	want.SetString("1234567890123456789012345678901234567890", 10)
	w := NewWriteBuffer()
	w.WriteBigIntBytes(want.Bytes())
	r := NewBuffer(w.Bytes())
	got, err := r.ReadBigInt()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestBufferInt32Vector(t *testing.T) {
	want := []int32{1, 2, 3, -4}
	w := NewWriteBuffer()
	w.WriteInt32Vector(want)
	r := NewBuffer(w.Bytes())
	got, err := r.ReadInt32Vector()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, got[i], want[i])
		}
	}
}
