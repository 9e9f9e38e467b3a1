package protocol

import (
	"math/big"
	"testing"
)

func TestPQInnerDataEncodeDC(t *testing.T) {
	p := &PQInnerData{
		Pq:          []byte{1, 2, 3},
		P:           []byte{4},
		Q:           []byte{5},
		Nonce:       Int128{1},
		ServerNonce: Int128{2},
		NewNonce:    Int256{3},
		DC:          2,
	}
	w := NewWriteBuffer()
	p.Encode(w)

	r := NewBuffer(w.Bytes())
	tag, err := r.ReadUint32()
	if err != nil || tag != CrcPQInnerDataDc {
		t.Fatalf("tag: got 0x%08x, %v", tag, err)
	}
}

func TestPQInnerDataEncodeTempDC(t *testing.T) {
	p := &PQInnerData{
		Pq: []byte{1}, P: []byte{2}, Q: []byte{3},
		DC: 5, TempDC: true, ExpiresIn: 86400,
	}
	w := NewWriteBuffer()
	p.Encode(w)
	r := NewBuffer(w.Bytes())
	tag, _ := r.ReadUint32()
	if tag != CrcPQInnerDataTempDc {
		t.Fatalf("expected temp dc tag, got 0x%08x", tag)
	}
}

func TestDecodeBoxedDispatch(t *testing.T) {
	w := NewWriteBuffer()
	(&Pong{MsgID: 7, PingID: 9}).Encode(w)

	obj, err := DecodeBoxed(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	pong, ok := obj.(*Pong)
	if !ok {
		t.Fatalf("expected *Pong, got %T", obj)
	}
	if pong.MsgID != 7 || pong.PingID != 9 {
		t.Fatalf("pong fields lost in dispatch: %+v", pong)
	}

	if _, err := DecodeBoxed([]byte{0xde, 0xad, 0xbe, 0xef}); err == nil {
		t.Fatal("expected unknown constructor to be rejected")
	}
}

func TestServerDHParamsDecodeOk(t *testing.T) {
	w := NewWriteBuffer()
	w.WriteUint32(CrcServerDHParamsOk)
	w.WriteInt128(Int128{1})
	w.WriteInt128(Int128{2})
	w.WriteBytes([]byte{0xaa, 0xbb})

	s := &ServerDHParams{}
	if err := s.Decode(NewBuffer(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	if !s.Ok {
		t.Fatal("expected Ok variant")
	}
	if len(s.EncryptedAnswer) != 2 {
		t.Fatalf("expected 2-byte answer, got %d", len(s.EncryptedAnswer))
	}
}

func TestServerDHParamsDecodeFail(t *testing.T) {
	w := NewWriteBuffer()
	w.WriteUint32(CrcServerDHParamsFail)
	w.WriteInt128(Int128{1})
	w.WriteInt128(Int128{2})
	w.WriteInt128(Int128{9})

	s := &ServerDHParams{}
	if err := s.Decode(NewBuffer(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	if s.Ok {
		t.Fatal("expected Fail variant")
	}
}

func TestServerDHInnerDataRoundTrip(t *testing.T) {
	prime := big.NewInt(0)
	prime.SetString("c71caeb9c6b1c9048e6c522f70f13f73980d40238e3e21c14934d037563d930", 16)
	ga := big.NewInt(12345)

	w := NewWriteBuffer()
	w.WriteUint32(CrcServerDHInnerData)
	w.WriteInt128(Int128{1})
	w.WriteInt128(Int128{2})
	w.WriteInt32(3)
	w.WriteBigIntBytes(prime.Bytes())
	w.WriteBigIntBytes(ga.Bytes())
	w.WriteInt32(1700000000)

	s := &ServerDHInnerData{}
	if err := s.Decode(NewBuffer(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	if s.G != 3 || s.DHPrime.Cmp(prime) != 0 || s.GA.Cmp(ga) != 0 {
		t.Fatalf("decoded mismatch: g=%d prime=%s ga=%s", s.G, s.DHPrime, s.GA)
	}
}

func TestDHGenResultOutcomes(t *testing.T) {
	cases := []struct {
		tag  uint32
		want DHGenOutcome
	}{
		{CrcDHGenOk, DHGenOk},
		{CrcDHGenRetry, DHGenRetry},
		{CrcDHGenFail, DHGenFail},
	}
	for _, c := range cases {
		w := NewWriteBuffer()
		w.WriteUint32(c.tag)
		w.WriteInt128(Int128{})
		w.WriteInt128(Int128{})
		w.WriteInt128(Int128{})

		d := &DHGenResult{}
		if err := d.Decode(NewBuffer(w.Bytes())); err != nil {
			t.Fatal(err)
		}
		if d.Outcome != c.want {
			t.Fatalf("tag 0x%08x: got outcome %d, want %d", c.tag, d.Outcome, c.want)
		}
	}
}

func TestPongRoundTrip(t *testing.T) {
	p := &Pong{MsgID: 42, PingID: 99}
	w := NewWriteBuffer()
	p.Encode(w)

	got := &Pong{}
	if err := got.Decode(NewBuffer(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	if got.MsgID != 42 || got.PingID != 99 {
		t.Fatalf("got %+v", got)
	}
}

func TestMsgContainerRoundTrip(t *testing.T) {
	c := &MsgContainer{Messages: []Message{
		{MsgID: 1, Seqno: 1, Body: []byte("abc")},
		{MsgID: 2, Seqno: 3, Body: []byte{}},
	}}
	w := NewWriteBuffer()
	c.Encode(w)

	got := &MsgContainer{}
	if err := got.Decode(NewBuffer(w.Bytes())); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if string(got.Messages[0].Body) != "abc" {
		t.Fatalf("body mismatch: %q", got.Messages[0].Body)
	}
}
