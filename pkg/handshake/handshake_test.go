package handshake

import (
	"crypto/sha1"
	"math/big"
	"testing"

	"github.com/shadowmesh/mtclient/shared/crypto"
	"github.com/shadowmesh/mtclient/shared/protocol"
)

func TestBuildReqPQMultiEncodesNonce(t *testing.T) {
	s := New(2, map[int64]*crypto.RSAPublicKey{})
	raw, err := s.BuildReqPQMulti()
	if err != nil {
		t.Fatal(err)
	}

	b := protocol.NewBuffer(raw)
	tag, err := b.ReadUint32()
	if err != nil || tag != protocol.CrcReqPQMulti {
		t.Fatalf("expected req_pq_multi tag, got 0x%08x, %v", tag, err)
	}
	nonce, err := b.ReadInt128()
	if err != nil || nonce != s.nonce {
		t.Fatalf("nonce mismatch")
	}
	if s.step != StepAwaitingResPQ {
		t.Fatalf("expected StepAwaitingResPQ, got %d", s.step)
	}
}

func TestBuildReqPQMultiRejectsDoubleCall(t *testing.T) {
	s := New(2, nil)
	if _, err := s.BuildReqPQMulti(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BuildReqPQMulti(); err != ErrWrongStep {
		t.Fatalf("expected ErrWrongStep on second call, got %v", err)
	}
}

func TestProcessResPQRejectsNonceMismatch(t *testing.T) {
	s := New(2, map[int64]*crypto.RSAPublicKey{})
	if _, err := s.BuildReqPQMulti(); err != nil {
		t.Fatal(err)
	}

	wrongNonce, _ := randomInt128()
	resPQ := &protocol.ResPQ{Nonce: wrongNonce, ServerNonce: protocol.Int128{1}, Pq: []byte{1, 67}}
	buf := encodeResPQForTest(resPQ)

	if _, err := s.ProcessResPQ(buf); err != ErrNonceMismatch {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
}

func TestProcessResPQRejectsUnknownFingerprint(t *testing.T) {
	s := New(2, map[int64]*crypto.RSAPublicKey{99: {N: big.NewInt(1), E: big.NewInt(1)}})
	if _, err := s.BuildReqPQMulti(); err != nil {
		t.Fatal(err)
	}

	resPQ := &protocol.ResPQ{Nonce: s.nonce, ServerNonce: protocol.Int128{1}, Pq: []byte{1, 67}, Fingerprints: []int64{12345}}
	buf := encodeResPQForTest(resPQ)

	if _, err := s.ProcessResPQ(buf); err != ErrNoMatchingRSAKey {
		t.Fatalf("expected ErrNoMatchingRSAKey, got %v", err)
	}
}

func TestProcessResPQRejectsShortPQ(t *testing.T) {
	s := New(2, map[int64]*crypto.RSAPublicKey{99: {N: big.NewInt(1), E: big.NewInt(1)}})
	if _, err := s.BuildReqPQMulti(); err != nil {
		t.Fatal(err)
	}

	resPQ := &protocol.ResPQ{Nonce: s.nonce, ServerNonce: protocol.Int128{1}, Pq: []byte{1, 67}, Fingerprints: []int64{99}}
	buf := encodeResPQForTest(resPQ)

	if _, err := s.ProcessResPQ(buf); err != ErrInvalidPQSize {
		t.Fatalf("expected ErrInvalidPQSize, got %v", err)
	}
}

func TestNewTempRequestsExpiry(t *testing.T) {
	s := NewTemp(2, nil)
	if !s.temp {
		t.Fatal("expected temp handshake state")
	}
	if s.expiresIn != TempAuthKeyExpireSeconds {
		t.Fatalf("expected expires_in %d, got %d", TempAuthKeyExpireSeconds, s.expiresIn)
	}
}

func TestVerifyNewNonceHash(t *testing.T) {
	s := &State{}
	newNonce, _ := randomInt256()
	s.newNonce = newNonce

	want := computeNewNonceHashForTest(newNonce, 1, nil)
	if err := s.verifyNewNonceHash(want, 1, nil); err != nil {
		t.Fatalf("expected matching hash to verify, got %v", err)
	}

	var tampered protocol.Int128
	copy(tampered[:], want[:])
	tampered[0] ^= 0xff
	if err := s.verifyNewNonceHash(tampered, 1, nil); err != ErrNewNonceHashMismatch {
		t.Fatalf("expected ErrNewNonceHashMismatch, got %v", err)
	}
}

func TestInitialSaltXorsLowBytes(t *testing.T) {
	var newNonce protocol.Int256
	var serverNonce protocol.Int128
	for i := range newNonce {
		newNonce[i] = byte(i)
	}
	for i := range serverNonce {
		serverNonce[i] = byte(i * 2)
	}
	salt := initialSalt(newNonce, serverNonce)
	if salt == 0 {
		t.Fatal("expected non-zero salt from distinct nonces")
	}
}

// --- test helpers that build wire bytes without a real server ---

func encodeResPQForTest(r *protocol.ResPQ) []byte {
	b := protocol.NewWriteBuffer()
	b.WriteUint32(protocol.CrcResPQ)
	b.WriteInt128(r.Nonce)
	b.WriteInt128(r.ServerNonce)
	b.WriteBytes(r.Pq)
	b.WriteVectorHeader(len(r.Fingerprints))
	for _, fp := range r.Fingerprints {
		b.WriteInt64(fp)
	}
	return b.Bytes()
}

func computeNewNonceHashForTest(newNonce protocol.Int256, marker byte, suffix []byte) protocol.Int128 {
	payload := append(append([]byte{}, newNonce[:]...), marker)
	payload = append(payload, suffix...)
	sum := sha1.Sum(payload)
	var out protocol.Int128
	copy(out[:], sum[4:20])
	return out
}
