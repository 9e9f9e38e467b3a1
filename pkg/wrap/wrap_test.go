package wrap

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestUnencryptedRoundTrip(t *testing.T) {
	u := Unencrypted{}
	body := []byte("req_pq_multi serialized body")
	framed := u.Wrap(12345, body)

	gotID, gotBody, err := u.Unwrap(framed)
	if err != nil {
		t.Fatal(err)
	}
	if gotID != 12345 {
		t.Fatalf("msg_id mismatch: got %d", gotID)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch: got %q", gotBody)
	}
}

func TestUnencryptedRejectsNonZeroAuthKeyID(t *testing.T) {
	u := Unencrypted{}
	framed := u.Wrap(1, []byte("x"))
	framed[0] = 0x01 // corrupt auth_key_id
	if _, _, err := u.Unwrap(framed); err != ErrNonZeroAuthKeyID {
		t.Fatalf("expected ErrNonZeroAuthKeyID, got %v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	var authKey [256]byte
	rand.Read(authKey[:])
	e := &Encrypted{AuthKey: authKey}

	body := []byte("an RPC payload, arbitrary length, not block aligned")
	framed, err := e.Wrap(0xaabbccdd, 0x1122334455667788, 999, 3, body)
	if err != nil {
		t.Fatal(err)
	}

	salt, sessionID, msgID, seqNo, gotBody, err := e.Unwrap(framed)
	if err != nil {
		t.Fatal(err)
	}
	if salt != 0xaabbccdd || sessionID != 0x1122334455667788 || msgID != 999 || seqNo != 3 {
		t.Fatalf("envelope field mismatch: salt=%x session=%x msg=%d seq=%d", salt, sessionID, msgID, seqNo)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch: got %q", gotBody)
	}
}

func TestEncryptedRejectsWrongAuthKey(t *testing.T) {
	var key1, key2 [256]byte
	rand.Read(key1[:])
	rand.Read(key2[:])

	e1 := &Encrypted{AuthKey: key1}
	e2 := &Encrypted{AuthKey: key2}

	framed, err := e1.Wrap(1, 2, 3, 0, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, _, _, err := e2.Unwrap(framed); err != ErrAuthKeyIDMismatch {
		t.Fatalf("expected ErrAuthKeyIDMismatch, got %v", err)
	}
}

func TestEncryptedDetectsTamperedMsgKey(t *testing.T) {
	var authKey [256]byte
	rand.Read(authKey[:])
	e := &Encrypted{AuthKey: authKey}

	framed, err := e.Wrap(1, 2, 3, 0, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	framed[10] ^= 0xff // corrupt a byte inside msg_key

	if _, _, _, _, _, err := e.Unwrap(framed); err != ErrMsgKeyMismatch {
		t.Fatalf("expected ErrMsgKeyMismatch, got %v", err)
	}
}
