// Package wrap implements the two message envelopes MTProto messages travel
// in: Unencrypted, used only for the plaintext handshake messages before an
// auth_key exists, and Encrypted, used for every RPC and update once the key
// exchange completes.
package wrap

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shadowmesh/mtclient/shared/crypto"
)

// Errors surfaced while unwrapping an incoming envelope.
var (
	ErrTooShort           = errors.New("wrap: envelope shorter than its fixed header")
	ErrNonZeroAuthKeyID   = errors.New("wrap: unencrypted envelope must carry auth_key_id 0")
	ErrAuthKeyIDMismatch  = errors.New("wrap: auth_key_id does not match this session's key")
	ErrMsgKeyMismatch     = errors.New("wrap: recomputed msg_key does not match the envelope")
	ErrBadPaddingLength   = errors.New("wrap: padding length outside the required [12, 1024] range")
)

const (
	minPadding = 12
	maxPadding = 1024
	aesBlock   = 16
)

// Unencrypted wraps and unwraps the plaintext messages exchanged before a
// session has an auth_key: req_pq_multi, req_DH_params, set_client_DH_params
// and their replies.
type Unencrypted struct{}

// Wrap prepends the fixed auth_key_id=0, msg_id, and length header to body.
func (Unencrypted) Wrap(msgID int64, body []byte) []byte {
	out := make([]byte, 0, 20+len(body))
	var authKeyID [8]byte // all zero
	out = append(out, authKeyID[:]...)
	out = appendInt64(out, msgID)
	out = appendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// Unwrap validates the auth_key_id is zero and splits out msg_id and body.
func (Unencrypted) Unwrap(data []byte) (msgID int64, body []byte, err error) {
	if len(data) < 20 {
		return 0, nil, ErrTooShort
	}
	authKeyID := binary.LittleEndian.Uint64(data[0:8])
	if authKeyID != 0 {
		return 0, nil, ErrNonZeroAuthKeyID
	}
	msgID = int64(binary.LittleEndian.Uint64(data[8:16]))
	length := binary.LittleEndian.Uint32(data[16:20])
	if len(data) < 20+int(length) {
		return 0, nil, ErrTooShort
	}
	return msgID, data[20 : 20+int(length)], nil
}

// Encrypted wraps and unwraps messages under an established auth_key, using
// AES-256-IGE with a key/iv derived per-message from msg_key per MTProto 2.0.
type Encrypted struct {
	AuthKey [256]byte
}

// Wrap builds the encrypted envelope for one outbound message: an inner
// plaintext of salt || session_id || msg_id || seq_no || length || body,
// padded to a random length (12-1024 bytes, total a multiple of 16), then
// IGE-encrypted under a key derived from msg_key and prefixed with
// auth_key_id and msg_key.
func (e *Encrypted) Wrap(salt uint64, sessionID uint64, msgID int64, seqNo int32, body []byte) ([]byte, error) {
	inner := make([]byte, 0, 32+len(body)+maxPadding)
	inner = appendUint64(inner, salt)
	inner = appendUint64(inner, sessionID)
	inner = appendInt64(inner, msgID)
	inner = appendUint32(inner, uint32(seqNo))
	inner = appendUint32(inner, uint32(len(body)))
	inner = append(inner, body...)

	padLen, err := randomPadLength(len(inner))
	if err != nil {
		return nil, err
	}
	padding := make([]byte, padLen)
	if _, err := rand.Read(padding); err != nil {
		return nil, fmt.Errorf("wrap: read padding: %w", err)
	}
	inner = append(inner, padding...)

	msgKey := crypto.MsgKeyFromPlaintext(e.AuthKey, inner, true)
	key, iv := crypto.MsgKeyAESKeyIV(e.AuthKey, msgKey, true)
	encrypted, err := crypto.IGEEncrypt(key, iv, inner)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 24+len(encrypted))
	out = appendInt64(out, crypto.AuthKeyID(e.AuthKey))
	out = append(out, msgKey[:]...)
	out = append(out, encrypted...)
	return out, nil
}

// Unwrap validates auth_key_id, IGE-decrypts the envelope, and verifies the
// recomputed msg_key matches what the server sent before trusting the body.
func (e *Encrypted) Unwrap(data []byte) (salt uint64, sessionID uint64, msgID int64, seqNo int32, body []byte, err error) {
	if len(data) < 24 {
		return 0, 0, 0, 0, nil, ErrTooShort
	}
	authKeyID := int64(binary.LittleEndian.Uint64(data[0:8]))
	if authKeyID != crypto.AuthKeyID(e.AuthKey) {
		return 0, 0, 0, 0, nil, ErrAuthKeyIDMismatch
	}
	var msgKey [16]byte
	copy(msgKey[:], data[8:24])

	key, iv := crypto.MsgKeyAESKeyIV(e.AuthKey, msgKey, false)
	inner, err := crypto.IGEDecrypt(key, iv, data[24:])
	if err != nil {
		return 0, 0, 0, 0, nil, err
	}

	wantMsgKey := crypto.MsgKeyFromPlaintext(e.AuthKey, inner, false)
	if wantMsgKey != msgKey {
		return 0, 0, 0, 0, nil, ErrMsgKeyMismatch
	}
	if len(inner) < 32 {
		return 0, 0, 0, 0, nil, ErrTooShort
	}

	salt = binary.LittleEndian.Uint64(inner[0:8])
	sessionID = binary.LittleEndian.Uint64(inner[8:16])
	msgID = int64(binary.LittleEndian.Uint64(inner[16:24]))
	seqNo = int32(binary.LittleEndian.Uint32(inner[24:28]))
	length := binary.LittleEndian.Uint32(inner[28:32])
	if len(inner) < 32+int(length) {
		return 0, 0, 0, 0, nil, ErrTooShort
	}
	body = inner[32 : 32+length]
	return salt, sessionID, msgID, seqNo, body, nil
}

// randomPadLength picks a padding length in [12, 1024] such that
// innerLen+padLen is a multiple of 16, the AES block size IGE chains over.
func randomPadLength(innerLen int) (int, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("wrap: read random padding length: %w", err)
	}
	base := minPadding + int(binary.LittleEndian.Uint16(b[:]))%(maxPadding-minPadding)
	total := innerLen + base
	if rem := total % aesBlock; rem != 0 {
		base += aesBlock - rem
	}
	if base < minPadding {
		base += aesBlock
	}
	if base > maxPadding {
		base -= aesBlock
	}
	return base, nil
}

func appendInt64(dst []byte, v int64) []byte  { return appendUint64(dst, uint64(v)) }
func appendUint64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}
func appendUint32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}
