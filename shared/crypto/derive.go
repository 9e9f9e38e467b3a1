package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
)

// TmpAESKeyIV derives the AES-256-IGE key and IV that wrap server_DH_params'
// and set_client_DH_params' encrypted_data, from the server_nonce and
// new_nonce exchanged earlier in the handshake. This KDF is fixed by the
// wire format (plain SHA-1 concatenation, not HKDF), which is why it lives
// here on crypto/sha1 rather than behind a general-purpose KDF library.
func TmpAESKeyIV(serverNonce [16]byte, newNonce [32]byte) (key [32]byte, iv [32]byte) {
	nnSn := sha1.Sum(concat(newNonce[:], serverNonce[:]))
	snNn := sha1.Sum(concat(serverNonce[:], newNonce[:]))
	nnNn := sha1.Sum(concat(newNonce[:], newNonce[:]))

	copy(key[:20], nnSn[:])
	copy(key[20:32], snNn[:12])

	copy(iv[:8], snNn[12:20])
	copy(iv[8:28], nnNn[:])
	copy(iv[28:32], newNonce[:4])
	return key, iv
}

// MsgKeyAESKeyIV derives the per-message AES-256-IGE key and IV from the
// 2048-bit auth_key and the 16-byte msg_key, per MTProto 2.0's fixed offset
// scheme. outbound is true when encrypting a client->server message and
// false when decrypting a server->client one; the offset into auth_key
// differs by direction so the two sides never reuse each other's keystream.
func MsgKeyAESKeyIV(authKey [256]byte, msgKey [16]byte, outbound bool) (key [32]byte, iv [32]byte) {
	x := 0
	if !outbound {
		x = 8
	}

	a := sha256.Sum256(concat(msgKey[:], authKey[x:x+36]))
	b := sha256.Sum256(concat(authKey[40+x:40+x+36], msgKey[:]))

	copy(key[:8], a[0:8])
	copy(key[8:24], b[8:24])
	copy(key[24:32], a[24:32])

	copy(iv[:8], b[0:8])
	copy(iv[8:24], a[8:24])
	copy(iv[24:32], b[24:32])
	return key, iv
}

// MsgKeyFromPlaintext computes msg_key as the middle 16 bytes of
// SHA256(substr(auth_key, 88+x, 32) || plaintext), used to authenticate an
// outgoing encrypted message before it is IGE-wrapped.
func MsgKeyFromPlaintext(authKey [256]byte, plaintext []byte, outbound bool) [16]byte {
	x := 0
	if !outbound {
		x = 8
	}
	sum := sha256.Sum256(concat(authKey[88+x:88+x+32], plaintext))
	var msgKey [16]byte
	copy(msgKey[:], sum[8:24])
	return msgKey
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
