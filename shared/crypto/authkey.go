package crypto

import (
	"crypto/sha1"
	"math/big"
)

// AuthKeyFromSharedSecret turns a DH shared secret into the 256-byte
// auth_key the wire format requires: big-endian bytes of the shared secret,
// left-padded with zeros to exactly 256 bytes (2048 bits).
func AuthKeyFromSharedSecret(shared *big.Int) [256]byte {
	var key [256]byte
	shared.FillBytes(key[:])
	return key
}

// AuthKeyID is the 64-bit key identifier prefixed to every encrypted
// message: the low 8 bytes of SHA1(auth_key).
func AuthKeyID(authKey [256]byte) int64 {
	sum := sha1.Sum(authKey[:])
	return int64(leUint64(sum[12:20]))
}
