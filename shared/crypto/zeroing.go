package crypto

import "runtime"

// ZeroAuthKey wipes a 256-byte auth_key from memory once a connection has
// been torn down or a temporary key has expired. The byte-by-byte loop plus
// runtime.KeepAlive prevents the compiler from optimizing the zeroing away.
func ZeroAuthKey(key *[256]byte) {
	if key == nil {
		return
	}
	for i := range key {
		key[i] = 0
	}
	runtime.KeepAlive(key)
}

// ZeroBytes wipes a variable-length byte slice, used for DH private
// exponents and other handshake scratch material once a step completes.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// VerifyZeroedBytes reports whether every byte in data is zero. Intended for
// tests; checking this in production code paths would leak timing
// information about key material.
func VerifyZeroedBytes(data []byte) bool {
	if data == nil {
		return false
	}
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
