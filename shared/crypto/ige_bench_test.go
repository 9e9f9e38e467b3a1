package crypto

import (
	"crypto/rand"
	"testing"
)

func BenchmarkIGEEncrypt4KB(b *testing.B) {
	var key [32]byte
	var iv [32]byte
	rand.Read(key[:])
	rand.Read(iv[:])
	plaintext := make([]byte, 4096)
	rand.Read(plaintext)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := IGEEncrypt(key, iv, plaintext); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMsgKeyAESKeyIV(b *testing.B) {
	var authKey [256]byte
	var msgKey [16]byte
	rand.Read(authKey[:])
	rand.Read(msgKey[:])

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MsgKeyAESKeyIV(authKey, msgKey, true)
	}
}
