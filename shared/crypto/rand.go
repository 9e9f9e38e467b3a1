package crypto

import "crypto/rand"

// RandomPadding draws n bytes from crypto/rand, for use as
// transport.NewPaddedIntermediate's pad source: production callers should
// never hand PaddedIntermediate a deterministic padding function.
func RandomPadding(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto: rand.Read failed: " + err.Error())
	}
	return b
}
