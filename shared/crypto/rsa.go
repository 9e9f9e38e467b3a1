package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/shadowmesh/mtclient/shared/protocol"
)

// RSAPublicKey is one of the datacenter's RSA public keys, identified on the
// wire by its 64-bit fingerprint (the low 8 bytes of SHA1 of its
// TL-serialized form).
type RSAPublicKey struct {
	N *big.Int
	E *big.Int
}

// Fingerprint computes the 64-bit identifier the server sends in ResPQ and
// the client echoes back in req_DH_params, per the standard
// SHA1(rsa_public_key TL object)[12:20] scheme, little-endian.
func (k *RSAPublicKey) Fingerprint() int64 {
	b := protocol.NewWriteBuffer()
	b.WriteBigIntBytes(k.N.Bytes())
	b.WriteBigIntBytes(k.E.Bytes())
	sum := sha1.Sum(b.Bytes())
	return int64(leUint64(sum[12:20]))
}

// ParseRSAPublicKeyPEM reads the PEM-encoded public key distributed
// out of band by a datacenter operator and reduces it to the bare (N, E)
// pair the wire protocol signs over.
func ParseRSAPublicKeyPEM(data []byte) (*RSAPublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		rsaPub, err2 := x509.ParsePKCS1PublicKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("crypto: parse rsa public key: %w", err)
		}
		pub = rsaPub
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: PEM block is not an RSA public key")
	}
	return &RSAPublicKey{N: rsaPub.N, E: big.NewInt(int64(rsaPub.E))}, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// Errors surfaced by RSAPadEncrypt.
var (
	ErrRSADataTooLarge   = errors.New("crypto: plaintext too large for rsa_pad envelope")
	ErrRSANoValidPadding = errors.New("crypto: could not find a padding that is < modulus after retries")
)

const (
	rsaPadDataSize    = 192 // data + random padding, before the hash is appended
	rsaPadMaxDataSize = 144 // data itself must leave room for padding + hash
	rsaPadMaxRetries  = 64
)

// RSAPadEncrypt implements MTProto 2.0's RSA_PAD scheme used to wrap
// PQInnerData in req_DH_params: the plaintext is padded and bound to a
// random AES-256-IGE key via a SHA-256 hash, XOR-masked, and the whole
// 256-byte envelope is raw-RSA-encrypted (no OAEP/PKCS1 — the padding
// scheme above already defeats chosen-plaintext attacks on textbook RSA).
func RSAPadEncrypt(key *RSAPublicKey, data []byte) ([]byte, error) {
	if len(data) > rsaPadMaxDataSize {
		return nil, ErrRSADataTooLarge
	}

	for attempt := 0; attempt < rsaPadMaxRetries; attempt++ {
		dataWithPadding := make([]byte, rsaPadDataSize)
		copy(dataWithPadding, data)
		if _, err := rand.Read(dataWithPadding[len(data):]); err != nil {
			return nil, fmt.Errorf("crypto: rsa_pad random padding: %w", err)
		}

		var tempKey [32]byte
		if _, err := rand.Read(tempKey[:]); err != nil {
			return nil, fmt.Errorf("crypto: rsa_pad temp key: %w", err)
		}

		hash := sha256.Sum256(concat(tempKey[:], dataWithPadding))
		dataWithHash := concat(dataWithPadding, hash[:]) // 192 + 32 = 224 bytes

		var zeroIV [32]byte
		aesEncrypted, err := IGEEncrypt(tempKey, zeroIV, dataWithHash)
		if err != nil {
			return nil, err
		}

		aesHash := sha256.Sum256(aesEncrypted)
		tempKeyXor := xorBytes(tempKey[:], aesHash[:])

		keyAESEncrypted := concat(tempKeyXor, aesEncrypted) // 32 + 224 = 256 bytes

		m := new(big.Int).SetBytes(keyAESEncrypted)
		if m.Cmp(key.N) >= 0 {
			continue // wire-format requires m < n; retry with a fresh temp_key
		}

		c := new(big.Int).Exp(m, key.E, key.N)
		out := make([]byte, 256)
		c.FillBytes(out)
		return out, nil
	}
	return nil, ErrRSANoValidPadding
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
