// Package obfuscation implements MTProto's transport obfuscation: a 64-byte
// random header that doubles as the AES-256-CTR key material for both
// directions of the connection, disguising the stream as arbitrary traffic
// to a network observer. It sits below shared/transport's framings and
// above the raw socket.
package obfuscation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrHeaderGeneration is returned if a valid header could not be produced
// after a bounded number of retries (astronomically unlikely; retained as a
// defensive cap rather than looping forever).
var ErrHeaderGeneration = errors.New("obfuscation: could not generate a valid header")

const maxHeaderAttempts = 64

// Forbidden first-4-byte patterns a generated header must not start with;
// these collide with plaintext framing preambles or common protocol
// fingerprints and would let a censor trivially classify the connection.
var forbiddenPrefixes = [][4]byte{
	{0xef, 0xef, 0xef, 0xef},
	{0x48, 0x45, 0x41, 0x44}, // "HEAD"
	{0x50, 0x4f, 0x53, 0x54}, // "POST"
	{0x47, 0x45, 0x54, 0x20}, // "GET "
	{0x4f, 0x50, 0x54, 0x49}, // "OPTI"
	{0x16, 0x03, 0x01, 0x02}, // TLS 1.0 handshake record
	{0xdd, 0xdd, 0xdd, 0xdd},
	{0xee, 0xee, 0xee, 0xee},
	{0x00, 0x00, 0x00, 0x00},
}

func headerRejected(h []byte) bool {
	if h[0] == 0xef {
		return true
	}
	var first4 [4]byte
	copy(first4[:], h[:4])
	for _, bad := range forbiddenPrefixes {
		if first4 == bad {
			return true
		}
	}
	second4 := binary.LittleEndian.Uint32(h[4:8])
	if second4 == 0 {
		return true
	}
	return false
}

// Keys holds the two independent AES-256-CTR streams derived from a header:
// Encrypt carries client->server traffic, Decrypt carries server->client.
type Keys struct {
	Encrypt cipher.Stream
	Decrypt cipher.Stream
}

// GenerateHeader produces a fresh 64-byte client obfuscation header for the
// given framing tag and destination datacenter, optionally folded with a
// proxy secret, and returns the derived read/write AES-CTR streams alongside
// the header bytes the caller must send as-is (never re-encrypted) before
// any framed traffic.
func GenerateHeader(protocolTag uint32, dcID int16, secret []byte) ([64]byte, *Keys, error) {
	var header [64]byte
	for attempt := 0; attempt < maxHeaderAttempts; attempt++ {
		if _, err := rand.Read(header[:56]); err != nil {
			return header, nil, fmt.Errorf("obfuscation: read random header: %w", err)
		}
		if headerRejected(header[:8]) {
			continue
		}
		binary.LittleEndian.PutUint32(header[56:60], protocolTag)
		binary.LittleEndian.PutUint16(header[60:62], uint16(dcID))
		if _, err := rand.Read(header[62:64]); err != nil {
			return header, nil, fmt.Errorf("obfuscation: read random header: %w", err)
		}

		keys, err := deriveClientKeys(header, secret)
		if err != nil {
			return header, nil, err
		}
		// Only the last 8 of the 64 bytes sent on the wire (protocol tag,
		// DC id, random tail) are encrypted with the outgoing cipher; the
		// first 56 stay plaintext so the server can re-derive the same key
		// material from them.
		encrypted := header
		keys.Encrypt.XORKeyStream(encrypted[:], header[:])
		copy(header[56:64], encrypted[56:64])
		return header, keys, nil
	}
	return header, nil, ErrHeaderGeneration
}

// deriveClientKeys derives the client's outgoing (encrypt) and incoming
// (decrypt) AES-256-CTR streams from the 56 plaintext bytes of a header.
// The outgoing key/iv are read forward out of header[8:56]; the incoming
// key/iv are the byte-reversal of the same range, matching how the server
// derives its own read/write pair from the opposite direction.
func deriveClientKeys(header [64]byte, secret []byte) (*Keys, error) {
	var encKey [32]byte
	var encIV [16]byte
	copy(encKey[:], header[8:40])
	copy(encIV[:], header[40:56])

	var decKey [32]byte
	var decIV [16]byte
	for i := 0; i < 32; i++ {
		decKey[i] = header[55-i]
	}
	for i := 0; i < 16; i++ {
		decIV[i] = header[23-i]
	}

	if len(secret) > 0 {
		encKey = foldSecret(encKey, secret)
		decKey = foldSecret(decKey, secret)
	}

	encStream, err := newCTR(encKey, encIV)
	if err != nil {
		return nil, err
	}
	decStream, err := newCTR(decKey, decIV)
	if err != nil {
		return nil, err
	}
	return &Keys{Encrypt: encStream, Decrypt: decStream}, nil
}

// NormalizeSecret reduces a user-supplied proxy secret string to the bytes
// folded into the derived keys. Secrets distributed with a 0xDD ("secure")
// or 0xEE (framing-pinned) marker code point carry the marker plus 16
// payload characters; the marker is stripped. Anything else is truncated to
// its first 16 characters.
func NormalizeSecret(secret string) []byte {
	runes := []rune(secret)
	if len(runes) >= 17 && (runes[0] == 0xdd || runes[0] == 0xee) {
		return []byte(string(runes[1:17]))
	}
	if len(runes) > 16 {
		runes = runes[:16]
	}
	return []byte(string(runes))
}

// foldSecret binds a proxy secret into a derived key by hashing key||secret,
// so two parties who don't share the secret can't produce matching streams
// even if they observe the same header.
func foldSecret(key [32]byte, secret []byte) [32]byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write(secret)
	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}

func newCTR(key [32]byte, iv [16]byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("obfuscation: aes cipher: %w", err)
	}
	return cipher.NewCTR(block, iv[:]), nil
}

// ParseServerHeader is the server-side mirror of GenerateHeader: given the
// 64 bytes a client sent and the set of secrets this server accepts, it
// recovers the framing tag, target DC, and read/write streams. Present for
// completeness of the protocol (e.g. a test double acting as a DC); the
// client itself only ever calls GenerateHeader.
func ParseServerHeader(header [64]byte, secrets [][]byte) (protocolTag uint32, dcID int16, keys *Keys, err error) {
	try := func(secret []byte) (uint32, int16, *Keys, error) {
		var readKey [32]byte
		var readIV [16]byte
		copy(readKey[:], header[8:40])
		copy(readIV[:], header[40:56])
		if len(secret) > 0 {
			readKey = foldSecret(readKey, secret)
		}
		readStream, err := newCTR(readKey, readIV)
		if err != nil {
			return 0, 0, nil, err
		}
		var decoded [64]byte
		readStream.XORKeyStream(decoded[:], header[:])

		tag := binary.LittleEndian.Uint32(decoded[56:60])
		dc := int16(binary.LittleEndian.Uint16(decoded[60:62]))

		var writeKey [32]byte
		var writeIV [16]byte
		for i := 0; i < 32; i++ {
			writeKey[i] = header[55-i]
		}
		for i := 0; i < 16; i++ {
			writeIV[i] = header[23-i]
		}
		if len(secret) > 0 {
			writeKey = foldSecret(writeKey, secret)
		}
		writeStream, err := newCTR(writeKey, writeIV)
		if err != nil {
			return 0, 0, nil, err
		}
		return tag, dc, &Keys{Encrypt: writeStream, Decrypt: readStream}, nil
	}

	if len(secrets) == 0 {
		protocolTag, dcID, keys, err = try(nil)
		return
	}
	for _, s := range secrets {
		if tag, dc, k, e := try(s); e == nil {
			return tag, dc, k, nil
		}
	}
	return 0, 0, nil, fmt.Errorf("obfuscation: no matching secret for header")
}

// Reader wraps an io.Reader, decrypting every byte read through the
// connection's incoming AES-CTR stream.
type Reader struct {
	r      io.Reader
	stream cipher.Stream
}

func NewReader(r io.Reader, stream cipher.Stream) *Reader { return &Reader{r: r, stream: stream} }

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// Writer wraps an io.Writer, encrypting every byte written through the
// connection's outgoing AES-CTR stream.
type Writer struct {
	w      io.Writer
	stream cipher.Stream
}

func NewWriter(w io.Writer, stream cipher.Stream) *Writer { return &Writer{w: w, stream: stream} }

func (w *Writer) Write(p []byte) (int, error) {
	enc := make([]byte, len(p))
	w.stream.XORKeyStream(enc, p)
	return w.w.Write(enc)
}
