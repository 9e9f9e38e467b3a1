// Package transport implements the four MTProto framing variants that sit
// between the typed binary codec (shared/protocol) and a raw byte-stream
// socket: Abridged, Intermediate, Padded Intermediate, and Full. Each framing
// owns only the shape of the length prefix (and, for Full, a sequence number
// and CRC32 trailer); none of them know about encryption or obfuscation,
// which wrap a Framer's output in shared/obfuscation.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Errors surfaced while unpacking a frame from a live connection.
var (
	// ErrMissingBytes means the reader didn't have enough buffered data yet;
	// callers should retry once more bytes arrive rather than treat this as fatal.
	ErrMissingBytes = errors.New("transport: missing bytes, retry after more data arrives")

	// ErrBadLength means a length prefix was zero, negative, or exceeded MaxPayloadSize.
	ErrBadLength = errors.New("transport: invalid frame length")

	// ErrBadSeqno means the Full framing's running sequence counter didn't match.
	ErrBadSeqno = errors.New("transport: unexpected sequence number")

	// ErrBadCRC means the Full framing's trailing CRC32 didn't match the frame contents.
	ErrBadCRC = errors.New("transport: crc32 mismatch")
)

// MaxPayloadSize bounds a single frame so a corrupt or hostile length prefix
// can't drive an unbounded allocation.
const MaxPayloadSize = 64 << 20 // 64 MiB, far above any real MTProto message

// Framer packs an encrypted (or plaintext, pre-handshake) payload into one
// wire frame and unpacks frames back out of a byte stream. Implementations
// are stateful: Abridged/Intermediate/PaddedIntermediate write a one-time
// preamble byte/tag before their first frame, and Full additionally tracks a
// running sequence number.
type Framer interface {
	// Pack returns the wire bytes for one frame carrying payload.
	Pack(payload []byte) []byte

	// Unpack reads exactly one frame from r. It returns ErrMissingBytes when
	// r reports io.EOF or io.ErrUnexpectedEOF before the frame is complete;
	// bytes already read from r are not given back.
	Unpack(r io.Reader) ([]byte, error)
}

func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrMissingBytes
		}
		return nil, fmt.Errorf("transport: read frame: %w", err)
	}
	return buf, nil
}

func checkLength(n int) error {
	if n <= 0 || n > MaxPayloadSize {
		return fmt.Errorf("%w: %d", ErrBadLength, n)
	}
	return nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
