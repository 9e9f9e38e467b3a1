package protocol

import "errors"

// Errors returned while decoding the typed binary codec.
var (
	// ErrTruncated means the buffer ended before a primitive could be fully read.
	ErrTruncated = errors.New("protocol: buffer truncated")

	// ErrUnknownConstructor means a CRC32 tag has no registered decoder.
	ErrUnknownConstructor = errors.New("protocol: unknown constructor id")

	// ErrBadStringPadding means a serialized byte string's padding bytes were not zero.
	ErrBadStringPadding = errors.New("protocol: non-zero string padding")

	// ErrBadLengthPrefix means a byte string used the 254 extended-length form
	// for a length that fits the short form, which a conforming encoder never
	// emits.
	ErrBadLengthPrefix = errors.New("protocol: extended length prefix for a short string")

	// ErrInvalidLengthMarker means a byte string began with the reserved 0xff
	// lead byte.
	ErrInvalidLengthMarker = errors.New("protocol: invalid 0xff string length marker")

	// ErrBadBoolConstructor means a value tagged as bool decoded to neither BoolTrue nor BoolFalse.
	ErrBadBoolConstructor = errors.New("protocol: invalid bool constructor")

	// ErrVectorTooLarge guards against a corrupt or hostile length prefix on a Vector.
	ErrVectorTooLarge = errors.New("protocol: vector length exceeds sane bound")
)

// maxVectorElements bounds Vector decoding so a corrupted length prefix can't
// drive an allocation of unbounded size.
const maxVectorElements = 1 << 20
