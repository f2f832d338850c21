package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// MaxStringLength is the largest string accepted, in UTF-16 code units.
const MaxStringLength = 1 << 16

// Reader decodes little-endian primitives from a single record payload.
// Reads never go past the end of the payload: a short read returns
// ErrTruncated and leaves the offset untouched.
type Reader struct {
	Version uint32

	data []byte
	off  int

	utf16 *encoding.Decoder
}

func NewReader(data []byte, version uint32) *Reader {
	return &Reader{
		Version: version,
		data:    data,
	}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of bytes left to read.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf(
			"wire: %w: %s needs %d bytes at offset %d, %d left",
			ErrTruncated,
			what,
			n,
			r.off,
			r.Remaining(),
		)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadThreadID reads a thread id whose width depends on the protocol version.
func (r *Reader) ReadThreadID() (uint64, error) {
	if r.Version < VersionThreadID64 {
		v, err := r.ReadUint32()
		return uint64(v), err
	}
	return r.ReadUint64()
}

// ReadString reads an int32 length, in UTF-16 code units, followed by the
// UTF-16LE code units themselves.
func (r *Reader) ReadString() (string, error) {
	start := r.off
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLength {
		r.off = start
		return "", fmt.Errorf("wire: %w: string of %d code units at offset %d", ErrBadLength, n, start)
	}
	b, err := r.take(int(n)*2, "string")
	if err != nil {
		r.off = start
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	if r.utf16 == nil {
		r.utf16 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	}
	s, err := r.utf16.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("wire: %w: invalid utf-16 string at offset %d: %v", ErrBadLength, start, err)
	}
	return string(s), nil
}

// ReadCount reads an int32 element count. minSize is the smallest encoded
// size of one element and lets obviously corrupt counts fail before any
// allocation happens.
func (r *Reader) ReadCount(minSize int, what string) (int, error) {
	start := r.off
	n, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("wire: %w: negative %s count %d at offset %d", ErrBadLength, what, n, start)
	}
	if minSize > 0 && int(n) > r.Remaining()/minSize {
		return 0, fmt.Errorf(
			"wire: %w: %d %s need at least %d bytes at offset %d, %d left",
			ErrTruncated,
			n,
			what,
			int(n)*minSize,
			r.off,
			r.Remaining(),
		)
	}
	return int(n), nil
}

// ReadIndex reads an int32 reference and checks it against [0, n).
func (r *Reader) ReadIndex(n int, what string) (int, error) {
	start := r.off
	v, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v < 0 || int(v) >= n {
		return 0, fmt.Errorf("wire: %w: %s %d at offset %d, %d available", ErrOutOfRangeReference, what, v, start, n)
	}
	return int(v), nil
}
