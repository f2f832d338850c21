package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding/unicode"
)

// Writer encodes primitives the way Reader expects them. It is used to
// produce captures for tests and tooling.
type Writer struct {
	Version uint32

	buf bytes.Buffer
}

func NewWriter(version uint32) *Writer {
	return &Writer{Version: version}
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) Len() int {
	return w.buf.Len()
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteThreadID(v uint64) {
	if w.Version < VersionThreadID64 {
		w.WriteUint32(uint32(v))
		return
	}
	w.WriteUint64(v)
}

func (w *Writer) WriteString(s string) {
	if s == "" {
		w.WriteInt32(0)
		return
	}
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		// the encoder replaces invalid sequences, it never fails on a Go string
		panic(err)
	}
	w.WriteInt32(int32(len(b) / 2))
	w.buf.Write(b)
}

// WriteRaw appends b without any framing.
func (w *Writer) WriteRaw(b []byte) {
	w.buf.Write(b)
}
