package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type RecordType uint32

const (
	RecordDescriptionBoard RecordType = 0
	RecordEventFrame       RecordType = 1
	RecordSamplingFrame    RecordType = 2
	RecordSynchronization  RecordType = 7
	RecordTags             RecordType = 8
)

const (
	// HeaderSize is the size of {version, type, length}.
	HeaderSize = 12
	// MaxRecordLength bounds a single payload. A larger length means the
	// header itself is corrupt.
	MaxRecordLength = 256 << 20

	payloadChunk = 64 << 10
)

func (t RecordType) String() string {
	switch t {
	case RecordDescriptionBoard:
		return "description_board"
	case RecordEventFrame:
		return "event_frame"
	case RecordSamplingFrame:
		return "sampling_frame"
	case RecordSynchronization:
		return "synchronization"
	case RecordTags:
		return "tags"
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Record is one length-prefixed unit of a capture stream.
type Record struct {
	Version uint32
	Type    RecordType
	Payload []byte
	// Offset of the record header in the stream.
	Offset int64
}

// Reader returns a Reader over the payload using the record's version.
func (rec Record) Reader() *Reader {
	return NewReader(rec.Payload, rec.Version)
}

// RecordReader splits a byte stream into records. It never inspects
// payloads, so a malformed payload can be skipped by the caller and the
// next call to Next resumes at the following record boundary.
type RecordReader struct {
	r      io.Reader
	offset int64
	header [HeaderSize]byte
}

func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// Next returns the next record. It returns io.EOF at a clean end of stream.
// Any other error means the record boundary is lost and the stream must be
// abandoned.
func (rr *RecordReader) Next() (Record, error) {
	offset := rr.offset
	n, err := io.ReadFull(rr.r, rr.header[:])
	rr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("wire: %w: record header at offset %d", ErrTruncated, offset)
		}
		return Record{}, err
	}
	rec := Record{
		Version: binary.LittleEndian.Uint32(rr.header[0:4]),
		Type:    RecordType(binary.LittleEndian.Uint32(rr.header[4:8])),
		Offset:  offset,
	}
	length := binary.LittleEndian.Uint32(rr.header[8:12])
	if length > MaxRecordLength {
		return Record{}, fmt.Errorf("wire: %w: record of %d bytes at offset %d", ErrBadLength, length, offset)
	}
	// length is untrusted until the bytes arrive
	payload := bytes.NewBuffer(make([]byte, 0, min(length, payloadChunk)))
	copied, err := io.CopyN(payload, rr.r, int64(length))
	rr.offset += copied
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("wire: %w: %s payload at offset %d, got %d of %d bytes", ErrTruncated, rec.Type, offset, copied, length)
		}
		return Record{}, err
	}
	rec.Payload = payload.Bytes()
	return rec, nil
}

// WriteRecord frames payload with a record header and writes it to w.
func WriteRecord(w io.Writer, version uint32, t RecordType, payload []byte) error {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], version)
	binary.LittleEndian.PutUint32(header[4:8], uint32(t))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
