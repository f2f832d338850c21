package storageutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

// DefaultTimeout bounds a single object read or write.
const DefaultTimeout = 30 * time.Second

type ReadSizeCloser interface {
	io.Reader
	io.Closer
	Size() int64
}

// ObjectHandler provides common interface for multiple storage providers.
type ObjectHandler interface {
	// Put writes a file to the storage provider with name being the path.
	Put(ctx context.Context, name string) (io.WriteCloser, error)
	// Get reads a file from the storage provider with name being the path.
	// If a key was not found, it will return ErrObjectNotFound.
	Get(ctx context.Context, name string) (ReadSizeCloser, error)
}

// CapturePath is where the raw stream of a capture is stored.
func CapturePath(organizationID uint64, captureID string) string {
	return fmt.Sprintf("%d/captures/%s", organizationID, captureID)
}

// SummaryPath is where the decoded summary of a capture is stored.
func SummaryPath(organizationID uint64, captureID string) string {
	return fmt.Sprintf("%d/summaries/%s.json", organizationID, captureID)
}

// CompressedWrite compresses d as JSON and writes it to the storage provider.
func CompressedWrite(ctx context.Context, b ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	jw := json.NewEncoder(zw)
	err = jw.Encode(d)
	if err != nil {
		return err
	}
	err = zw.Close()
	if err != nil {
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads compressed JSON data from the storage provider
// and unmarshals it.
func UnmarshalCompressed(ctx context.Context, b ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	or, err := b.Get(ctx, objectName)
	if err != nil {
		return err
	}
	defer or.Close()
	zr := lz4.NewReader(or)
	return json.NewDecoder(zr).Decode(d)
}

// CompressedCopy compresses everything r yields into an object and returns
// the number of uncompressed bytes written.
func CompressedCopy(ctx context.Context, b ObjectHandler, objectName string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return 0, err
	}
	zw := lz4.NewWriter(ow)
	n, err := io.Copy(zw, r)
	if err != nil {
		return n, err
	}
	if err := zw.Close(); err != nil {
		return n, err
	}
	return n, ow.Close()
}

// ReadCompressed returns the decompressed content of an object.
func ReadCompressed(ctx context.Context, b ObjectHandler, objectName string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	or, err := b.Get(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer or.Close()
	return io.ReadAll(lz4.NewReader(or))
}
