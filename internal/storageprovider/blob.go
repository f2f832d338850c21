package storageprovider

import (
	"context"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/vroom-capture/internal/storageutil"
)

// Blob implements storageutil.ObjectHandler on any bucket gocloud can open,
// gs:// and file:// URLs being registered.
type Blob struct {
	Bucket *blob.Bucket
}

// OpenBlob opens the bucket at url.
func OpenBlob(ctx context.Context, url string) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Blob{Bucket: bucket}, nil
}

func (b *Blob) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return b.Bucket.NewWriter(ctx, name, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
}

// Get reads a file from the bucket. If a key was not found, it will return
// ErrObjectNotFound.
func (b *Blob) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	r, err := b.Bucket.NewReader(ctx, name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	return r, nil
}

func (b *Blob) Close() error {
	return b.Bucket.Close()
}
