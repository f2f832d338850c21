package storageprovider

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dgraph-io/badger/v4"

	"github.com/getsentry/vroom-capture/internal/storageutil"
)

// Badger implements storageutil.ObjectHandler on a local badger database,
// used as a cache of recently ingested captures.
type Badger struct {
	DB *badger.DB
}

// Put writes a file to the storage provider with name being the path. The
// value is committed on Close.
func (b *Badger) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return &badgerWriter{
		db:   b.DB,
		name: name,
	}, nil
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Badger) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	var value []byte
	err := b.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	return &bytesReader{
		Reader: bytes.NewReader(value),
		size:   int64(len(value)),
	}, nil
}

// badgerWriter implements io.WriteCloser
type badgerWriter struct {
	buf  bytes.Buffer
	db   *badger.DB
	name string
}

func (bw *badgerWriter) Write(b []byte) (int, error) {
	return bw.buf.Write(b)
}

func (bw *badgerWriter) Close() error {
	return bw.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(bw.name), bw.buf.Bytes())
	})
}

// bytesReader implements storageutil.ReadSizeCloser
type bytesReader struct {
	*bytes.Reader
	size int64
}

func (b *bytesReader) Close() error {
	return nil
}

func (b *bytesReader) Size() int64 {
	return b.size
}
