package storageprovider

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/vroom-capture/internal/storageutil"
)

// Cached reads through Cache before falling back to Origin. Objects read
// from Origin are copied into Cache. Writes only go to Origin.
type Cached struct {
	Cache  storageutil.ObjectHandler
	Origin storageutil.ObjectHandler
}

func (c *Cached) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return c.Origin.Put(ctx, name)
}

func (c *Cached) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	r, err := c.Cache.Get(ctx, name)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, storageutil.ErrObjectNotFound) {
		log.Warn().Err(err).Str("object", name).Msg("cache read failed")
	}

	r, err = c.Origin.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if err := c.fill(ctx, name, data); err != nil {
		log.Warn().Err(err).Str("object", name).Msg("cache write failed")
	}
	return &bytesReader{
		Reader: bytes.NewReader(data),
		size:   int64(len(data)),
	}, nil
}

func (c *Cached) fill(ctx context.Context, name string, data []byte) error {
	w, err := c.Cache.Put(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
