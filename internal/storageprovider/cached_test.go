package storageprovider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/getsentry/vroom-capture/internal/storageutil"
	"github.com/getsentry/vroom-capture/internal/testutil"
)

func newBadger(t *testing.T) *Badger {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("couldn't create an in-memory badgerdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Badger{DB: db}
}

func newFileBlob(t *testing.T) *Blob {
	t.Helper()
	b, err := OpenBlob(context.Background(), "file://localhost/"+t.TempDir())
	if err != nil {
		t.Fatalf("couldn't open a local filesystem bucket: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func put(t *testing.T, h storageutil.ObjectHandler, name string, data []byte) {
	t.Helper()
	w, err := h.Put(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, h storageutil.ObjectHandler, name string) []byte {
	t.Helper()
	r, err := h.Get(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if r.Size() != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), r.Size())
	}
	return data
}

func TestCachedFillsCacheOnMiss(t *testing.T) {
	cache := newBadger(t)
	origin := newFileBlob(t)
	c := &Cached{Cache: cache, Origin: origin}

	put(t, c, "1/captures/a", []byte("capture a"))

	if _, err := cache.Get(context.Background(), "1/captures/a"); !errors.Is(err, storageutil.ErrObjectNotFound) {
		t.Fatalf("expected writes to skip the cache, got %v", err)
	}
	if diff := testutil.Diff(string(get(t, c, "1/captures/a")), "capture a"); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(string(get(t, cache, "1/captures/a")), "capture a"); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestCachedPrefersCache(t *testing.T) {
	cache := newBadger(t)
	origin := newFileBlob(t)
	c := &Cached{Cache: cache, Origin: origin}

	put(t, origin, "1/captures/a", []byte("origin"))
	put(t, cache, "1/captures/a", []byte("cache"))

	if diff := testutil.Diff(string(get(t, c, "1/captures/a")), "cache"); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestCachedNotFound(t *testing.T) {
	c := &Cached{Cache: newBadger(t), Origin: newFileBlob(t)}
	_, err := c.Get(context.Background(), "1/captures/missing")
	if !errors.Is(err, storageutil.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
