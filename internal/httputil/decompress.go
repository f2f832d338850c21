package httputil

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// DecompressPayload adds a reader of the right type in case you need to
// decompress the body. Producers upload captures brotli or lz4 compressed.
func DecompressPayload(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		switch r.Header.Get("Content-Encoding") {
		case "br":
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
			r.Header.Del("Content-Encoding")
		case "lz4":
			r.Body = io.NopCloser(lz4.NewReader(r.Body))
			r.Header.Del("Content-Encoding")
		}

		next.ServeHTTP(w, r)
	})
}
