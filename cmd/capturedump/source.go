package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/pierrec/lz4/v4"
)

// lz4 frame magic number, little-endian
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

func newHTTPClient(timeout time.Duration, retries int) *httpclient.Client {
	backoff := heimdall.NewConstantBackoff(200*time.Millisecond, 100*time.Millisecond)
	return httpclient.NewClient(
		httpclient.WithHTTPTimeout(timeout),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
		httpclient.WithRetryCount(retries),
	)
}

// readSource returns the capture stream at source: "-" for stdin, an
// http(s) URL or a file path. Streams stored lz4-compressed are
// decompressed.
func readSource(client heimdall.Doer, source string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case source == "-":
		data, err = io.ReadAll(os.Stdin)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, err = fetch(client, source)
	default:
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, lz4Magic) {
		return data, nil
	}
	data, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", source, err)
	}
	return data, nil
}

func fetch(client heimdall.Doer, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
