package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/chrometrace"
	"github.com/getsentry/vroom-capture/internal/speedscope"
)

func export(w io.Writer, g *capture.FrameGroup, source, format string) error {
	name := filepath.Base(source)
	var v interface{}
	switch format {
	case "speedscope":
		o, err := speedscope.FromCapture(name, g)
		if err != nil {
			return err
		}
		v = o
	case "chrome":
		v = chrometrace.FromCapture(name, g)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	return json.NewEncoder(w).Encode(v)
}
