package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/chrometrace"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/sample"
	"github.com/getsentry/vroom-capture/internal/speedscope"
	"github.com/getsentry/vroom-capture/internal/testutil"
	"github.com/getsentry/vroom-capture/internal/wire"
)

func testCapture(t *testing.T) []byte {
	t.Helper()
	b := &board.Board{
		Frequency:       1000,
		TimeSlice:       interval.New(0, 500),
		MainThreadIndex: 0,
		Threads:         []*board.ThreadDescriptor{{ThreadID: 1, Name: "Main"}},
	}
	for i, name := range []string{"Update", "Physics"} {
		b.Functions = append(b.Functions, board.NewFunctionDescriptor(uint32(i), name, "src/game.cpp", int32(i+1), 0))
	}
	var buf bytes.Buffer
	enc := capture.NewEncoder(&buf, wire.MaxVersion)
	for _, err := range []error{
		enc.WriteBoard(b),
		enc.WriteEvent(frame.New(0, interval.New(0, 100), []frame.Entry{
			{Interval: interval.New(0, 100), Description: b.Functions[0]},
			{Interval: interval.New(10, 40), Description: b.Functions[1]},
		}, nil)),
		enc.WriteSampling(&sample.SamplingFrame{
			Symbols:    []sample.Symbol{{Address: 1, Name: "main"}, {Address: 2, Name: "Update"}},
			Callstacks: []sample.Callstack{{{Address: 1}, {Address: 2}}, {{Address: 1}, {Address: 2}}},
		}),
	} {
		if err != nil {
			t.Fatalf("couldn't encode capture: %v", err)
		}
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	path := writeFile(t, "capture.bin", testCapture(t))
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "tree",
			args: []string{"tree", path},
			want: "frame [0, 100] 100.000ms\nUpdate total=100.000ms self=70.000ms\n  Physics total=30.000ms self=30.000ms\n",
		},
		{
			name: "collapsed tree",
			args: []string{"tree", "--collapse", path},
			want: "Update 70\nUpdate;Physics 30\n",
		},
		{
			name: "collapsed sampling",
			args: []string{"sampling", "--collapse", path},
			want: "main;Update 2\n",
		},
		{
			name: "sampling without skipping",
			args: []string{"sampling", "--skip", "0", path},
			want: "2 samples\nmain passed=2 sampled=0\n  Update passed=2 sampled=2\n",
		},
		{
			name: "sampling",
			args: []string{"sampling", path},
			want: "2 samples\nUpdate passed=2 sampled=2\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := testutil.Diff(run(t, tt.args...), tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestFunctions(t *testing.T) {
	path := writeFile(t, "capture.bin", testCapture(t))
	out := run(t, "functions", "--sort", "self", path)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header and 2 rows, got %q", out)
	}
	if !strings.HasPrefix(lines[1], "Update") || !strings.Contains(lines[1], "70.000ms") || !strings.HasSuffix(lines[1], "game.cpp") {
		t.Fatalf("unexpected first row: %q", lines[1])
	}

	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"functions", "--sort", "name", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an unknown sort")
	}
}

func TestCompressedAndRemoteSources(t *testing.T) {
	compressed := compress(t, testCapture(t))
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the first attempt fails to exercise retries
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(compressed)
	}))
	defer server.Close()

	want := run(t, "info", writeFile(t, "capture.bin", testCapture(t)))
	if !strings.Contains(want, "Main (main)") {
		t.Fatalf("unexpected info output: %q", want)
	}
	for _, source := range []string{
		writeFile(t, "capture.bin.lz4", compressed),
		server.URL + "/capture",
	} {
		if diff := testutil.Diff(run(t, "info", source), want); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
	}
}

func TestMissingSource(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"info", filepath.Join(t.TempDir(), "missing")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error")
	}
}

func TestExport(t *testing.T) {
	path := writeFile(t, "capture.bin", testCapture(t))

	var o speedscope.Output
	if err := json.Unmarshal([]byte(run(t, "export", path)), &o); err != nil {
		t.Fatalf("couldn't decode speedscope output: %v", err)
	}
	if o.CaptureID != "capture.bin" || len(o.Profiles) != 2 {
		t.Fatalf("unexpected speedscope output: %+v", o)
	}

	var trace chrometrace.Trace
	if err := json.Unmarshal([]byte(run(t, "export", "--format", "chrome", path)), &trace); err != nil {
		t.Fatalf("couldn't decode chrome trace: %v", err)
	}
	var complete int
	for _, e := range trace.TraceEvents {
		if e.Phase == "X" {
			complete++
		}
	}
	if complete != 2 {
		t.Fatalf("expected 2 complete events, got %d", complete)
	}

	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", "--format", "pprof", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}
