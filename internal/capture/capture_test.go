package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/sample"
	"github.com/getsentry/vroom-capture/internal/testutil"
	"github.com/getsentry/vroom-capture/internal/wire"
)

func testBoard() *board.Board {
	b := &board.Board{
		Frequency:       1000,
		TimeSlice:       interval.New(0, 1000),
		MainThreadIndex: 0,
		Threads: []*board.ThreadDescriptor{
			{ThreadID: 100, Name: "Main"},
			{ThreadID: 200, Name: "Render"},
		},
	}
	for i, name := range []string{"Update", "Physics", "Draw", "Wait"} {
		b.Functions = append(b.Functions, board.NewFunctionDescriptor(uint32(i), name, "game.cpp", int32(i+1), 0))
	}
	return b
}

func entry(b *board.Board, start, finish interval.Tick, ref int) frame.Entry {
	return frame.Entry{Interval: interval.New(start, finish), Description: b.Functions[ref]}
}

type stream struct {
	t   *testing.T
	b   *board.Board
	buf bytes.Buffer
	enc *Encoder
}

func newStream(t *testing.T) *stream {
	s := &stream{t: t, b: testBoard()}
	s.enc = NewEncoder(&s.buf, wire.MaxVersion)
	s.check(s.enc.WriteBoard(s.b))
	return s
}

func (s *stream) check(err error) {
	s.t.Helper()
	if err != nil {
		s.t.Fatalf("unexpected error: %v", err)
	}
}

func (s *stream) event(thread int, bounds interval.Interval, entries ...frame.Entry) {
	s.t.Helper()
	s.check(s.enc.WriteEvent(frame.New(thread, bounds, entries, nil)))
}

// standard writes two frames on the main thread, one on the render thread,
// samples, synchronization and tags.
func (s *stream) standard() {
	b := s.b
	s.event(0, interval.New(100, 200), entry(b, 100, 200, 0), entry(b, 110, 150, 1))
	s.event(1, interval.New(105, 190), entry(b, 105, 190, 2))
	s.event(0, interval.New(0, 90), entry(b, 0, 90, 0), entry(b, 10, 40, 1), entry(b, 20, 30, 3))
	s.check(s.enc.WriteSampling(&sample.SamplingFrame{
		ThreadIndex: 0,
		Symbols: []sample.Symbol{
			{Address: 1, Name: "main", File: "main.cpp", Line: 1},
			{Address: 2, Name: "Update", File: "game.cpp", Line: 1},
		},
		Callstacks: []sample.Callstack{
			{{Address: 1}, {Address: 2}},
			{{Address: 1}, {Address: 2}},
			{{Address: 1}},
		},
	}))
	s.check(s.enc.WriteSynchronization([]SyncInterval{
		{Interval: interval.New(50, 120), ThreadIndex: 0, Core: 1},
		{Interval: interval.New(0, 40), ThreadIndex: 0, Core: 0},
		{Interval: interval.New(0, 200), ThreadIndex: 1, Core: 2},
	}))
	s.check(s.enc.WriteTags([]Tag{
		{Time: 120, Description: b.Functions[1], ThreadIndex: 0, Kind: TagString, String: "level 1"},
		{Time: 15, Description: b.Functions[1], ThreadIndex: 0, Kind: TagInt32, Int: -3},
		{Time: 150, Description: b.Functions[2], ThreadIndex: 1, Kind: TagFloat32, Float: 0.5},
	}))
}

func (s *stream) decode(opts Options) (*FrameGroup, error) {
	return Decode(context.Background(), bytes.NewReader(s.buf.Bytes()), opts)
}

func starts(events []*frame.EventFrame) []interval.Tick {
	var out []interval.Tick
	for _, f := range events {
		out = append(out, f.Interval.Start)
	}
	return out
}

func TestDecode(t *testing.T) {
	s := newStream(t)
	s.standard()
	g, err := s.decode(Options{NumWorkers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Stats{Records: 7, Frames: 4}
	if diff := testutil.Diff(g.Stats, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	main, ok := g.MainThread()
	if !ok || main.Description.Name != "Main" {
		t.Fatalf("unexpected main thread: %+v", main)
	}
	if diff := testutil.Diff(starts(main.Events()), []interval.Tick{0, 100}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if got := len(main.Callstacks()); got != 3 {
		t.Fatalf("got %d callstacks, want 3", got)
	}

	sync, ok := main.SynchronizationAt(60)
	if !ok || sync.Core != 1 {
		t.Fatalf("unexpected synchronization: %+v", sync)
	}
	if _, ok := main.SynchronizationAt(45); ok {
		t.Fatal("expected no synchronization at 45")
	}
	tags := main.TagsInRange(0, 130)
	if len(tags) != 2 || tags[0].Value() != int32(-3) || tags[1].Value() != "level 1" {
		t.Fatalf("unexpected tags: %+v", tags)
	}

	render, err := g.Thread(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := render.Tags(); len(got) != 1 || got[0].Float != 0.5 {
		t.Fatalf("unexpected tags: %+v", got)
	}
	if _, err := g.Thread(2); !errors.Is(err, wire.ErrOutOfRangeReference) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestDecodeSkipsMalformedRecords(t *testing.T) {
	s := newStream(t)
	s.event(0, interval.New(0, 10), entry(s.b, 0, 10, 0))
	// references a function that doesn't exist
	w := wire.NewWriter(wire.MaxVersion)
	frame.New(0, interval.New(20, 30), []frame.Entry{
		{Interval: interval.New(20, 30), Description: board.NewFunctionDescriptor(42, "Ghost", "", 0, 0)},
	}, nil).Write(w)
	s.check(s.enc.WriteRecord(wire.RecordEventFrame, w.Bytes()))
	// too short for its own content
	s.check(s.enc.WriteRecord(wire.RecordEventFrame, []byte{0, 0, 0, 0, 1}))
	// unsupported version
	s.check(wire.WriteRecord(&s.buf, wire.MaxVersion+1, wire.RecordEventFrame, w.Bytes()))
	// unknown record type
	s.check(s.enc.WriteRecord(wire.RecordType(99), []byte{1, 2, 3}))
	s.event(0, interval.New(40, 50), entry(s.b, 40, 50, 1))

	g, err := s.decode(Options{NumWorkers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Stats{Records: 7, Frames: 2, Skipped: 3, Ignored: 1}
	if diff := testutil.Diff(g.Stats, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(starts(g.Threads[0].Events()), []interval.Tick{0, 40}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestDecodeAborts(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *stream) []byte
		want  error
	}{
		{
			name:  "empty stream",
			build: func(s *stream) []byte { return nil },
			want:  ErrNoBoard,
		},
		{
			name: "frame before the board",
			build: func(s *stream) []byte {
				var buf bytes.Buffer
				enc := NewEncoder(&buf, wire.MaxVersion)
				s.check(enc.WriteEvent(frame.New(0, interval.New(0, 1), nil, nil)))
				return buf.Bytes()
			},
			want: ErrNoBoard,
		},
		{
			name: "truncated payload",
			build: func(s *stream) []byte {
				s.standard()
				data := s.buf.Bytes()
				return data[:len(data)-3]
			},
			want: wire.ErrTruncated,
		},
		{
			name: "truncated header",
			build: func(s *stream) []byte {
				s.standard()
				return append(s.buf.Bytes(), 1, 0, 0, 0, 1)
			},
			want: wire.ErrTruncated,
		},
		{
			name: "oversized length",
			build: func(s *stream) []byte {
				s.standard()
				return append(s.buf.Bytes(), 20, 0, 0, 0, 1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff)
			},
			want: wire.ErrBadLength,
		},
		{
			name: "unsupported board version",
			build: func(s *stream) []byte {
				var buf bytes.Buffer
				w := wire.NewWriter(wire.MaxVersion)
				s.b.Write(w)
				s.check(wire.WriteRecord(&buf, wire.MinVersion-1, wire.RecordDescriptionBoard, w.Bytes()))
				return buf.Bytes()
			},
			want: wire.ErrUnsupportedVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStream(t)
			data := tt.build(s)
			_, err := Decode(context.Background(), bytes.NewReader(data), Options{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, errorutil.ErrDataIntegrity) {
				t.Fatalf("expected a data integrity error, got %v", err)
			}
		})
	}
}

func TestDecodeCanceled(t *testing.T) {
	s := newStream(t)
	s.standard()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Decode(ctx, bytes.NewReader(s.buf.Bytes()), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

type flatRow struct {
	Name  string
	Count int64
	Total int64
	Self  int64
}

func flattenRows(agg *frame.Aggregation) []flatRow {
	var out []flatRow
	for _, r := range agg.Rows() {
		out = append(out, flatRow{Name: r.Description.Name, Count: r.Count, Total: r.Total, Self: r.Self})
	}
	return out
}

func TestParallelDecodeIsEquivalent(t *testing.T) {
	s := newStream(t)
	for i := 0; i < 50; i++ {
		start := interval.Tick(i * 100)
		s.event(i%2, interval.New(start, start+90),
			entry(s.b, start, start+90, 0),
			entry(s.b, start+10, start+50, 1),
			entry(s.b, start+20, start+30, 3),
		)
	}
	sequential, err := s.decode(Options{NumWorkers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parallel, err := s.decode(Options{NumWorkers: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, g := range []*FrameGroup{sequential, parallel} {
		if err := g.BuildAll(context.Background(), 4); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for i := range sequential.Threads {
		want, err := sequential.Threads[i].Aggregation()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := parallel.Threads[i].Aggregation()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := testutil.Diff(flattenRows(got), flattenRows(want)); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
		if diff := testutil.Diff(starts(parallel.Threads[i].Events()), starts(sequential.Threads[i].Events())); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
	}
}

func TestThreadBuilds(t *testing.T) {
	s := newStream(t)
	s.standard()
	g, err := s.decode(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	main := g.Threads[0]
	if _, err := main.Aggregation(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("expected not built, got %v", err)
	}
	if _, err := main.SamplingTree(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("expected not built, got %v", err)
	}
	if err := g.BuildAll(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	agg, err := main.Aggregation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []flatRow{
		{Name: "Update", Count: 2, Total: 190, Self: 120},
		{Name: "Physics", Count: 2, Total: 70, Self: 60},
		{Name: "Wait", Count: 1, Total: 10, Self: 10},
	}
	if diff := testutil.Diff(flattenRows(agg), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	root, err := main.SamplingTree()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Passed != 3 || root.Children[0].Sampled != 1 || root.Children[0].Children[0].Sampled != 2 {
		t.Fatalf("unexpected sampling tree: %+v", root)
	}
	sampled, err := main.SamplingAggregation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sampled.Len() != 2 {
		t.Fatalf("got %d rows, want 2", sampled.Len())
	}

	inRange := main.EventsInRange(95, 300)
	if diff := testutil.Diff(starts(inRange), []interval.Tick{100}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if f, ok := main.EventAt(50); !ok || f.Interval.Start != 0 {
		t.Fatalf("unexpected frame at 50: %+v", f)
	}
}

func TestMergeWith(t *testing.T) {
	s := newStream(t)
	s.standard()
	g, err := s.decode(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.BuildAll(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the next chunk of a live capture: continues the frame at 100 on the
	// main thread, adds a later one and a thread that started meanwhile
	chunk := newStream(t)
	chunk.b.Threads = append(chunk.b.Threads, &board.ThreadDescriptor{ThreadID: 300, Name: "Audio"})
	chunk.enc = NewEncoder(&chunk.buf, wire.MaxVersion)
	chunk.buf.Reset()
	chunk.check(chunk.enc.WriteBoard(chunk.b))
	chunk.event(0, interval.New(100, 260), entry(chunk.b, 200, 260, 2))
	chunk.event(0, interval.New(300, 400), entry(chunk.b, 300, 400, 0))
	chunk.event(2, interval.New(0, 50), entry(chunk.b, 0, 50, 3))
	chunk.check(chunk.enc.WriteTags([]Tag{
		{Time: 320, Description: chunk.b.Functions[0], ThreadIndex: 0, Kind: TagInt32, Int: 7},
	}))
	fragment, err := chunk.decode(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := g.MergeWith(fragment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	main := g.Threads[0]
	if _, err := main.Aggregation(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("merge should drop the thread aggregation, got %v", err)
	}
	if diff := testutil.Diff(starts(main.Events()), []interval.Tick{0, 100, 300}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	merged := main.Events()[1]
	if merged.Interval != interval.New(100, 260) {
		t.Fatalf("got interval %+v, want [100, 260]", merged.Interval)
	}
	if _, err := merged.Root(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("merge should drop the frame tree, got %v", err)
	}
	if got := len(merged.Entries()); got != 3 {
		t.Fatalf("got %d entries, want 3", got)
	}

	if len(g.Threads) != 3 || g.Threads[2].Description.Name != "Audio" {
		t.Fatalf("expected the audio thread to be added, got %d threads", len(g.Threads))
	}
	if i, ok := g.Board.ThreadIndex(300); !ok || i != 2 {
		t.Fatalf("got index %d (%v), want 2", i, ok)
	}

	if err := g.BuildAll(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agg, err := main.Aggregation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the fragment's Update lands on the same row as the capture's own
	row, ok := agg.Row(g.Board.Functions[0])
	if !ok || row.Count != 3 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if agg.Len() != 4 {
		t.Fatalf("got %d rows, want 4", agg.Len())
	}
	for _, e := range merged.Entries() {
		if e.Description != g.Board.Functions[e.Description.ID] {
			t.Fatalf("entry %q still points at the fragment's descriptor", e.Description.Name)
		}
	}
	for _, tag := range g.Threads[0].Tags() {
		if tag.Description != g.Board.Functions[tag.Description.ID] {
			t.Fatalf("tag %q still points at the fragment's descriptor", tag.Description.Name)
		}
	}
}

func TestMergeWithFunctionTables(t *testing.T) {
	tests := []struct {
		name      string
		functions []string
		wantErr   error
		want      []string
	}{
		{
			name:      "same table",
			functions: []string{"Update", "Physics", "Draw", "Wait"},
			want:      []string{"Update", "Physics", "Draw", "Wait"},
		},
		{
			name:      "prefix",
			functions: []string{"Update", "Physics"},
			want:      []string{"Update", "Physics", "Draw", "Wait"},
		},
		{
			name:      "grown table",
			functions: []string{"Update", "Physics", "Draw", "Wait", "Audio"},
			want:      []string{"Update", "Physics", "Draw", "Wait", "Audio"},
		},
		{
			name:      "disagreeing table",
			functions: []string{"Update", "Render"},
			wantErr:   errorutil.ErrInvariantViolation,
			want:      []string{"Update", "Physics", "Draw", "Wait"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStream(t)
			s.standard()
			g, err := s.decode(Options{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			before := len(g.Threads[0].Events())

			chunk := newStream(t)
			chunk.b.Functions = nil
			for i, name := range tt.functions {
				chunk.b.Functions = append(chunk.b.Functions, board.NewFunctionDescriptor(uint32(i), name, "game.cpp", int32(i+1), 0))
			}
			chunk.enc = NewEncoder(&chunk.buf, wire.MaxVersion)
			chunk.buf.Reset()
			chunk.check(chunk.enc.WriteBoard(chunk.b))
			chunk.event(0, interval.New(500, 600), entry(chunk.b, 500, 600, len(tt.functions)-1))
			fragment, err := chunk.decode(Options{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			err = g.MergeWith(fragment)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
			var got []string
			for _, d := range g.Board.Functions {
				got = append(got, d.Name)
			}
			if diff := testutil.Diff(got, tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
			events := g.Threads[0].Events()
			if tt.wantErr != nil {
				if len(events) != before {
					t.Fatalf("a failed merge added frames: got %d, want %d", len(events), before)
				}
				return
			}
			last := events[len(events)-1].Entries()[0].Description
			if last != g.Board.Functions[len(tt.functions)-1] {
				t.Fatalf("entry %q isn't bound to the capture's table", last.Name)
			}
		})
	}
}
