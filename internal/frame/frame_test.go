package frame

import (
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/testutil"
	"github.com/getsentry/vroom-capture/internal/wire"
)

func testBoard() *board.Board {
	b := &board.Board{
		Frequency:       1000,
		TimeSlice:       interval.New(0, 1000),
		MainThreadIndex: 0,
		Threads:         []*board.ThreadDescriptor{{ThreadID: 1, Name: "Main"}},
	}
	for i, name := range []string{"A", "B", "C"} {
		b.Functions = append(b.Functions, board.NewFunctionDescriptor(uint32(i), name, "", 0, 0))
	}
	return b
}

// decode round trips b through the wire so descriptors are resolved by the
// decoded board.
func decode(t *testing.T, b *board.Board, f *EventFrame) (*board.Board, *EventFrame) {
	t.Helper()
	w := wire.NewWriter(wire.MaxVersion)
	b.Write(w)
	decodedBoard, err := board.Read(wire.NewReader(w.Bytes(), wire.MaxVersion))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w = wire.NewWriter(wire.MaxVersion)
	f.Write(w)
	decoded, err := Read(wire.NewReader(w.Bytes(), wire.MaxVersion), decodedBoard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return decodedBoard, decoded
}

func names(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Description.Name)
	}
	return out
}

func TestReadSortsEntries(t *testing.T) {
	b := testBoard()
	f := New(0, interval.New(0, 10), []Entry{
		{Interval: interval.New(2, 4), Description: b.Functions[2]},
		{Interval: interval.New(0, 10), Description: b.Functions[0]},
		{Interval: interval.New(2, 5), Description: b.Functions[1]},
	}, nil)
	_, got := decode(t, b, f)
	if diff := testutil.Diff(names(got.WireEntries()), []string{"C", "A", "B"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(names(got.Entries()), []string{"A", "B", "C"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if got.FiberIndex != NoFiber || got.Interval != interval.New(0, 10) {
		t.Fatalf("unexpected frame header: %+v", got)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  func(b *board.Board) *EventFrame
		want   error
		cutEnd int
	}{
		{
			name: "unknown thread",
			frame: func(b *board.Board) *EventFrame {
				return New(4, interval.New(0, 10), nil, nil)
			},
			want: wire.ErrOutOfRangeReference,
		},
		{
			name: "unknown description",
			frame: func(b *board.Board) *EventFrame {
				d := board.NewFunctionDescriptor(9, "X", "", 0, 0)
				return New(0, interval.New(0, 10), []Entry{{Interval: interval.New(0, 1), Description: d}}, nil)
			},
			want: wire.ErrOutOfRangeReference,
		},
		{
			name: "truncated entry",
			frame: func(b *board.Board) *EventFrame {
				return New(0, interval.New(0, 10), []Entry{
					{Interval: interval.New(0, 1), Description: b.Functions[0]},
					{Interval: interval.New(1, 2), Description: b.Functions[0]},
				}, nil)
			},
			// drops the categories count and half of the last description index
			cutEnd: 6,
			want:   wire.ErrTruncated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBoard()
			w := wire.NewWriter(wire.MaxVersion)
			tt.frame(b).Write(w)
			data := w.Bytes()
			data = data[:len(data)-tt.cutEnd]
			_, err := Read(wire.NewReader(data, wire.MaxVersion), b)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, errorutil.ErrDataIntegrity) {
				t.Fatalf("expected a data integrity error, got %v", err)
			}
		})
	}
}

func TestTwoPhaseAccess(t *testing.T) {
	b := testBoard()
	f := New(0, interval.New(0, 10), []Entry{
		{Interval: interval.New(0, 10), Description: b.Functions[0]},
		{Interval: interval.New(2, 5), Description: b.Functions[1]},
	}, nil)
	if _, err := f.Root(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("expected not built, got %v", err)
	}
	if _, err := f.Aggregation(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("expected not built, got %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.BuildAggregation(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	root, err := f.Root()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].SelfDuration() != 7 {
		t.Fatalf("unexpected tree: %+v", root.Children)
	}
	again, _ := f.Root()
	if again != root {
		t.Fatal("expected the cached tree")
	}
	agg, err := f.Aggregation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Len() != 2 {
		t.Fatalf("got %d rows, want 2", agg.Len())
	}
}

func TestBuildTreeInvariantViolation(t *testing.T) {
	b := testBoard()
	f := New(0, interval.New(0, 10), []Entry{
		{Interval: interval.New(5, 1), Description: b.Functions[0]},
	}, nil)
	if err := f.BuildTree(); !errors.Is(err, errorutil.ErrInvariantViolation) {
		t.Fatalf("expected an invariant violation, got %v", err)
	}
	if _, err := f.Root(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("expected not built, got %v", err)
	}
}

func TestMergeWith(t *testing.T) {
	b := testBoard()
	f := New(0, interval.New(0, 10), []Entry{
		{Interval: interval.New(0, 10), Description: b.Functions[0]},
	}, nil)
	if err := f.BuildAggregation(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := New(0, interval.New(5, 20), []Entry{
		{Interval: interval.New(12, 18), Description: b.Functions[2]},
		{Interval: interval.New(2, 4), Description: b.Functions[1]},
	}, []Entry{
		{Interval: interval.New(0, 20), Description: b.Functions[0]},
	})
	f.MergeWith(other)

	if f.Interval != interval.New(0, 20) {
		t.Fatalf("got interval %+v, want [0, 20]", f.Interval)
	}
	if _, err := f.Root(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("merge should drop the cached tree, got %v", err)
	}
	if _, err := f.Aggregation(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("merge should drop the cached aggregation, got %v", err)
	}
	if diff := testutil.Diff(names(f.Entries()), []string{"A", "B", "C"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if len(f.Categories()) != 1 {
		t.Fatalf("got %d categories, want 1", len(f.Categories()))
	}
	if len(other.WireEntries()) != 2 {
		t.Fatal("merge should not touch the other frame")
	}
	if f.DurationMs(b) != 20 {
		t.Fatalf("got %v ms, want 20", f.DurationMs(b))
	}
}

func TestRebind(t *testing.T) {
	b := testBoard()
	other := testBoard()
	f := New(0, interval.New(0, 20), []Entry{
		{Interval: interval.New(0, 20), Description: other.Functions[0]},
		{Interval: interval.New(2, 4), Description: other.Functions[1]},
	}, []Entry{
		{Interval: interval.New(0, 10), Description: other.Functions[2]},
	})
	if err := f.BuildAggregation(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Rebind(func(d *board.FunctionDescriptor) *board.FunctionDescriptor {
		return b.Functions[d.ID]
	})

	if _, err := f.Aggregation(); !errors.Is(err, errorutil.ErrNotBuilt) {
		t.Fatalf("rebind should drop the cached aggregation, got %v", err)
	}
	for _, entries := range [][]Entry{f.WireEntries(), f.Entries(), f.Categories()} {
		for _, e := range entries {
			if e.Description != b.Functions[e.Description.ID] {
				t.Fatalf("%q wasn't rebound", e.Description.Name)
			}
		}
	}
	if err := f.BuildAggregation(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agg, err := f.Aggregation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := agg.Row(b.Functions[0]); !ok {
		t.Fatal("expected a row keyed by the rebound descriptor")
	}
}
