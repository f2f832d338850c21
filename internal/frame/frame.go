package frame

import (
	"fmt"
	"sync"

	"github.com/getsentry/vroom-capture/internal/aggregate"
	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/nodetree"
	"github.com/getsentry/vroom-capture/internal/wire"
)

// NoFiber is the fiber index of a frame recorded outside of a fiber.
const NoFiber = -1

const minEntrySize = 8 + 8 + 4

type (
	Entry = nodetree.Entry

	// Aggregation is the per-function rollup of instrumented trees.
	Aggregation = aggregate.Board[*board.FunctionDescriptor]

	// EventFrame is one frame of instrumented scopes on a thread. The call
	// tree and the aggregation are built on demand, once, and dropped when
	// more data is merged in.
	EventFrame struct {
		ThreadIndex int               `json:"thread_index"`
		FiberIndex  int               `json:"fiber_index"`
		Interval    interval.Interval `json:"interval"`

		mu sync.Mutex

		wireEntries []Entry
		entries     []Entry
		categories  []Entry

		root        *nodetree.Node
		aggregation *Aggregation
	}
)

// Read decodes an EventFrame payload. Every description index is resolved
// against b.
func Read(r *wire.Reader, b *board.Board) (*EventFrame, error) {
	threadIndex, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("frame: thread index: %w", err)
	}
	if _, err := b.Thread(int(threadIndex)); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	f := EventFrame{
		ThreadIndex: int(threadIndex),
		FiberIndex:  NoFiber,
	}
	if r.Version >= wire.VersionFibers {
		fiberIndex, err := r.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("frame: fiber index: %w", err)
		}
		if fiberIndex != NoFiber {
			if _, err := b.Thread(int(fiberIndex)); err != nil {
				return nil, fmt.Errorf("frame: fiber: %w", err)
			}
		}
		f.FiberIndex = int(fiberIndex)
	}
	start, err := r.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("frame: interval: %w", err)
	}
	finish, err := r.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("frame: interval: %w", err)
	}
	f.Interval = interval.New(interval.Tick(start), interval.Tick(finish))

	if f.wireEntries, err = readEntries(r, b, "entries"); err != nil {
		return nil, err
	}
	if f.categories, err = readEntries(r, b, "categories"); err != nil {
		return nil, err
	}
	f.entries = sorted(f.wireEntries)
	interval.Sort(f.categories)
	return &f, nil
}

func readEntries(r *wire.Reader, b *board.Board, what string) ([]Entry, error) {
	n, err := r.ReadCount(minEntrySize, what)
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		start, err := r.ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("frame: %s %d: %w", what, i, err)
		}
		finish, err := r.ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("frame: %s %d: %w", what, i, err)
		}
		ref, err := r.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("frame: %s %d: %w", what, i, err)
		}
		d, err := b.Function(int(ref))
		if err != nil {
			return nil, fmt.Errorf("frame: %s %d: %w", what, i, err)
		}
		entries = append(entries, Entry{
			Interval:    interval.New(interval.Tick(start), interval.Tick(finish)),
			Description: d,
		})
	}
	return entries, nil
}

// New builds a frame from entries already decoded, in wire order.
func New(threadIndex int, bounds interval.Interval, entries, categories []Entry) *EventFrame {
	f := EventFrame{
		ThreadIndex: threadIndex,
		FiberIndex:  NoFiber,
		Interval:    bounds,
		wireEntries: entries,
		entries:     sorted(entries),
		categories:  append([]Entry(nil), categories...),
	}
	interval.Sort(f.categories)
	return &f
}

func sorted(entries []Entry) []Entry {
	s := make([]Entry, len(entries))
	copy(s, entries)
	interval.Sort(s)
	return s
}

func (f *EventFrame) Bounds() interval.Interval {
	return f.Interval
}

func (f *EventFrame) Duration() int64 {
	return f.Interval.Duration()
}

func (f *EventFrame) DurationMs(b *board.Board) float64 {
	return b.TicksToMs(f.Duration())
}

// Entries returns the entries in canonical order.
func (f *EventFrame) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries
}

// WireEntries returns the entries in the order the producer sent them.
func (f *EventFrame) WireEntries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wireEntries
}

func (f *EventFrame) Categories() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories
}

// BuildTree builds the call tree if it isn't already. Concurrent callers
// wait for the first build to finish.
func (f *EventFrame) BuildTree() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.buildTree()
	return err
}

func (f *EventFrame) buildTree() (*nodetree.Node, error) {
	if f.root != nil {
		return f.root, nil
	}
	root, err := nodetree.Build(f.Interval, f.entries)
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	f.root = root
	return root, nil
}

func (f *EventFrame) Root() (*nodetree.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == nil {
		return nil, fmt.Errorf("frame: call tree: %w", errorutil.ErrNotBuilt)
	}
	return f.root, nil
}

// BuildAggregation builds the call tree if needed, then its rollup.
func (f *EventFrame) BuildAggregation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aggregation != nil {
		return nil
	}
	root, err := f.buildTree()
	if err != nil {
		return err
	}
	f.aggregation = aggregate.Build(root, aggregate.ByDescription)
	return nil
}

func (f *EventFrame) Aggregation() (*Aggregation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aggregation == nil {
		return nil, fmt.Errorf("frame: aggregation: %w", errorutil.ErrNotBuilt)
	}
	return f.aggregation, nil
}

// MergeWith appends other's entries and categories to f, widens f's interval
// to cover both and drops whatever was built.
func (f *EventFrame) MergeWith(other *EventFrame) {
	other.mu.Lock()
	bounds := other.Interval
	entries := other.wireEntries
	categories := other.categories
	other.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Interval = f.Interval.Union(bounds)
	f.wireEntries = append(f.wireEntries[:len(f.wireEntries):len(f.wireEntries)], entries...)
	f.entries = sorted(f.wireEntries)
	f.categories = append(f.categories[:len(f.categories):len(f.categories)], categories...)
	interval.Sort(f.categories)
	f.root = nil
	f.aggregation = nil
}

// Rebind replaces the descriptor of every entry and category with what fn
// returns for it and drops whatever was built.
func (f *EventFrame) Rebind(fn func(*board.FunctionDescriptor) *board.FunctionDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entries := range [][]Entry{f.wireEntries, f.entries, f.categories} {
		for i := range entries {
			entries[i].Description = fn(entries[i].Description)
		}
	}
	f.root = nil
	f.aggregation = nil
}

// Write encodes the frame in the layout Read expects. Descriptors are
// written by id.
func (f *EventFrame) Write(w *wire.Writer) {
	w.WriteInt32(int32(f.ThreadIndex))
	if w.Version >= wire.VersionFibers {
		w.WriteInt32(int32(f.FiberIndex))
	}
	w.WriteInt64(int64(f.Interval.Start))
	w.WriteInt64(int64(f.Interval.Finish))
	for _, entries := range [][]Entry{f.wireEntries, f.categories} {
		w.WriteInt32(int32(len(entries)))
		for _, e := range entries {
			w.WriteInt64(int64(e.Start))
			w.WriteInt64(int64(e.Finish))
			w.WriteInt32(int32(e.Description.ID))
		}
	}
}
