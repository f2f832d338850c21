package capture

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/sample"
)

type (
	// Stats counts what happened to the records of a stream.
	Stats struct {
		Records int `json:"records"`
		Frames  int `json:"frames"`
		Skipped int `json:"skipped"`
		Ignored int `json:"ignored"`
	}

	// FrameGroup is a decoded capture: the board and everything recorded on
	// each of its threads.
	FrameGroup struct {
		Board   *board.Board  `json:"board"`
		Threads []*ThreadData `json:"threads"`
		Stats   Stats         `json:"stats"`
	}
)

func NewFrameGroup(b *board.Board) *FrameGroup {
	g := FrameGroup{
		Board:   b,
		Threads: make([]*ThreadData, 0, len(b.Threads)),
	}
	for i, t := range b.Threads {
		g.Threads = append(g.Threads, newThreadData(i, t))
	}
	return &g
}

// Thread returns the data of the thread at index.
func (g *FrameGroup) Thread(index int) (*ThreadData, error) {
	if _, err := g.Board.Thread(index); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return g.Threads[index], nil
}

// MainThread returns the main thread, or the first one when the producer
// didn't report it.
func (g *FrameGroup) MainThread() (*ThreadData, bool) {
	if len(g.Threads) == 0 {
		return nil, false
	}
	if g.Board.MainThreadIndex == board.NoMainThread {
		return g.Threads[0], true
	}
	return g.Threads[g.Board.MainThreadIndex], true
}

// Add inserts a frame on its thread, keeping the thread's frames ordered.
func (g *FrameGroup) Add(f *frame.EventFrame) error {
	td, err := g.Thread(f.ThreadIndex)
	if err != nil {
		return err
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	td.addEvent(f)
	return nil
}

func (g *FrameGroup) addSampling(f *sample.SamplingFrame) error {
	td, err := g.Thread(f.ThreadIndex)
	if err != nil {
		return err
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	td.addCallstacks(f.Callstacks)
	return nil
}

func (g *FrameGroup) addSynchronization(intervals []SyncInterval) {
	byThread := make(map[int][]SyncInterval)
	for _, s := range intervals {
		byThread[s.ThreadIndex] = append(byThread[s.ThreadIndex], s)
	}
	for i, intervals := range byThread {
		td := g.Threads[i]
		td.mu.Lock()
		td.addSynchronization(intervals)
		td.mu.Unlock()
	}
}

func (g *FrameGroup) addTags(tags []Tag) {
	byThread := make(map[int][]Tag)
	for _, t := range tags {
		byThread[t.ThreadIndex] = append(byThread[t.ThreadIndex], t)
	}
	for i, tags := range byThread {
		td := g.Threads[i]
		td.mu.Lock()
		td.addTags(tags)
		td.mu.Unlock()
	}
}

// MergeWith folds a fragment of the same capture into g. Threads are matched
// by thread id, unknown ones are added. Frames starting on a tick g already
// has a frame for are merged into that frame, others are inserted in order.
// Every touched thread drops what was built for it. The fragment's frames
// are moved into g and the fragment shouldn't be used afterwards.
//
// Fragment entries and tags are rebound to g's function descriptors so a
// function keeps a single row once aggregated. Functions past the end of
// g's table are appended to it. The merge fails without touching g when a
// function both tables share disagrees on its name or file.
func (g *FrameGroup) MergeWith(fragment *FrameGroup) error {
	rebind, err := g.functionMapping(fragment.Board)
	if err != nil {
		return err
	}
	for _, src := range fragment.Threads {
		index, ok := g.Board.ThreadIndex(src.Description.ThreadID)
		if !ok {
			index = g.Board.AddThread(src.Description)
			g.Threads = append(g.Threads, newThreadData(index, src.Description))
		}
		dst := g.Threads[index]

		src.mu.Lock()
		events := src.events
		callstacks := src.callstacks
		synchronization := src.synchronization
		tags := src.tags
		src.mu.Unlock()

		for _, f := range events {
			f.Rebind(rebind)
		}
		for i := range tags {
			tags[i].Description = rebind(tags[i].Description)
		}

		dst.mu.Lock()
		for _, f := range events {
			dst.addEvent(f)
		}
		dst.addCallstacks(callstacks)
		dst.addSynchronization(synchronization)
		dst.addTags(tags)
		dst.aggregation = nil
		dst.mu.Unlock()
	}
	g.Stats.Records += fragment.Stats.Records
	g.Stats.Frames += fragment.Stats.Frames
	g.Stats.Skipped += fragment.Stats.Skipped
	g.Stats.Ignored += fragment.Stats.Ignored
	return nil
}

// functionMapping checks the function table of b against g's and returns
// the descriptor of g standing for each descriptor of b. New functions are
// appended to g's table only once every shared one agreed.
func (g *FrameGroup) functionMapping(b *board.Board) (func(*board.FunctionDescriptor) *board.FunctionDescriptor, error) {
	mapping := make(map[*board.FunctionDescriptor]*board.FunctionDescriptor, len(b.Functions))
	shared := min(len(b.Functions), len(g.Board.Functions))
	for i, d := range b.Functions[:shared] {
		own := g.Board.Functions[i]
		if own.FullName != d.FullName || own.File != d.File {
			return nil, fmt.Errorf(
				"capture: merge: %w: function %d is %q in %q, fragment has %q in %q",
				errorutil.ErrInvariantViolation, i, own.FullName, own.File, d.FullName, d.File,
			)
		}
		mapping[d] = own
	}
	for _, d := range b.Functions[shared:] {
		mapping[d] = d
		g.Board.Functions = append(g.Board.Functions, d)
	}
	return func(d *board.FunctionDescriptor) *board.FunctionDescriptor {
		if own, ok := mapping[d]; ok {
			return own
		}
		return d
	}, nil
}

// BuildAll builds the call tree and aggregation of every frame, then the
// rollups and sampling trees of every thread, on up to numWorkers
// goroutines.
func (g *FrameGroup) BuildAll(ctx context.Context, numWorkers int) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(numWorkers, 1))
	for _, td := range g.Threads {
		for _, f := range td.Events() {
			f := f
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return f.BuildAggregation()
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	eg, gctx = errgroup.WithContext(ctx)
	eg.SetLimit(max(numWorkers, 1))
	for _, td := range g.Threads {
		td := td
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			td.BuildSamplingTree()
			return td.BuildAggregation()
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}
