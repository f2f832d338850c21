package capture

import (
	"fmt"
	"sort"
	"sync"

	"github.com/getsentry/vroom-capture/internal/aggregate"
	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/nodetree"
	"github.com/getsentry/vroom-capture/internal/sample"
)

type (
	// SamplingAggregation is the rollup of a sampled tree. Sampled symbols
	// are grouped by name and file since addresses aren't stable.
	SamplingAggregation = aggregate.Board[aggregate.NameFile]

	// ThreadData holds everything recorded for one thread. Events,
	// synchronization intervals and tags are kept ordered by start.
	ThreadData struct {
		Index       int                     `json:"index"`
		Description *board.ThreadDescriptor `json:"description"`

		mu sync.Mutex

		events          []*frame.EventFrame
		callstacks      []sample.Callstack
		synchronization []SyncInterval
		tags            []Tag

		samplingTree        *nodetree.Node
		samplingAggregation *SamplingAggregation
		aggregation         *frame.Aggregation
	}
)

func newThreadData(index int, d *board.ThreadDescriptor) *ThreadData {
	return &ThreadData{Index: index, Description: d}
}

func (td *ThreadData) Events() []*frame.EventFrame {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.events
}

func (td *ThreadData) Callstacks() []sample.Callstack {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.callstacks
}

func (td *ThreadData) Synchronization() []SyncInterval {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.synchronization
}

func (td *ThreadData) Tags() []Tag {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.tags
}

// addEvent inserts f in start order. A frame starting on the same tick as
// one already known is a continuation of it and gets merged into it.
func (td *ThreadData) addEvent(f *frame.EventFrame) {
	f.ThreadIndex = td.Index
	i := sort.Search(len(td.events), func(i int) bool {
		return td.events[i].Interval.Start >= f.Interval.Start
	})
	if i < len(td.events) && td.events[i].Interval.Start == f.Interval.Start {
		td.events[i].MergeWith(f)
	} else {
		td.events = append(td.events, nil)
		copy(td.events[i+1:], td.events[i:])
		td.events[i] = f
	}
	td.aggregation = nil
}

func (td *ThreadData) addCallstacks(stacks []sample.Callstack) {
	td.callstacks = append(td.callstacks, stacks...)
	td.samplingTree = nil
	td.samplingAggregation = nil
}

func (td *ThreadData) addSynchronization(intervals []SyncInterval) {
	for _, s := range intervals {
		s.ThreadIndex = td.Index
		td.synchronization = append(td.synchronization, s)
	}
	interval.Sort(td.synchronization)
}

func (td *ThreadData) addTags(tags []Tag) {
	for _, t := range tags {
		t.ThreadIndex = td.Index
		td.tags = append(td.tags, t)
	}
	sort.SliceStable(td.tags, func(i, j int) bool {
		return td.tags[i].Time < td.tags[j].Time
	})
}

// EventsInRange returns the frames intersecting [lo, hi].
func (td *ThreadData) EventsInRange(lo, hi interval.Tick) []*frame.EventFrame {
	td.mu.Lock()
	defer td.mu.Unlock()
	return interval.InRange(td.events, lo, hi)
}

// EventAt returns the frame containing t.
func (td *ThreadData) EventAt(t interval.Tick) (*frame.EventFrame, bool) {
	td.mu.Lock()
	defer td.mu.Unlock()
	i := interval.ExactIndex(td.events, t)
	if i == interval.NotFound {
		return nil, false
	}
	return td.events[i], true
}

// SynchronizationAt returns the interval the thread was scheduled in at t.
func (td *ThreadData) SynchronizationAt(t interval.Tick) (SyncInterval, bool) {
	td.mu.Lock()
	defer td.mu.Unlock()
	i := interval.ExactIndex(td.synchronization, t)
	if i == interval.NotFound {
		return SyncInterval{}, false
	}
	return td.synchronization[i], true
}

func (td *ThreadData) TagsInRange(lo, hi interval.Tick) []Tag {
	td.mu.Lock()
	defer td.mu.Unlock()
	return interval.InRange(td.tags, lo, hi)
}

// BuildSamplingTree merges the thread's call-stacks into a tree and rolls it
// up, once.
func (td *ThreadData) BuildSamplingTree() {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.samplingTree != nil {
		return
	}
	td.samplingTree = sample.Merge(td.callstacks)
	td.samplingAggregation = aggregate.Build(td.samplingTree, aggregate.ByNameFile)
}

func (td *ThreadData) SamplingTree() (*nodetree.Node, error) {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.samplingTree == nil {
		return nil, fmt.Errorf("capture: sampling tree: %w", errorutil.ErrNotBuilt)
	}
	return td.samplingTree, nil
}

func (td *ThreadData) SamplingAggregation() (*SamplingAggregation, error) {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.samplingAggregation == nil {
		return nil, fmt.Errorf("capture: sampling aggregation: %w", errorutil.ErrNotBuilt)
	}
	return td.samplingAggregation, nil
}

// BuildAggregation builds the aggregation of every frame of the thread and
// merges them, in frame order.
func (td *ThreadData) BuildAggregation() error {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.aggregation != nil {
		return nil
	}
	agg := aggregate.New[*board.FunctionDescriptor]()
	for _, f := range td.events {
		if err := f.BuildAggregation(); err != nil {
			return fmt.Errorf("capture: thread %d: %w", td.Index, err)
		}
		frameAgg, err := f.Aggregation()
		if err != nil {
			return fmt.Errorf("capture: thread %d: %w", td.Index, err)
		}
		agg.Merge(frameAgg)
	}
	td.aggregation = agg
	return nil
}

func (td *ThreadData) Aggregation() (*frame.Aggregation, error) {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.aggregation == nil {
		return nil, fmt.Errorf("capture: aggregation: %w", errorutil.ErrNotBuilt)
	}
	return td.aggregation, nil
}
