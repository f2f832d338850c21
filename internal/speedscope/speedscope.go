package speedscope

import (
	"fmt"
	"sort"

	"github.com/getsentry/vroom-capture/internal/aggregate"
	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/nodetree"
)

const (
	ValueUnitNanoseconds ValueUnit = "nanoseconds"
	ValueUnitCount       ValueUnit = "count"

	EventTypeOpenFrame  EventType = "O"
	EventTypeCloseFrame EventType = "C"

	ProfileTypeEvented ProfileType = "evented"
	ProfileTypeSampled ProfileType = "sampled"
)

type (
	Frame struct {
		File  string `json:"file,omitempty"`
		Image string `json:"image,omitempty"`
		Line  int32  `json:"line,omitempty"`
		Name  string `json:"name"`
	}

	Event struct {
		Type  EventType `json:"type"`
		Frame int       `json:"frame"`
		At    int64     `json:"at"`
	}

	EventedProfile struct {
		EndValue     int64       `json:"endValue"`
		Events       []Event     `json:"events"`
		IsMainThread bool        `json:"isMainThread"`
		Name         string      `json:"name"`
		StartValue   int64       `json:"startValue"`
		ThreadID     uint64      `json:"threadID"`
		Type         ProfileType `json:"type"`
		Unit         ValueUnit   `json:"unit"`
	}

	SampledProfile struct {
		EndValue     int64       `json:"endValue"`
		IsMainThread bool        `json:"isMainThread"`
		Name         string      `json:"name"`
		Samples      [][]int     `json:"samples"`
		StartValue   int64       `json:"startValue"`
		ThreadID     uint64      `json:"threadID"`
		Type         ProfileType `json:"type"`
		Unit         ValueUnit   `json:"unit"`
		Weights      []int64     `json:"weights"`

		// SamplesCaptures lists, for each sample, the indices in
		// SharedData.CaptureIDs of the captures it was seen in.
		SamplesCaptures [][]int `json:"samples_captures,omitempty"`
	}

	SharedData struct {
		Frames     []Frame  `json:"frames"`
		CaptureIDs []string `json:"capture_ids,omitempty"`
	}

	EventType   string
	ProfileType string
	ValueUnit   string

	Output struct {
		ActiveProfileIndex int           `json:"activeProfileIndex"`
		CaptureID          string        `json:"captureID,omitempty"`
		DurationNS         int64         `json:"durationNS"`
		Profiles           []interface{} `json:"profiles"`
		Shared             SharedData    `json:"shared"`
		Version            uint32        `json:"version,omitempty"`
	}

	// FrameTable deduplicates frames by function name and file.
	FrameTable struct {
		Frames []Frame
		index  map[aggregate.NameFile]int
	}
)

func NewFrameTable() *FrameTable {
	return &FrameTable{index: make(map[aggregate.NameFile]int)}
}

// Index returns the index of the frame of d, adding it if needed.
func (t *FrameTable) Index(d *board.FunctionDescriptor) int {
	k := aggregate.NameFile{Name: d.Name, File: d.File}
	if i, ok := t.index[k]; ok {
		return i
	}
	i := len(t.Frames)
	t.index[k] = i
	t.Frames = append(t.Frames, Frame{
		File:  d.File,
		Image: d.Module,
		Line:  d.Line,
		Name:  d.Name,
	})
	return i
}

// FromCapture converts a built capture: an evented profile for every thread
// with frames, then a sampled profile for every thread with call-stacks.
// Times are in nanoseconds since the start of the capture.
func FromCapture(captureID string, g *capture.FrameGroup) (Output, error) {
	b := g.Board
	frames := NewFrameTable()
	o := Output{
		CaptureID:  captureID,
		DurationNS: b.TicksToNs(b.TimeSlice.Duration()),
		Version:    b.Version,
	}
	active := -1
	for _, td := range g.Threads {
		events := td.Events()
		if len(events) == 0 {
			continue
		}
		p := EventedProfile{
			IsMainThread: td.Index == b.MainThreadIndex,
			Name:         td.Description.Name,
			ThreadID:     td.Description.ThreadID,
			Type:         ProfileTypeEvented,
			Unit:         ValueUnitNanoseconds,
			StartValue:   b.TicksToNs(int64(events[0].Interval.Start - b.TimeSlice.Start)),
		}
		for _, f := range events {
			root, err := f.Root()
			if err != nil {
				return Output{}, fmt.Errorf("speedscope: thread %d: %w", td.Index, err)
			}
			p.Events = appendEvents(p.Events, root, b, frames)
		}
		p.EndValue = p.StartValue
		if n := len(p.Events); n > 0 {
			p.EndValue = p.Events[n-1].At
		}
		if p.IsMainThread || active < 0 {
			active = len(o.Profiles)
		}
		o.Profiles = append(o.Profiles, p)
	}
	for _, td := range g.Threads {
		stacks := td.Callstacks()
		if len(stacks) == 0 {
			continue
		}
		p := SampledProfile{
			IsMainThread: td.Index == b.MainThreadIndex,
			Name:         td.Description.Name,
			ThreadID:     td.Description.ThreadID,
			Type:         ProfileTypeSampled,
			Unit:         ValueUnitCount,
			Samples:      make([][]int, 0, len(stacks)),
			Weights:      make([]int64, 0, len(stacks)),
			EndValue:     int64(len(stacks)),
		}
		for _, stack := range stacks {
			sample := make([]int, 0, len(stack))
			for _, f := range stack {
				sample = append(sample, frames.Index(f.Description))
			}
			p.Samples = append(p.Samples, sample)
			p.Weights = append(p.Weights, 1)
		}
		if active < 0 {
			active = len(o.Profiles)
		}
		o.Profiles = append(o.Profiles, p)
	}
	o.ActiveProfileIndex = max(active, 0)
	o.Shared.Frames = frames.Frames
	return o, nil
}

// appendEvents opens and closes the frames of the nodes below n in
// depth-first order. Times never go backwards, overflowing children are
// closed when their parent is.
func appendEvents(events []Event, n *nodetree.Node, b *board.Board, frames *FrameTable) []Event {
	at := func(t int64) int64 {
		ns := b.TicksToNs(t - int64(b.TimeSlice.Start))
		if len(events) > 0 {
			ns = max(ns, events[len(events)-1].At)
		}
		return ns
	}
	for _, c := range n.Children {
		if c.Description == nil {
			continue
		}
		i := frames.Index(c.Description)
		events = append(events, Event{Type: EventTypeOpenFrame, Frame: i, At: at(int64(c.Interval.Start))})
		events = appendEvents(events, c, b, frames)
		events = append(events, Event{Type: EventTypeCloseFrame, Frame: i, At: at(int64(c.Interval.Finish))})
	}
	return events
}

type sampleSorter struct {
	p      *SampledProfile
	frames []Frame
}

func (s sampleSorter) Len() int {
	return len(s.p.Samples)
}

func (s sampleSorter) Less(i, j int) bool {
	a, b := s.p.Samples[i], s.p.Samples[j]
	for c := 0; ; c++ {
		if len(a) == c {
			return len(b) > c
		}
		if len(b) == c {
			return false
		}
		if s.frames[a[c]].Name != s.frames[b[c]].Name {
			return s.frames[a[c]].Name < s.frames[b[c]].Name
		}
	}
}

func (s sampleSorter) Swap(i, j int) {
	s.p.Samples[i], s.p.Samples[j] = s.p.Samples[j], s.p.Samples[i]
	if len(s.p.Weights) == len(s.p.Samples) {
		s.p.Weights[i], s.p.Weights[j] = s.p.Weights[j], s.p.Weights[i]
	}
	if len(s.p.SamplesCaptures) == len(s.p.Samples) {
		s.p.SamplesCaptures[i], s.p.SamplesCaptures[j] = s.p.SamplesCaptures[j], s.p.SamplesCaptures[i]
	}
}

// SortSamplesAlphabetically orders the samples of p by the names of their
// frames, outermost first, keeping weights aligned. Identical stacks end up
// next to each other, which is how flamegraphs are drawn.
func SortSamplesAlphabetically(p *SampledProfile, frames []Frame) {
	sort.Stable(sampleSorter{p: p, frames: frames})
}
