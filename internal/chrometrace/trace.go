package chrometrace

import (
	"strconv"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/interval"
)

type converter struct {
	b      *board.Board
	events []Event
}

// micros converts a capture tick to microseconds since the start of the capture.
func (c *converter) micros(t interval.Tick) float64 {
	return float64(c.b.TicksToNs(int64(t-c.b.TimeSlice.Start))) / 1e3
}

func (c *converter) duration(i interval.Interval) float64 {
	return float64(c.b.TicksToNs(max(i.Duration(), 0))) / 1e3
}

func (c *converter) addEntries(tid uint64, category string, entries []frame.Entry) {
	for _, e := range entries {
		ev := Event{
			Name:     "<unknown>",
			Category: category,
			Phase:    phaseComplete,
			Ts:       c.micros(e.Start),
			Dur:      c.duration(e.Interval),
			Pid:      pid,
			Tid:      tid,
		}
		if d := e.Description; d != nil {
			ev.Name = d.Name
			if d.File != "" {
				ev.Args = map[string]interface{}{"file": d.File, "line": d.Line}
			}
		}
		c.events = append(c.events, ev)
	}
}

// FromCapture converts the instrumented frames, synchronization intervals
// and tags of every thread of g. Sampled call-stacks carry no time and are
// left out.
func FromCapture(captureID string, g *capture.FrameGroup) Trace {
	c := converter{b: g.Board}
	c.events = append(c.events, Event{
		Name:  "process_name",
		Phase: phaseMetadata,
		Pid:   pid,
		Args:  map[string]interface{}{"name": "capture " + captureID},
	})
	for _, td := range g.Threads {
		tid := td.Description.ThreadID
		c.events = append(c.events,
			Event{
				Name:  "thread_name",
				Phase: phaseMetadata,
				Pid:   pid,
				Tid:   tid,
				Args:  map[string]interface{}{"name": td.Description.Name},
			},
			Event{
				Name:  "thread_sort_index",
				Phase: phaseMetadata,
				Pid:   pid,
				Tid:   tid,
				Args:  map[string]interface{}{"sort_index": td.Index},
			},
		)
		for _, f := range td.Events() {
			c.addEntries(tid, CategoryFunction, f.Entries())
			c.addEntries(tid, CategoryCategory, f.Categories())
		}
		for _, s := range td.Synchronization() {
			c.events = append(c.events, Event{
				Name:     "core " + strconv.FormatUint(uint64(s.Core), 10),
				Category: CategorySynchronization,
				Phase:    phaseComplete,
				Ts:       c.micros(s.Start),
				Dur:      c.duration(s.Interval),
				Pid:      pid,
				Tid:      tid,
				Args:     map[string]interface{}{"core": s.Core},
			})
		}
		for _, t := range td.Tags() {
			name := "tag"
			if t.Description != nil {
				name = t.Description.Name
			}
			c.events = append(c.events, Event{
				Name:     name,
				Category: CategoryTag,
				Phase:    phaseInstant,
				Ts:       c.micros(t.Time),
				Pid:      pid,
				Tid:      tid,
				Scope:    "t",
				Args:     map[string]interface{}{"value": t.Value()},
			})
		}
	}
	return Trace{
		TraceEvents:     c.events,
		DisplayTimeUnit: displayTimeUnitMs,
		Metadata: map[string]string{
			"capture_id": captureID,
			"frequency":  strconv.FormatInt(g.Board.Frequency, 10),
			"version":    strconv.FormatUint(uint64(g.Board.Version), 10),
		},
	}
}
