package interval

import "sort"

// NotFound is returned by the index helpers when no element matches.
const NotFound = -1

type (
	// Tick is a capture-local timestamp, in units of the capture's clock.
	Tick int64

	Interval struct {
		Start  Tick `json:"start"`
		Finish Tick `json:"finish"`
	}

	// Durable is anything with a position on the timeline.
	Durable interface {
		Bounds() Interval
	}
)

func New(start, finish Tick) Interval {
	return Interval{Start: start, Finish: finish}
}

func (i Interval) Bounds() Interval {
	return i
}

// Duration returns Finish - Start. It is negative for intervals a producer
// wrote backwards.
func (i Interval) Duration() int64 {
	return int64(i.Finish - i.Start)
}

func (i Interval) Contains(t Tick) bool {
	return i.Start <= t && t <= i.Finish
}

// Wraps returns true if v lies entirely within i.
func (i Interval) Wraps(v Interval) bool {
	return i.Start <= v.Start && v.Finish <= i.Finish
}

func (i Interval) Intersects(v Interval) bool {
	return i.Start <= v.Finish && v.Start <= i.Finish
}

// Union returns the smallest interval covering both i and v.
func (i Interval) Union(v Interval) Interval {
	return Interval{Start: min(i.Start, v.Start), Finish: max(i.Finish, v.Finish)}
}

// Less is the canonical order: ascending start, ties broken by descending
// finish so that an enclosing interval always comes before what it encloses.
func Less(a, b Interval) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.Finish > b.Finish
}

// Sort sorts items in canonical order. The sort is stable so identical
// intervals keep their input order.
func Sort[T Durable](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i].Bounds(), items[j].Bounds())
	})
}

// IsSorted reports whether items are in canonical order.
func IsSorted[T Durable](items []T) bool {
	for i := 1; i < len(items); i++ {
		if Less(items[i].Bounds(), items[i-1].Bounds()) {
			return false
		}
	}
	return true
}
