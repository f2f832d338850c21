package interval

import "sort"

// ClosestIndex returns the greatest index whose start is ≤ value. A value
// below the first start maps to 0 and a value past the last start maps to the
// last index; NotFound is only returned for an empty slice.
func ClosestIndex(starts []Tick, value Tick) int {
	return closest(len(starts), func(i int) Tick { return starts[i] }, value)
}

// Closest is ClosestIndex over the start of each item's bounds.
func Closest[T Durable](items []T, value Tick) int {
	return closest(len(items), func(i int) Tick { return items[i].Bounds().Start }, value)
}

func closest(n int, start func(int) Tick, value Tick) int {
	if n == 0 {
		return NotFound
	}
	// first index whose start is > value
	i := sort.Search(n, func(i int) bool {
		return start(i) > value
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// ExactIndex returns the index of the item containing value, or NotFound.
// The closest item is checked first, then the one after it, which covers
// values that fall before the first start.
func ExactIndex[T Durable](items []T, value Tick) int {
	i := Closest(items, value)
	if i == NotFound {
		return NotFound
	}
	if items[i].Bounds().Contains(value) {
		return i
	}
	if i+1 < len(items) && items[i+1].Bounds().Contains(value) {
		return i + 1
	}
	return NotFound
}

// ForEachInRange calls fn for every item whose index lies between
// Closest(lo) and Closest(hi), both included. Iteration stops when fn
// returns false.
func ForEachInRange[T Durable](items []T, lo, hi Tick, fn func(int, T) bool) {
	if len(items) == 0 || hi < lo {
		return
	}
	first, last := Closest(items, lo), Closest(items, hi)
	for i := first; i <= last; i++ {
		if !fn(i, items[i]) {
			return
		}
	}
}

// ForEachInRangeStrict is ForEachInRange restricted to the items that
// actually intersect [lo, hi].
func ForEachInRangeStrict[T Durable](items []T, lo, hi Tick, fn func(int, T) bool) {
	r := New(lo, hi)
	ForEachInRange(items, lo, hi, func(i int, item T) bool {
		if !item.Bounds().Intersects(r) {
			return true
		}
		return fn(i, item)
	})
}

// InRange collects the items ForEachInRangeStrict visits.
func InRange[T Durable](items []T, lo, hi Tick) []T {
	var out []T
	ForEachInRangeStrict(items, lo, hi, func(_ int, item T) bool {
		out = append(out, item)
		return true
	})
	return out
}
