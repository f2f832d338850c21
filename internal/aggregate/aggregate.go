package aggregate

import (
	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/nodetree"
)

type (
	// KeyFunc extracts the identity nodes are grouped by.
	KeyFunc[K comparable] func(n *nodetree.Node) K

	// NameFile identifies a function across capture sessions, where
	// descriptors and addresses aren't comparable.
	NameFile struct {
		Name string `json:"name"`
		File string `json:"file"`
	}

	Row[K comparable] struct {
		Key         K                         `json:"-"`
		Description *board.FunctionDescriptor `json:"description"`
		Count       int64                     `json:"count"`
		Total       int64                     `json:"total"`
		Self        int64                     `json:"self"`
		Max         int64                     `json:"max"`
		ChildTime   int64                     `json:"child_time"`

		// Nodes are the tree nodes folded into the row, in walk order.
		Nodes []*nodetree.Node `json:"-"`
	}

	// Board is a per-function rollup of one or more call trees. Rows are kept
	// in the order their key was first encountered.
	Board[K comparable] struct {
		rows  []*Row[K]
		index map[K]int
	}
)

// ByDescription groups nodes by descriptor identity.
func ByDescription(n *nodetree.Node) *board.FunctionDescriptor {
	return n.Description
}

// ByNameFile groups nodes by function name and source file.
func ByNameFile(n *nodetree.Node) NameFile {
	if n.Description == nil {
		return NameFile{Name: n.Name()}
	}
	return NameFile{Name: n.Description.Name, File: n.Description.File}
}

func New[K comparable]() *Board[K] {
	return &Board[K]{index: make(map[K]int)}
}

// Build walks the tree below root once and folds every node into the row of
// its key. A node whose key is already open on the path from the root, a
// recursive call, doesn't add to Total since its ancestor's duration
// already covers it. Self always adds up.
func Build[K comparable](root *nodetree.Node, key KeyFunc[K]) *Board[K] {
	b := New[K]()
	open := make(map[K]int)
	var walk func(n *nodetree.Node)
	walk = func(n *nodetree.Node) {
		k := key(n)
		r := b.row(k, n.Description)
		r.Count++
		if open[k] == 0 {
			r.Total += n.Duration
		}
		r.Self += n.SelfDuration()
		r.Max = max(r.Max, n.Duration)
		r.ChildTime += n.ChildrenDuration
		r.Nodes = append(r.Nodes, n)

		open[k]++
		for _, c := range n.Children {
			walk(c)
		}
		open[k]--
	}
	for _, c := range root.Children {
		walk(c)
	}
	return b
}

func (b *Board[K]) row(k K, d *board.FunctionDescriptor) *Row[K] {
	if i, ok := b.index[k]; ok {
		return b.rows[i]
	}
	r := &Row[K]{Key: k, Description: d}
	b.index[k] = len(b.rows)
	b.rows = append(b.rows, r)
	return r
}

// Merge folds the rows of other into b. Keys b hasn't seen yet are appended
// in other's order.
func (b *Board[K]) Merge(other *Board[K]) {
	for _, o := range other.rows {
		r := b.row(o.Key, o.Description)
		r.Count += o.Count
		r.Total += o.Total
		r.Self += o.Self
		r.Max = max(r.Max, o.Max)
		r.ChildTime += o.ChildTime
		r.Nodes = append(r.Nodes, o.Nodes...)
	}
}

func (b *Board[K]) Row(k K) (*Row[K], bool) {
	i, ok := b.index[k]
	if !ok {
		return nil, false
	}
	return b.rows[i], true
}

func (b *Board[K]) Rows() []*Row[K] {
	return b.rows
}

func (b *Board[K]) Len() int {
	return len(b.rows)
}
