package nodetree

import (
	"fmt"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/interval"
)

type (
	// Entry is one instrumented scope as it was sent on the wire.
	Entry struct {
		interval.Interval
		Description *board.FunctionDescriptor `json:"description"`
	}

	// Node is a call tree node. The same type backs instrumented trees, built
	// from entries, and sampled trees, built from call-stacks, where Duration
	// is the number of samples that went through the node.
	Node struct {
		Description *board.FunctionDescriptor `json:"description,omitempty"`
		Address     uint64                    `json:"address,omitempty"`
		Interval    interval.Interval         `json:"interval"`

		Parent   *Node   `json:"-"`
		Children []*Node `json:"children,omitempty"`

		Duration         int64 `json:"duration"`
		ChildrenDuration int64 `json:"children_duration"`

		// Sampled trees only.
		Passed  int64 `json:"passed,omitempty"`
		Sampled int64 `json:"sampled,omitempty"`
	}
)

func (n *Node) Bounds() interval.Interval {
	return n.Interval
}

// SelfDuration is the time spent in the node itself. It goes negative when
// children overlap each other or overflow their parent.
func (n *Node) SelfDuration() int64 {
	return n.Duration - n.ChildrenDuration
}

// AddChild appends v to n's children and accounts for its duration.
func (n *Node) AddChild(v *Node) {
	v.Parent = n
	n.Children = append(n.Children, v)
	n.ChildrenDuration += v.Duration
}

// Build reconstructs the call tree of entries, which must be in canonical
// order. Nesting is inferred from containment alone: an entry is a child of
// the innermost open entry it starts before the end of. The returned root is
// synthetic, has no description and spans bounds.
func Build(bounds interval.Interval, entries []Entry) (*Node, error) {
	root := &Node{
		Interval: bounds,
		Duration: bounds.Duration(),
	}
	stack := make([]*Node, 1, 32)
	stack[0] = root
	for i, e := range entries {
		if e.Finish < e.Start {
			return nil, fmt.Errorf("nodetree: %w: entry %d finishes at %d before it starts at %d", errorutil.ErrInvariantViolation, i, e.Finish, e.Start)
		}
		for len(stack) > 1 && e.Start >= stack[len(stack)-1].Interval.Finish {
			stack = stack[:len(stack)-1]
		}
		n := &Node{
			Description: e.Description,
			Interval:    e.Interval,
			Duration:    e.Duration(),
		}
		stack[len(stack)-1].AddChild(n)
		stack = append(stack, n)
	}
	return root, nil
}

// Walk calls fn for every node below n in depth-first pre-order, along with
// its depth relative to n's children. Returning false skips the node's
// children.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	var walk func(node *Node, depth int)
	walk = func(node *Node, depth int) {
		for _, c := range node.Children {
			if fn(c, depth) {
				walk(c, depth+1)
			}
		}
	}
	walk(n, 0)
}

// Depth returns the number of ancestors of n.
func (n *Node) Depth() int {
	var d int
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// Path returns the nodes from the first node below the root down to n.
func (n *Node) Path() []*Node {
	var path []*Node
	for c := n; c != nil && c.Parent != nil; c = c.Parent {
		path = append(path, c)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Find returns the first node in pre-order matching fn, or nil.
func (n *Node) Find(fn func(*Node) bool) *Node {
	var found *Node
	n.Walk(func(node *Node, _ int) bool {
		if found != nil {
			return false
		}
		if fn(node) {
			found = node
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes below n.
func (n *Node) Count() int {
	var count int
	n.Walk(func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// Name returns the short name of the node's function.
func (n *Node) Name() string {
	if n.Description == nil {
		if n.Address != 0 {
			return fmt.Sprintf("0x%x", n.Address)
		}
		return "<root>"
	}
	return n.Description.Name
}
