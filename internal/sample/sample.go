package sample

import (
	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/nodetree"
)

// DefaultRootSkip is how many pass-through frames EffectiveRoot skips at most.
const DefaultRootSkip = 3

type (
	Frame struct {
		Description *board.FunctionDescriptor `json:"description"`
		Address     uint64                    `json:"address"`
	}

	// Callstack is one sample, ordered from the outermost frame to the leaf.
	Callstack []Frame
)

// similar reports whether f can be folded into n. Addresses shift between
// sessions so the source line and name are accepted too.
func similar(n *nodetree.Node, f Frame) bool {
	if f.Address != 0 && n.Address == f.Address {
		return true
	}
	if n.Description == nil || f.Description == nil {
		return false
	}
	return n.Description.Line == f.Description.Line && n.Description.Name == f.Description.Name
}

// Merge folds call-stacks into a single tree. Passed counts the samples that
// went through a node and Sampled the ones that stopped there. Duration is
// set to Passed so sampled trees can be rolled up like instrumented ones.
func Merge(stacks []Callstack) *nodetree.Node {
	root := &nodetree.Node{Passed: int64(len(stacks))}
	for _, stack := range stacks {
		current := root
		for _, f := range stack {
			var next *nodetree.Node
			for _, c := range current.Children {
				if similar(c, f) {
					next = c
					break
				}
			}
			if next == nil {
				next = &nodetree.Node{
					Description: f.Description,
					Address:     f.Address,
					Parent:      current,
				}
				current.Children = append(current.Children, next)
			}
			next.Passed++
			current = next
		}
	}
	finish(root)
	return root
}

func finish(n *nodetree.Node) {
	var passed int64
	for _, c := range n.Children {
		finish(c)
		passed += c.Passed
	}
	n.Sampled = n.Passed - passed
	n.Duration = n.Passed
	n.ChildrenDuration = passed
}

// EffectiveRoot returns the node to present as the root of a sampled tree:
// starting at root, it follows up to maxSkip single children through nodes
// no sample stopped in. The tree is left untouched.
func EffectiveRoot(root *nodetree.Node, maxSkip int) *nodetree.Node {
	n := root
	for i := 0; i < maxSkip; i++ {
		if len(n.Children) != 1 || n.Sampled != 0 {
			break
		}
		n = n.Children[0]
	}
	return n
}
