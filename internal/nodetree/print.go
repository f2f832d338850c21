package nodetree

import (
	"fmt"
	"io"
	"strings"
)

// Collapse writes the tree in folded stack format, one line per node with a
// positive self value: "root;parent;node value". The sampled count is used
// for sampled trees and the self duration otherwise.
func (n *Node) Collapse(w io.Writer) error {
	var (
		names []string
		err   error
	)
	var walk func(node *Node)
	walk = func(node *Node) {
		names = append(names, node.Name())
		value := node.SelfDuration()
		if node.Passed > 0 {
			value = node.Sampled
		}
		if value > 0 && err == nil {
			_, err = fmt.Fprintf(w, "%s %d\n", strings.Join(names, ";"), value)
		}
		for _, c := range node.Children {
			walk(c)
		}
		names = names[:len(names)-1]
	}
	for _, c := range n.Children {
		walk(c)
	}
	return err
}

// Print writes an indented rendering of the tree, converting durations with
// toMs.
func (n *Node) Print(w io.Writer, toMs func(int64) float64) error {
	var err error
	n.Walk(func(node *Node, depth int) bool {
		if err != nil {
			return false
		}
		indent := strings.Repeat("  ", depth)
		if node.Passed > 0 {
			_, err = fmt.Fprintf(w, "%s%s passed=%d sampled=%d\n", indent, node.Name(), node.Passed, node.Sampled)
		} else {
			_, err = fmt.Fprintf(w, "%s%s total=%.3fms self=%.3fms\n", indent, node.Name(), toMs(node.Duration), toMs(node.SelfDuration()))
		}
		return true
	})
	return err
}
