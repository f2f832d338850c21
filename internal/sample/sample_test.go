package sample

import (
	"errors"
	"testing"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/nodetree"
	"github.com/getsentry/vroom-capture/internal/testutil"
	"github.com/getsentry/vroom-capture/internal/wire"
)

type flatNode struct {
	Name     string
	Passed   int64
	Sampled  int64
	Children []flatNode
}

func flatten(n *nodetree.Node) []flatNode {
	var out []flatNode
	for _, c := range n.Children {
		out = append(out, flatNode{
			Name:     c.Name(),
			Passed:   c.Passed,
			Sampled:  c.Sampled,
			Children: flatten(c),
		})
	}
	return out
}

type symbols map[string]Frame

func newSymbols(names ...string) symbols {
	s := make(symbols, len(names))
	for i, name := range names {
		s[name] = Frame{
			Description: board.NewFunctionDescriptor(uint32(i), name, name+".cpp", int32(10*(i+1)), 0),
			Address:     uint64(0x1000 * (i + 1)),
		}
	}
	return s
}

func (s symbols) stack(names ...string) Callstack {
	stack := make(Callstack, 0, len(names))
	for _, name := range names {
		stack = append(stack, s[name])
	}
	return stack
}

func TestMerge(t *testing.T) {
	s := newSymbols("main", "foo", "bar", "baz")
	tests := []struct {
		name   string
		stacks []Callstack
		want   []flatNode
	}{
		{
			name:   "two leaves",
			stacks: []Callstack{s.stack("main", "foo"), s.stack("main", "bar")},
			want: []flatNode{
				{Name: "main", Passed: 2, Sampled: 0, Children: []flatNode{
					{Name: "foo", Passed: 1, Sampled: 1},
					{Name: "bar", Passed: 1, Sampled: 1},
				}},
			},
		},
		{
			name: "samples stopping at different depths",
			stacks: []Callstack{
				s.stack("main"),
				s.stack("main", "foo"),
				s.stack("main", "foo", "baz"),
				s.stack("main", "foo", "baz"),
			},
			want: []flatNode{
				{Name: "main", Passed: 4, Sampled: 1, Children: []flatNode{
					{Name: "foo", Passed: 3, Sampled: 1, Children: []flatNode{
						{Name: "baz", Passed: 2, Sampled: 2},
					}},
				}},
			},
		},
		{
			name: "several roots",
			stacks: []Callstack{
				s.stack("main", "foo"),
				s.stack("bar"),
			},
			want: []flatNode{
				{Name: "main", Passed: 1, Sampled: 0, Children: []flatNode{
					{Name: "foo", Passed: 1, Sampled: 1},
				}},
				{Name: "bar", Passed: 1, Sampled: 1},
			},
		},
		{
			name:   "no stacks",
			stacks: nil,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := Merge(tt.stacks)
			if root.Passed != int64(len(tt.stacks)) {
				t.Fatalf("got root passed %d, want %d", root.Passed, len(tt.stacks))
			}
			if diff := testutil.Diff(flatten(root), tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestMergeMatchesShiftedAddresses(t *testing.T) {
	s := newSymbols("main", "foo")
	shifted := s["foo"]
	shifted.Address += 0x10_0000
	root := Merge([]Callstack{s.stack("main", "foo"), {s["main"], shifted}})
	if got := len(root.Children[0].Children); got != 1 {
		t.Fatalf("got %d children, want 1", got)
	}
	if got := root.Children[0].Children[0].Passed; got != 2 {
		t.Fatalf("got passed %d, want 2", got)
	}
}

func TestMergeInvariants(t *testing.T) {
	s := newSymbols("a", "b", "c", "d")
	stacks := []Callstack{
		s.stack("a", "b", "c"),
		s.stack("a", "b"),
		s.stack("a", "d", "c"),
		s.stack("d"),
		s.stack("a", "b", "c", "d"),
		s.stack(),
	}
	root := Merge(stacks)
	if root.Passed != int64(len(stacks)) {
		t.Fatalf("got root passed %d, want %d", root.Passed, len(stacks))
	}
	var check func(n *nodetree.Node)
	check = func(n *nodetree.Node) {
		var sum int64
		for _, c := range n.Children {
			if c.Parent != n {
				t.Fatalf("%s has the wrong parent", c.Name())
			}
			sum += c.Passed
			check(c)
		}
		if n.Passed != sum+n.Sampled {
			t.Fatalf("%s: passed %d, want %d", n.Name(), n.Passed, sum+n.Sampled)
		}
		if n.Duration != n.Passed {
			t.Fatalf("%s: duration %d, want %d", n.Name(), n.Duration, n.Passed)
		}
	}
	check(root)
}

func TestEffectiveRoot(t *testing.T) {
	s := newSymbols("start", "thread", "main", "loop", "a", "b")
	tests := []struct {
		name    string
		stacks  []Callstack
		maxSkip int
		want    string
	}{
		{
			name: "skips trampolines",
			stacks: []Callstack{
				s.stack("start", "thread", "main", "a"),
				s.stack("start", "thread", "main", "b"),
			},
			maxSkip: DefaultRootSkip,
			want:    "main",
		},
		{
			name: "bounded",
			stacks: []Callstack{
				s.stack("start", "thread", "main", "loop", "a"),
				s.stack("start", "thread", "main", "loop", "b"),
			},
			maxSkip: DefaultRootSkip,
			want:    "main",
		},
		{
			name: "stops at a node with samples",
			stacks: []Callstack{
				s.stack("start", "thread"),
				s.stack("start", "thread", "main"),
			},
			maxSkip: DefaultRootSkip,
			want:    "thread",
		},
		{
			name: "stops at a fork",
			stacks: []Callstack{
				s.stack("a"),
				s.stack("b"),
			},
			maxSkip: DefaultRootSkip,
			want:    "<root>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := Merge(tt.stacks)
			before := flatten(root)
			got := EffectiveRoot(root, tt.maxSkip)
			if got.Name() != tt.want {
				t.Fatalf("got %q, want %q", got.Name(), tt.want)
			}
			if diff := testutil.Diff(flatten(root), before); diff != "" {
				t.Fatalf("tree was mutated: got - want +\n%s", diff)
			}
		})
	}
}

func TestRead(t *testing.T) {
	b := &board.Board{
		Frequency: 1000,
		TimeSlice: interval.New(0, 10),
		Threads:   []*board.ThreadDescriptor{{ThreadID: 1, Name: "Main"}},
	}
	in := SamplingFrame{
		ThreadIndex: 0,
		Symbols: []Symbol{
			{Address: 0x10, Module: "game.exe", Name: "int main(int, char**)", File: "main.cpp", Line: 3},
			{Address: 0x20, Module: "game.exe", Name: "void Foo()", File: "foo.cpp", Line: 7},
		},
		Callstacks: []Callstack{
			{{Address: 0x10}, {Address: 0x20}},
			{{Address: 0x10}, {Address: 0x99}},
		},
	}
	w := wire.NewWriter(wire.MaxVersion)
	in.Write(w)
	got, err := Read(wire.NewReader(w.Bytes(), wire.MaxVersion), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := testutil.Diff(got.Symbols, in.Symbols); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	root := Merge(got.Callstacks)
	want := []flatNode{
		{Name: "main", Passed: 2, Children: []flatNode{
			{Name: "Foo", Passed: 1, Sampled: 1},
			{Name: "0x99", Passed: 1, Sampled: 1},
		}},
	}
	if diff := testutil.Diff(flatten(root), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if d := got.Callstacks[0][0].Description; d.Module != "game.exe" || d.Address != 0x10 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	// the same stream cut short
	data := w.Bytes()
	if _, err := Read(wire.NewReader(data[:len(data)-4], wire.MaxVersion), b); !errors.Is(err, wire.ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
}
