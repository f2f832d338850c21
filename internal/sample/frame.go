package sample

import (
	"fmt"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/wire"
)

const (
	minSymbolSize    = 8 + 4 + 4 + 4 + 4
	minCallstackSize = 4
)

type (
	Symbol struct {
		Address uint64 `json:"address"`
		Module  string `json:"module"`
		Name    string `json:"name"`
		File    string `json:"file"`
		Line    int32  `json:"line"`
	}

	// SamplingFrame holds the call-stacks sampled on a thread along with the
	// symbols needed to resolve them.
	SamplingFrame struct {
		ThreadIndex int         `json:"thread_index"`
		Symbols     []Symbol    `json:"symbols"`
		Callstacks  []Callstack `json:"callstacks"`
	}
)

// Read decodes a SamplingFrame payload. Addresses with no symbol resolve to
// a descriptor named after the address.
func Read(r *wire.Reader, b *board.Board) (*SamplingFrame, error) {
	threadIndex, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("sample: thread index: %w", err)
	}
	if _, err := b.Thread(int(threadIndex)); err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	f := SamplingFrame{ThreadIndex: int(threadIndex)}

	n, err := r.ReadCount(minSymbolSize, "symbols")
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	f.Symbols = make([]Symbol, 0, n)
	descriptors := make(map[uint64]*board.FunctionDescriptor, n)
	for i := 0; i < n; i++ {
		s, err := readSymbol(r)
		if err != nil {
			return nil, fmt.Errorf("sample: symbol %d: %w", i, err)
		}
		f.Symbols = append(f.Symbols, s)
		descriptors[s.Address] = s.descriptor(uint32(i))
	}

	n, err = r.ReadCount(minCallstackSize, "callstacks")
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	f.Callstacks = make([]Callstack, 0, n)
	for i := 0; i < n; i++ {
		depth, err := r.ReadCount(8, "callstack frames")
		if err != nil {
			return nil, fmt.Errorf("sample: callstack %d: %w", i, err)
		}
		stack := make(Callstack, 0, depth)
		for j := 0; j < depth; j++ {
			address, err := r.ReadUint64()
			if err != nil {
				return nil, fmt.Errorf("sample: callstack %d: %w", i, err)
			}
			d, ok := descriptors[address]
			if !ok {
				d = board.UnresolvedDescriptor(uint32(len(descriptors)), address)
				descriptors[address] = d
			}
			stack = append(stack, Frame{Description: d, Address: address})
		}
		f.Callstacks = append(f.Callstacks, stack)
	}
	return &f, nil
}

func readSymbol(r *wire.Reader) (Symbol, error) {
	var (
		s   Symbol
		err error
	)
	if s.Address, err = r.ReadUint64(); err != nil {
		return s, err
	}
	if s.Module, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.Name, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.File, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.Line, err = r.ReadInt32(); err != nil {
		return s, err
	}
	return s, nil
}

func (s Symbol) descriptor(id uint32) *board.FunctionDescriptor {
	d := board.NewFunctionDescriptor(id, s.Name, s.File, s.Line, 0)
	d.Address = s.Address
	d.Module = s.Module
	d.SamplingEnabled = true
	return d
}

// Write encodes the frame in the layout Read expects.
func (f *SamplingFrame) Write(w *wire.Writer) {
	w.WriteInt32(int32(f.ThreadIndex))
	w.WriteInt32(int32(len(f.Symbols)))
	for _, s := range f.Symbols {
		w.WriteUint64(s.Address)
		w.WriteString(s.Module)
		w.WriteString(s.Name)
		w.WriteString(s.File)
		w.WriteInt32(s.Line)
	}
	w.WriteInt32(int32(len(f.Callstacks)))
	for _, stack := range f.Callstacks {
		w.WriteInt32(int32(len(stack)))
		for _, frame := range stack {
			w.WriteUint64(frame.Address)
		}
	}
}
