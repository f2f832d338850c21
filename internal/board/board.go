package board

import (
	"fmt"
	"time"

	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/wire"
)

// NoMainThread is the main thread index of a capture that didn't report one.
const NoMainThread = -1

// Smallest encoded sizes, used to reject corrupt counts early.
const (
	minThreadSize   = 4 + 4 + 4 + 4 + 4
	minFiberSize    = 8
	minFunctionSize = 4 + 4 + 4 + 4
)

// Board is the per-capture table of descriptors and the capture time base.
type Board struct {
	// Frequency is the number of ticks per second.
	Frequency int64             `json:"frequency"`
	TimeSlice interval.Interval `json:"time_slice"`
	Version   uint32            `json:"version"`

	Threads   []*ThreadDescriptor   `json:"threads"`
	Functions []*FunctionDescriptor `json:"functions"`

	MainThreadIndex int `json:"main_thread_index"`

	threadIndex map[uint64]int
}

// Read decodes a DescriptionBoard payload.
func Read(r *wire.Reader) (*Board, error) {
	b := Board{
		Version:         r.Version,
		MainThreadIndex: NoMainThread,
		threadIndex:     make(map[uint64]int),
	}

	var err error
	b.Frequency, err = r.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("board: frequency: %w", err)
	}
	if b.Frequency <= 0 {
		return nil, fmt.Errorf("board: %w: frequency %d", wire.ErrBadLength, b.Frequency)
	}
	start, err := r.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("board: time slice: %w", err)
	}
	finish, err := r.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("board: time slice: %w", err)
	}
	b.TimeSlice = interval.New(interval.Tick(start), interval.Tick(finish))

	if err := b.readThreads(r); err != nil {
		return nil, err
	}
	if r.Version >= wire.VersionFibers {
		if err := b.readFibers(r); err != nil {
			return nil, err
		}
	}

	mainThread, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("board: main thread: %w", err)
	}
	if mainThread != NoMainThread {
		if mainThread < 0 || int(mainThread) >= len(b.Threads) {
			return nil, fmt.Errorf("board: %w: main thread %d, %d threads", wire.ErrOutOfRangeReference, mainThread, len(b.Threads))
		}
		b.MainThreadIndex = int(mainThread)
	}

	if err := b.readFunctions(r); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Board) readThreads(r *wire.Reader) error {
	n, err := r.ReadCount(minThreadSize, "threads")
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	b.Threads = make([]*ThreadDescriptor, 0, n)
	for i := 0; i < n; i++ {
		var t ThreadDescriptor
		if t.ThreadID, err = r.ReadThreadID(); err != nil {
			return fmt.Errorf("board: thread %d: %w", i, err)
		}
		if t.Name, err = r.ReadString(); err != nil {
			return fmt.Errorf("board: thread %d: %w", i, err)
		}
		if t.MaxDepth, err = r.ReadInt32(); err != nil {
			return fmt.Errorf("board: thread %d: %w", i, err)
		}
		if t.Priority, err = r.ReadInt32(); err != nil {
			return fmt.Errorf("board: thread %d: %w", i, err)
		}
		if t.Mask, err = r.ReadUint32(); err != nil {
			return fmt.Errorf("board: thread %d: %w", i, err)
		}
		b.AddThread(&t)
	}
	return nil
}

func (b *Board) readFibers(r *wire.Reader) error {
	n, err := r.ReadCount(minFiberSize, "fibers")
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	for i := 0; i < n; i++ {
		id, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("board: fiber %d: %w", i, err)
		}
		b.AddThread(&ThreadDescriptor{
			ThreadID: id,
			Name:     fmt.Sprintf("Fiber #%d", i),
			IsFiber:  true,
		})
	}
	return nil
}

// AddThread appends t, maps its id to its index and returns the index. An OS
// can hand the same thread id to two threads over the lifetime of a capture:
// the last one wins and frames of the first one are attributed to the second
// on lookup.
func (b *Board) AddThread(t *ThreadDescriptor) int {
	if b.threadIndex == nil {
		b.threadIndex = make(map[uint64]int, len(b.Threads)+1)
		for i, t := range b.Threads {
			b.threadIndex[t.ThreadID] = i
		}
	}
	i := len(b.Threads)
	b.threadIndex[t.ThreadID] = i
	b.Threads = append(b.Threads, t)
	return i
}

func (b *Board) readFunctions(r *wire.Reader) error {
	n, err := r.ReadCount(minFunctionSize, "functions")
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	b.Functions = make([]*FunctionDescriptor, 0, n)
	for i := 0; i < n; i++ {
		fullName, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("board: function %d: %w", i, err)
		}
		file, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("board: function %d: %w", i, err)
		}
		line, err := r.ReadInt32()
		if err != nil {
			return fmt.Errorf("board: function %d: %w", i, err)
		}
		color, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("board: function %d: %w", i, err)
		}
		d := NewFunctionDescriptor(uint32(i), fullName, file, line, color)
		if r.Version >= wire.VersionFunctionFlags {
			flags, err := r.ReadUint8()
			if err != nil {
				return fmt.Errorf("board: function %d: %w", i, err)
			}
			d.SamplingEnabled = flags&FlagSamplingEnabled != 0
		}
		b.Functions = append(b.Functions, d)
	}
	return nil
}

// FlagSamplingEnabled is bit 0 of a function descriptor's flags byte.
const FlagSamplingEnabled = 1 << 0

// Function returns the descriptor for a reference read off the wire.
func (b *Board) Function(ref int) (*FunctionDescriptor, error) {
	if ref < 0 || ref >= len(b.Functions) {
		return nil, fmt.Errorf("board: %w: function %d, %d functions", wire.ErrOutOfRangeReference, ref, len(b.Functions))
	}
	return b.Functions[ref], nil
}

func (b *Board) Thread(index int) (*ThreadDescriptor, error) {
	if index < 0 || index >= len(b.Threads) {
		return nil, fmt.Errorf("board: %w: thread %d, %d threads", wire.ErrOutOfRangeReference, index, len(b.Threads))
	}
	return b.Threads[index], nil
}

// ThreadIndex resolves an OS thread id to its index in Threads.
func (b *Board) ThreadIndex(threadID uint64) (int, bool) {
	if b.threadIndex == nil {
		// built by hand rather than decoded
		for i := len(b.Threads) - 1; i >= 0; i-- {
			if b.Threads[i].ThreadID == threadID {
				return i, true
			}
		}
		return 0, false
	}
	i, ok := b.threadIndex[threadID]
	return i, ok
}

func (b *Board) MainThread() (*ThreadDescriptor, bool) {
	if b.MainThreadIndex == NoMainThread {
		return nil, false
	}
	return b.Threads[b.MainThreadIndex], true
}

// TicksToMs converts a tick count or a tick duration to milliseconds.
func (b *Board) TicksToMs(ticks int64) float64 {
	return float64(ticks) * 1000 / float64(b.Frequency)
}

// TicksToNs converts ticks to nanoseconds without overflowing for long
// captures on fast clocks.
func (b *Board) TicksToNs(ticks int64) int64 {
	const second = int64(time.Second)
	return ticks/b.Frequency*second + ticks%b.Frequency*second/b.Frequency
}

// MsToTicks converts milliseconds to ticks, truncating.
func (b *Board) MsToTicks(ms float64) int64 {
	return int64(ms * float64(b.Frequency) / 1000)
}

// Write encodes the board in the layout Read expects. It is used to produce
// captures for tests and tooling.
func (b *Board) Write(w *wire.Writer) {
	w.WriteInt64(b.Frequency)
	w.WriteInt64(int64(b.TimeSlice.Start))
	w.WriteInt64(int64(b.TimeSlice.Finish))

	var threads, fibers []*ThreadDescriptor
	for _, t := range b.Threads {
		if t.IsFiber {
			fibers = append(fibers, t)
		} else {
			threads = append(threads, t)
		}
	}
	w.WriteInt32(int32(len(threads)))
	for _, t := range threads {
		w.WriteThreadID(t.ThreadID)
		w.WriteString(t.Name)
		w.WriteInt32(t.MaxDepth)
		w.WriteInt32(t.Priority)
		w.WriteUint32(t.Mask)
	}
	if w.Version >= wire.VersionFibers {
		w.WriteInt32(int32(len(fibers)))
		for _, f := range fibers {
			w.WriteUint64(f.ThreadID)
		}
	}
	w.WriteInt32(int32(b.MainThreadIndex))
	w.WriteInt32(int32(len(b.Functions)))
	for _, f := range b.Functions {
		w.WriteString(f.FullName)
		w.WriteString(f.File)
		w.WriteInt32(f.Line)
		w.WriteUint32(f.Color)
		if w.Version >= wire.VersionFunctionFlags {
			var flags uint8
			if f.SamplingEnabled {
				flags |= FlagSamplingEnabled
			}
			w.WriteUint8(flags)
		}
	}
}
