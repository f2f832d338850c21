package capture

import (
	"fmt"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/wire"
)

const (
	minSyncSize = 8 + 8 + 4 + 4
	minTagSize  = 8 + 4 + 4 + 1 + 4
)

type (
	// SyncInterval is a span of time a thread spent scheduled on a core.
	SyncInterval struct {
		interval.Interval
		ThreadIndex int    `json:"thread_index"`
		Core        uint32 `json:"core"`
	}

	TagKind uint8

	// Tag is a value attached to a point in time by the producer.
	Tag struct {
		Time        interval.Tick             `json:"time"`
		Description *board.FunctionDescriptor `json:"description"`
		ThreadIndex int                       `json:"thread_index"`
		Kind        TagKind                   `json:"kind"`

		Int    int32   `json:"int,omitempty"`
		Uint   uint64  `json:"uint,omitempty"`
		Float  float32 `json:"float,omitempty"`
		String string  `json:"string,omitempty"`
	}
)

const (
	TagInt32 TagKind = iota
	TagUint64
	TagFloat32
	TagString
)

func (t Tag) Bounds() interval.Interval {
	return interval.New(t.Time, t.Time)
}

// Value returns the tag value as a Go value.
func (t Tag) Value() interface{} {
	switch t.Kind {
	case TagInt32:
		return t.Int
	case TagUint64:
		return t.Uint
	case TagFloat32:
		return t.Float
	default:
		return t.String
	}
}

// readSynchronization decodes a Synchronization payload. Intervals of
// threads the board doesn't know about are dropped.
func readSynchronization(r *wire.Reader, b *board.Board) ([]SyncInterval, error) {
	n, err := r.ReadCount(minSyncSize, "synchronization intervals")
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	intervals := make([]SyncInterval, 0, n)
	for i := 0; i < n; i++ {
		start, err := r.ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("capture: synchronization %d: %w", i, err)
		}
		finish, err := r.ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("capture: synchronization %d: %w", i, err)
		}
		threadID, err := r.ReadThreadID()
		if err != nil {
			return nil, fmt.Errorf("capture: synchronization %d: %w", i, err)
		}
		core, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("capture: synchronization %d: %w", i, err)
		}
		threadIndex, ok := b.ThreadIndex(threadID)
		if !ok {
			continue
		}
		intervals = append(intervals, SyncInterval{
			Interval:    interval.New(interval.Tick(start), interval.Tick(finish)),
			ThreadIndex: threadIndex,
			Core:        core,
		})
	}
	return intervals, nil
}

func readTags(r *wire.Reader, b *board.Board) ([]Tag, error) {
	n, err := r.ReadCount(minTagSize, "tags")
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	tags := make([]Tag, 0, n)
	for i := 0; i < n; i++ {
		t, err := readTag(r, b)
		if err != nil {
			return nil, fmt.Errorf("capture: tag %d: %w", i, err)
		}
		tags = append(tags, t)
	}
	return tags, nil
}

func readTag(r *wire.Reader, b *board.Board) (Tag, error) {
	var t Tag
	time, err := r.ReadInt64()
	if err != nil {
		return t, err
	}
	t.Time = interval.Tick(time)
	ref, err := r.ReadInt32()
	if err != nil {
		return t, err
	}
	if t.Description, err = b.Function(int(ref)); err != nil {
		return t, err
	}
	threadIndex, err := r.ReadInt32()
	if err != nil {
		return t, err
	}
	if _, err := b.Thread(int(threadIndex)); err != nil {
		return t, err
	}
	t.ThreadIndex = int(threadIndex)
	kind, err := r.ReadUint8()
	if err != nil {
		return t, err
	}
	t.Kind = TagKind(kind)
	switch t.Kind {
	case TagInt32:
		t.Int, err = r.ReadInt32()
	case TagUint64:
		t.Uint, err = r.ReadUint64()
	case TagFloat32:
		t.Float, err = r.ReadFloat32()
	case TagString:
		t.String, err = r.ReadString()
	default:
		err = fmt.Errorf("%w: tag kind %d", wire.ErrBadLength, kind)
	}
	return t, err
}

func writeSynchronization(w *wire.Writer, b *board.Board, intervals []SyncInterval) {
	w.WriteInt32(int32(len(intervals)))
	for _, s := range intervals {
		w.WriteInt64(int64(s.Start))
		w.WriteInt64(int64(s.Finish))
		w.WriteThreadID(b.Threads[s.ThreadIndex].ThreadID)
		w.WriteUint32(s.Core)
	}
}

func writeTags(w *wire.Writer, tags []Tag) {
	w.WriteInt32(int32(len(tags)))
	for _, t := range tags {
		w.WriteInt64(int64(t.Time))
		w.WriteInt32(int32(t.Description.ID))
		w.WriteInt32(int32(t.ThreadIndex))
		w.WriteUint8(uint8(t.Kind))
		switch t.Kind {
		case TagInt32:
			w.WriteInt32(t.Int)
		case TagUint64:
			w.WriteUint64(t.Uint)
		case TagFloat32:
			w.WriteFloat32(t.Float)
		case TagString:
			w.WriteString(t.String)
		}
	}
}
