package capture

import (
	"fmt"
	"io"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/sample"
	"github.com/getsentry/vroom-capture/internal/wire"
)

// Encoder writes a capture stream, mostly to produce fixtures.
type Encoder struct {
	w       io.Writer
	version uint32
	board   *board.Board
}

func NewEncoder(w io.Writer, version uint32) *Encoder {
	return &Encoder{w: w, version: version}
}

func (e *Encoder) write(t wire.RecordType, encode func(w *wire.Writer)) error {
	w := wire.NewWriter(e.version)
	encode(w)
	return wire.WriteRecord(e.w, e.version, t, w.Bytes())
}

func (e *Encoder) WriteBoard(b *board.Board) error {
	e.board = b
	return e.write(wire.RecordDescriptionBoard, b.Write)
}

func (e *Encoder) WriteEvent(f *frame.EventFrame) error {
	return e.write(wire.RecordEventFrame, f.Write)
}

func (e *Encoder) WriteSampling(f *sample.SamplingFrame) error {
	return e.write(wire.RecordSamplingFrame, f.Write)
}

func (e *Encoder) WriteSynchronization(intervals []SyncInterval) error {
	if e.board == nil {
		return fmt.Errorf("capture: synchronization written before the board")
	}
	return e.write(wire.RecordSynchronization, func(w *wire.Writer) {
		writeSynchronization(w, e.board, intervals)
	})
}

func (e *Encoder) WriteTags(tags []Tag) error {
	return e.write(wire.RecordTags, func(w *wire.Writer) {
		writeTags(w, tags)
	})
}

// WriteRecord writes a record with an arbitrary payload.
func (e *Encoder) WriteRecord(t wire.RecordType, payload []byte) error {
	return wire.WriteRecord(e.w, e.version, t, payload)
}
