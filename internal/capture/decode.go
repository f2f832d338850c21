package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/frame"
	"github.com/getsentry/vroom-capture/internal/sample"
	"github.com/getsentry/vroom-capture/internal/wire"
)

type (
	Options struct {
		// NumWorkers bounds how many payloads are decoded at once.
		NumWorkers int
		// Logger receives a warning for every skipped record. The global
		// logger is used when nil.
		Logger *zerolog.Logger
	}

	decoded struct {
		record          wire.Record
		event           *frame.EventFrame
		sampling        *sample.SamplingFrame
		synchronization []SyncInterval
		tags            []Tag
		ignored         bool
		err             error
	}
)

var ErrNoBoard = fmt.Errorf("%w: capture doesn't start with a description board", errorutil.ErrDataIntegrity)

func (o Options) logger() *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return &log.Logger
}

// Decode reads a capture stream. The first record has to be the description
// board. A record whose payload can't be decoded is skipped and counted, the
// stream goes on with the next record. A broken record header ends the
// decode with an error since the next record can't be found.
func Decode(ctx context.Context, r io.Reader, opts Options) (*FrameGroup, error) {
	rr := wire.NewRecordReader(r)
	first, err := rr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoBoard
		}
		return nil, fmt.Errorf("capture: %w", err)
	}
	if first.Type != wire.RecordDescriptionBoard {
		return nil, fmt.Errorf("%w: got %s", ErrNoBoard, first.Type)
	}
	if err := wire.CheckVersion(first.Version); err != nil {
		return nil, fmt.Errorf("capture: board: %w", err)
	}
	b, err := board.Read(first.Reader())
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	var records []wire.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("capture: record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}

	g, err := DecodeRecords(ctx, b, records, opts)
	if err != nil {
		return nil, err
	}
	g.Stats.Records++
	return g, nil
}

// DecodeRecords decodes the payloads of records in parallel and adds them to
// a new group in record order.
func DecodeRecords(ctx context.Context, b *board.Board, records []wire.Record, opts Options) (*FrameGroup, error) {
	results := make([]decoded, len(records))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(opts.NumWorkers, 1))
	for i, rec := range records {
		i, rec := i, rec
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = decodeRecord(rec, b)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	logger := opts.logger()
	g := NewFrameGroup(b)
	for i, res := range results {
		g.Stats.Records++
		err := res.err
		if err == nil {
			err = g.add(res)
		}
		switch {
		case err != nil:
			g.Stats.Skipped++
			logger.Warn().
				Err(err).
				Int("record", i+1).
				Str("type", res.record.Type.String()).
				Int64("offset", res.record.Offset).
				Msg("skipping malformed record")
		case res.ignored:
			g.Stats.Ignored++
			logger.Debug().
				Int("record", i+1).
				Str("type", res.record.Type.String()).
				Msg("ignoring record")
		}
	}
	return g, nil
}

func decodeRecord(rec wire.Record, b *board.Board) decoded {
	res := decoded{record: rec}
	if err := wire.CheckVersion(rec.Version); err != nil {
		res.err = err
		return res
	}
	r := rec.Reader()
	switch rec.Type {
	case wire.RecordEventFrame:
		res.event, res.err = frame.Read(r, b)
	case wire.RecordSamplingFrame:
		res.sampling, res.err = sample.Read(r, b)
	case wire.RecordSynchronization:
		res.synchronization, res.err = readSynchronization(r, b)
	case wire.RecordTags:
		res.tags, res.err = readTags(r, b)
	default:
		// a second board, or a record type this decoder doesn't handle
		res.ignored = true
	}
	return res
}

func (g *FrameGroup) add(res decoded) error {
	switch {
	case res.event != nil:
		if err := g.Add(res.event); err != nil {
			return err
		}
		g.Stats.Frames++
	case res.sampling != nil:
		if err := g.addSampling(res.sampling); err != nil {
			return err
		}
		g.Stats.Frames++
	case res.synchronization != nil:
		g.addSynchronization(res.synchronization)
	case res.tags != nil:
		g.addTags(res.tags)
	}
	return nil
}
