package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

type (
	PostCaptureResponse struct {
		CaptureID string `json:"capture_id"`
		Threads   int    `json:"threads"`
		Frames    int    `json:"frames"`
		Skipped   int    `json:"skipped"`
		Ignored   int    `json:"ignored"`
	}

	// CaptureSummary is stored next to the raw capture so it can be listed
	// without decoding it again.
	CaptureSummary struct {
		CaptureID       string            `json:"capture_id"`
		Frequency       int64             `json:"frequency"`
		TimeSlice       interval.Interval `json:"time_slice"`
		DurationMs      float64           `json:"duration_ms"`
		Version         uint32            `json:"version"`
		MainThreadIndex int               `json:"main_thread_index"`
		Threads         []ThreadSummary   `json:"threads"`
		Stats           capture.Stats     `json:"stats"`
	}

	ThreadSummary struct {
		Index      int     `json:"index"`
		ThreadID   uint64  `json:"thread_id"`
		Name       string  `json:"name"`
		IsFiber    bool    `json:"is_fiber"`
		Frames     int     `json:"frames"`
		Callstacks int     `json:"callstacks"`
		DurationMs float64 `json:"duration_ms"`
	}
)

func newCaptureSummary(captureID string, g *capture.FrameGroup) CaptureSummary {
	b := g.Board
	s := CaptureSummary{
		CaptureID:       captureID,
		Frequency:       b.Frequency,
		TimeSlice:       b.TimeSlice,
		DurationMs:      b.TicksToMs(b.TimeSlice.Duration()),
		Version:         b.Version,
		MainThreadIndex: b.MainThreadIndex,
		Threads:         make([]ThreadSummary, 0, len(g.Threads)),
		Stats:           g.Stats,
	}
	for _, td := range g.Threads {
		events := td.Events()
		var duration int64
		for _, f := range events {
			duration += f.Duration()
		}
		s.Threads = append(s.Threads, ThreadSummary{
			Index:      td.Index,
			ThreadID:   td.Description.ThreadID,
			Name:       td.Description.Name,
			IsFiber:    td.Description.IsFiber,
			Frames:     len(events),
			Callstacks: len(td.Callstacks()),
			DurationMs: b.TicksToMs(duration),
		})
	}
	return s
}

func (env *environment) postCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		capturesReceived.WithLabelValues("bad_request").Inc()
		return
	}

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	limit := env.config.MaxCaptureSize
	if limit <= 0 {
		limit = defaultMaxCaptureSize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	s.Finish()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Uint64("organization_id", cr.organizationID).Int64("limit", tooLarge.Limit).Msg("capture too large")
			capturesReceived.WithLabelValues("too_large").Inc()
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		hub.CaptureException(err)
		capturesReceived.WithLabelValues("bad_request").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	captureID := uuid.New().String()
	hub.Scope().SetTag("capture_id", captureID)
	logger := log.With().
		Uint64("organization_id", cr.organizationID).
		Str("capture_id", captureID).
		Int("size", len(body)).
		Logger()

	start := time.Now()
	s = sentry.StartSpan(ctx, "capture.decode")
	s.Description = "Decode and build capture"
	g, err := capture.Decode(ctx, bytes.NewReader(body), capture.Options{
		NumWorkers: env.config.DecodeWorkers,
		Logger:     &logger,
	})
	if err == nil {
		err = g.BuildAll(ctx, env.config.DecodeWorkers)
	}
	s.Finish()
	captureDecodeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn().Err(err).Msg("capture can't be decoded")
		status := statusFromError(err)
		if status == http.StatusInternalServerError {
			hub.CaptureException(err)
		}
		capturesReceived.WithLabelValues("invalid").Inc()
		w.WriteHeader(status)
		return
	}
	observeStats(g.Stats)

	s = sentry.StartSpan(ctx, "gcs.write")
	s.Description = "Write capture to storage"
	_, err = storageutil.CompressedCopy(ctx, env.storage, storageutil.CapturePath(cr.organizationID, captureID), bytes.NewReader(body))
	if err == nil {
		err = storageutil.CompressedWrite(ctx, env.storage, storageutil.SummaryPath(cr.organizationID, captureID), newCaptureSummary(captureID, g))
	}
	s.Finish()
	if err != nil {
		capturesReceived.WithLabelValues("storage_error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			// This is a transient error, we'll retry
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			hub.CaptureException(err)
			if code := gcerrors.Code(err); code == gcerrors.FailedPrecondition {
				w.WriteHeader(http.StatusPreconditionFailed)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
		return
	}

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Send functions to Kafka"
	err = env.publishFunctions(ctx, g, cr.organizationID, captureID)
	s.Finish()
	if err != nil {
		// the capture is stored, metrics can be recomputed from it
		hub.CaptureException(err)
		logger.Err(err).Msg("functions couldn't be published")
	}

	capturesReceived.WithLabelValues("stored").Inc()
	writeJSON(w, r, http.StatusCreated, PostCaptureResponse{
		CaptureID: captureID,
		Threads:   len(g.Threads),
		Frames:    g.Stats.Frames,
		Skipped:   g.Stats.Skipped,
		Ignored:   g.Stats.Ignored,
	})
}

func (env *environment) publishFunctions(ctx context.Context, g *capture.FrameGroup, organizationID uint64, captureID string) error {
	messages, err := buildFunctionsKafkaMessages(g, organizationID, captureID, env.config.Environment, time.Now().Unix())
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	km := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		km = append(km, kafka.Message{
			Topic: env.config.FunctionsKafkaTopic,
			Value: b,
		})
	}
	return env.functionsWriter.WriteMessages(ctx, km...)
}

func (env *environment) getCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		return
	}

	var summary CaptureSummary
	s := sentry.StartSpan(ctx, "gcs.read")
	s.Description = "Read capture summary"
	err := storageutil.UnmarshalCompressed(ctx, env.storage, storageutil.SummaryPath(cr.organizationID, cr.captureID), &summary)
	s.Finish()
	if err != nil {
		status := statusFromError(err)
		if status != http.StatusNotFound {
			hub.CaptureException(err)
		}
		w.WriteHeader(status)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}
