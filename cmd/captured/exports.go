package main

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"

	"github.com/getsentry/vroom-capture/internal/chrometrace"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/flamegraph"
	"github.com/getsentry/vroom-capture/internal/speedscope"
)

type postFlamegraphRequestBody struct {
	CaptureIDs   []string `json:"capture_ids"`
	MinFrequency *int64   `json:"min_frequency,omitempty"`
}

// getSpeedscope returns a stored capture in the speedscope file format.
func (env *environment) getSpeedscope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		return
	}

	g, err := env.loadCapture(ctx, cr.organizationID, cr.captureID)
	if err == nil {
		err = g.BuildAll(ctx, env.config.DecodeWorkers)
	}
	if err != nil {
		status := statusFromError(err)
		if status == http.StatusInternalServerError && hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(status)
		return
	}

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Convert to speedscope"
	o, err := speedscope.FromCapture(cr.captureID, g)
	s.Finish()
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(statusFromError(err))
		return
	}
	writeJSON(w, r, http.StatusOK, o)
}

// getChromeTrace returns the instrumented frames of a stored capture in the
// Chrome Trace Event format.
func (env *environment) getChromeTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		return
	}

	g, err := env.loadCapture(ctx, cr.organizationID, cr.captureID)
	if err != nil {
		status := statusFromError(err)
		if status == http.StatusInternalServerError && hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(status)
		return
	}

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Convert to a chrome trace"
	trace := chrometrace.FromCapture(cr.captureID, g)
	s.Finish()
	writeJSON(w, r, http.StatusOK, trace)
}

// postFlamegraph merges the sampled call-stacks of a set of stored captures.
func (env *environment) postFlamegraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		return
	}

	var body postFlamegraphRequestBody
	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Decoding data"
	err := json.NewDecoder(r.Body).Decode(&body)
	s.Finish()
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body.CaptureIDs) == 0 {
		http.Error(w, "expected at least one capture id", http.StatusBadRequest)
		return
	}
	minFreq := int64(flamegraph.DefaultMinFrequency)
	if body.MinFrequency != nil {
		minFreq = *body.MinFrequency
	}

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Aggregate sampled trees"
	o, err := flamegraph.GetFlamegraphFromCaptures(ctx, env.storage, cr.organizationID, body.CaptureIDs, env.config.ReadWorkers, minFreq)
	s.Finish()
	if err != nil {
		if errors.Is(err, errorutil.ErrNoResults) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, o)
}
