package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

type captureRequest struct {
	organizationID uint64
	captureID      string
	threadIndex    int
}

// parseCaptureRequest reads the path parameters common to the capture
// routes and tags the hub with them. It writes a 400 and returns false if
// one of them is malformed.
func parseCaptureRequest(w http.ResponseWriter, r *http.Request, withThread bool) (captureRequest, bool) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)

	var cr captureRequest
	rawOrganizationID := ps.ByName("organization_id")
	organizationID, err := strconv.ParseUint(rawOrganizationID, 10, 64)
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return cr, false
	}
	cr.organizationID = organizationID
	cr.captureID = ps.ByName("capture_id")

	if hub != nil {
		hub.Scope().SetTag("organization_id", rawOrganizationID)
		if cr.captureID != "" {
			hub.Scope().SetTag("capture_id", cr.captureID)
		}
	}

	if !withThread {
		return cr, true
	}
	rawThreadIndex := ps.ByName("thread_index")
	cr.threadIndex, err = strconv.Atoi(rawThreadIndex)
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return cr, false
	}
	if hub != nil {
		hub.Scope().SetTag("thread_index", rawThreadIndex)
	}
	return cr, true
}

// loadCapture reads a stored capture back and decodes it. Nothing is built.
func (env *environment) loadCapture(ctx context.Context, organizationID uint64, captureID string) (*capture.FrameGroup, error) {
	s := sentry.StartSpan(ctx, "gcs.read")
	s.Description = "Read capture"
	data, err := storageutil.ReadCompressed(ctx, env.storage, storageutil.CapturePath(organizationID, captureID))
	s.Finish()
	if err != nil {
		return nil, err
	}

	s = sentry.StartSpan(ctx, "capture.decode")
	s.Description = "Decode capture"
	defer s.Finish()
	return capture.Decode(ctx, bytes.NewReader(data), capture.Options{NumWorkers: env.config.DecodeWorkers})
}

// statusFromError maps a storage or decoding error to a response status.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, storageutil.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorutil.ErrDataIntegrity), errors.Is(err, errorutil.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// threadFromRequest loads the capture and returns the requested thread,
// writing the error status itself when it can't.
func (env *environment) threadFromRequest(w http.ResponseWriter, r *http.Request) (*capture.FrameGroup, *capture.ThreadData, bool) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, true)
	if !ok {
		return nil, nil, false
	}
	g, err := env.loadCapture(ctx, cr.organizationID, cr.captureID)
	if err != nil {
		status := statusFromError(err)
		if hub != nil && status != http.StatusNotFound {
			hub.CaptureException(err)
		}
		w.WriteHeader(status)
		return nil, nil, false
	}
	td, err := g.Thread(cr.threadIndex)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return nil, nil, false
	}
	return g, td, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	s := sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()
	b, err := json.Marshal(v)
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
