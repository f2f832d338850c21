package main

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/metrics"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

const (
	maxUniqueFunctions = 100
	maxNumOfExamples   = 5
)

type (
	postMetricsRequestBody struct {
		CaptureIDs []string `json:"capture_ids"`
	}

	postMetricsResponse struct {
		FunctionsMetrics []metrics.FunctionMetrics `json:"functions_metrics"`
	}
)

// postMetrics computes per-function self time percentiles across a set of
// stored captures. Captures that can't be read or decoded are left out.
func (env *environment) postMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	cr, ok := parseCaptureRequest(w, r, false)
	if !ok {
		return
	}

	var body postMetricsRequestBody
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

	s = sentry.StartSpan(ctx, "gcs.read")
	s.Description = "Read captures"
	results := storageutil.ReadAll(ctx, env.storage, cr.organizationID, body.CaptureIDs, env.config.ReadWorkers)
	s.Finish()

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Aggregate functions"
	ma := metrics.NewAggregator(maxUniqueFunctions, maxNumOfExamples)
	var aggregated int
	for _, res := range results {
		if err := res.Error(); err != nil {
			if !errors.Is(err, storageutil.ErrObjectNotFound) && hub != nil {
				hub.CaptureException(err)
			}
			log.Warn().Err(err).Str("capture_id", res.CaptureID).Msg("capture can't be read")
			continue
		}
		g, err := capture.Decode(ctx, bytes.NewReader(res.Data), capture.Options{NumWorkers: env.config.DecodeWorkers})
		if err == nil {
			err = g.BuildAll(ctx, env.config.DecodeWorkers)
		}
		if err != nil {
			log.Warn().Err(err).Str("capture_id", res.CaptureID).Msg("capture can't be decoded")
			continue
		}
		for _, td := range g.Threads {
			agg, err := td.Aggregation()
			if err != nil {
				continue
			}
			ma.AddFunctions(metrics.FunctionsFromAggregation(agg, g.Board), res.CaptureID)
		}
		aggregated++
	}
	s.Finish()

	if aggregated == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, r, http.StatusOK, postMetricsResponse{
		FunctionsMetrics: ma.ToMetrics(),
	})
}
