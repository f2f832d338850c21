package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/getsentry/vroom-capture/internal/capture"
)

var (
	capturesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captured",
		Name:      "captures_received_total",
		Help:      "Total number of captures posted, by outcome",
	}, []string{"outcome"})

	recordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captured",
		Name:      "records_total",
		Help:      "Total number of capture records read, by outcome",
	}, []string{"outcome"})

	captureDecodeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "captured",
		Name:      "decode_seconds",
		Help:      "Time spent decoding and building a capture",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

func observeStats(s capture.Stats) {
	recordsDecoded.WithLabelValues("decoded").Add(float64(s.Records - s.Skipped - s.Ignored))
	recordsDecoded.WithLabelValues("skipped").Add(float64(s.Skipped))
	recordsDecoded.WithLabelValues("ignored").Add(float64(s.Ignored))
}
