package main

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/metrics"
)

type (
	KafkaWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// FunctionsKafkaMessage carries the self times of the functions of one
	// thread of a capture.
	FunctionsKafkaMessage struct {
		CaptureID      string             `json:"capture_id"`
		Environment    string             `json:"environment,omitempty"`
		Functions      []metrics.Function `json:"functions"`
		OrganizationID uint64             `json:"organization_id"`
		Received       int64              `json:"received"`
		ThreadID       uint64             `json:"thread_id"`
		ThreadName     string             `json:"thread_name"`
	}
)

func buildFunctionsKafkaMessages(g *capture.FrameGroup, organizationID uint64, captureID, environment string, received int64) ([]FunctionsKafkaMessage, error) {
	messages := make([]FunctionsKafkaMessage, 0, len(g.Threads))
	for _, td := range g.Threads {
		agg, err := td.Aggregation()
		if err != nil {
			return nil, err
		}
		if agg.Len() == 0 {
			continue
		}
		messages = append(messages, FunctionsKafkaMessage{
			CaptureID:      captureID,
			Environment:    environment,
			Functions:      metrics.FunctionsFromAggregation(agg, g.Board),
			OrganizationID: organizationID,
			Received:       received,
			ThreadID:       td.Description.ThreadID,
			ThreadName:     td.Description.Name,
		})
	}
	return messages, nil
}
