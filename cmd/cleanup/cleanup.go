package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"

	"github.com/getsentry/vroom-capture/internal/envutil"
	"github.com/getsentry/vroom-capture/internal/logutil"
	"github.com/getsentry/vroom-capture/internal/storageprovider"
)

// cleanup deletes every object of bucket last modified before timeLimit
// and returns how many were deleted.
func cleanup(ctx context.Context, bucket *blob.Bucket, timeLimit time.Time) (int, error) {
	var deleted int
	it := bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return deleted, nil
		}
		if err != nil {
			return deleted, err
		}
		if obj.IsDir || !timeLimit.After(obj.ModTime) {
			continue
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
}

func main() {
	logutil.ConfigureLogger(envutil.GetEnvOrFallback("LOG_LEVEL", "info"))

	err := sentry.Init(sentry.ClientOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	ctx := context.Background()
	url := envutil.GetEnvOrFallback("CAPTURES_BUCKET_URL", "file:///var/lib/sentry-captures")
	h, err := storageprovider.OpenBlob(ctx, url)
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("can't open bucket")
	}
	defer h.Close()

	retention := time.Duration(envutil.GetIntOrFallback("SENTRY_EVENT_RETENTION_DAYS", 90)) * 24 * time.Hour

	c := cron.New()
	_, err = c.AddFunc("@daily", func() {
		timeLimit := time.Now().Add(-retention)
		deleted, err := cleanup(ctx, h.Bucket, timeLimit)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("error cleaning up captures")
		}
		log.Info().Int("deleted", deleted).Time("time_limit", timeLimit).Msg("captures cleaned up")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't set up cron function")
	}

	exitSignal := make(chan os.Signal, 1)
	signal.Notify(exitSignal, os.Interrupt)

	go func() {
		<-exitSignal

		c.Stop()
	}()

	c.Run()
}
