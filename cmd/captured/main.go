package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/CAFxX/httpcompression"
	"github.com/dgraph-io/badger/v4"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/vroom-capture/internal/envutil"
	"github.com/getsentry/vroom-capture/internal/httputil"
	"github.com/getsentry/vroom-capture/internal/logutil"
	"github.com/getsentry/vroom-capture/internal/storageprovider"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

type environment struct {
	config ServiceConfig

	functionsWriter KafkaWriter

	storage storageutil.ObjectHandler
	closers []io.Closer
}

var release string

func newEnvironment() (*environment, error) {
	envName := envutil.GetEnvOrFallback("SENTRY_ENVIRONMENT", "development")
	var e environment
	var exists bool
	e.config, exists = serviceConfigs[envName]
	if !exists {
		return nil, fmt.Errorf("service config for environment %v does not exist", envName)
	}
	if err := cleanenv.ReadEnv(&e.config); err != nil {
		return nil, err
	}
	e.config.Environment = envName

	ctx := context.Background()
	if e.config.CapturesBucketURL != "" {
		b, err := storageprovider.OpenBlob(ctx, e.config.CapturesBucketURL)
		if err != nil {
			return nil, err
		}
		e.storage = b
		e.closers = append(e.closers, b)
	} else {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		e.storage = &storageprovider.Gcs{BucketHandle: client.Bucket(e.config.CapturesBucket)}
		e.closers = append(e.closers, client)
	}
	if e.config.CacheDirectory != "" {
		db, err := badger.Open(badger.DefaultOptions(e.config.CacheDirectory).WithLogger(nil))
		if err != nil {
			return nil, err
		}
		e.storage = &storageprovider.Cached{
			Cache:  &storageprovider.Badger{DB: db},
			Origin: e.storage,
		}
		e.closers = append(e.closers, db)
	}

	e.functionsWriter = &kafka.Writer{
		Addr:         kafka.TCP(e.config.FunctionsKafkaBrokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    10,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		Topic:        e.config.FunctionsKafkaTopic,
		WriteTimeout: 3 * time.Second,
	}
	return &e, nil
}

func (e *environment) shutdown() {
	err := e.functionsWriter.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodPost, "/organizations/:organization_id/captures", e.postCapture},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id", e.getCapture},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id/threads/:thread_index/functions", e.getFunctions},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id/threads/:thread_index/calltree", e.getCallTree},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id/threads/:thread_index/sampling", e.getSampling},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id/speedscope", e.getSpeedscope},
		{http.MethodGet, "/organizations/:organization_id/captures/:capture_id/chrometrace", e.getChromeTrace},
		{http.MethodPost, "/organizations/:organization_id/metrics", e.postMetrics},
		{http.MethodPost, "/organizations/:organization_id/flamegraph", e.postFlamegraph},
		{http.MethodGet, "/health", e.getHealth},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router, nil
}

func main() {
	logutil.ConfigureLogger(envutil.GetEnvOrFallback("LOG_LEVEL", "info"))

	env, err := newEnvironment()
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		BeforeSend:       httputil.SetHTTPStatusCodeTag,
		Dsn:              env.config.SentryDSN,
		EnableTracing:    true,
		Environment:      env.config.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:              ":" + envutil.GetPort(),
		Handler:           sentryhttp.New(sentryhttp.Options{}).Handle(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	waitForShutdown := make(chan os.Signal)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	log.Info().Str("addr", server.Addr).Str("environment", env.config.Environment).Msg("listening")
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
