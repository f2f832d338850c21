package main

type (
	// ServiceConfig is seeded from serviceConfigs, then overridden by any
	// environment variable set for a field.
	ServiceConfig struct {
		Environment string

		SentryDSN string `env:"SENTRY_DSN"`

		FunctionsKafkaBrokers []string `env:"FUNCTIONS_KAFKA_BROKERS"`
		FunctionsKafkaTopic   string   `env:"FUNCTIONS_KAFKA_TOPIC"`

		// CapturesBucket is a GCS bucket name. CapturesBucketURL, when set,
		// takes precedence and can point at any gocloud bucket.
		CapturesBucket    string `env:"CAPTURES_BUCKET"`
		CapturesBucketURL string `env:"CAPTURES_BUCKET_URL"`
		// CacheDirectory enables a local badger cache of captures.
		CacheDirectory string `env:"CAPTURES_CACHE_DIRECTORY"`

		DecodeWorkers int `env:"DECODE_WORKERS"`
		ReadWorkers   int `env:"READ_WORKERS"`

		// MaxCaptureSize bounds the body of an uploaded capture, in bytes.
		MaxCaptureSize int64 `env:"MAX_CAPTURE_SIZE"`
	}
)

const defaultMaxCaptureSize = 512 << 20

var (
	serviceConfigs = map[string]ServiceConfig{
		"production": {
			CapturesBucket:        "sentry-captures",
			CacheDirectory:        "/var/cache/captured",
			FunctionsKafkaTopic:   "capture-functions",
			FunctionsKafkaBrokers: []string{"specto-dev-kafka.service.us-central1.consul:9092"},
			DecodeWorkers:         8,
			ReadWorkers:           10,
			MaxCaptureSize:        defaultMaxCaptureSize,
		},
		"development": {
			CapturesBucketURL:     "file:///tmp/sentry-captures",
			FunctionsKafkaTopic:   "capture-functions",
			FunctionsKafkaBrokers: []string{"localhost:9092"},
			DecodeWorkers:         4,
			ReadWorkers:           4,
			MaxCaptureSize:        defaultMaxCaptureSize,
		},
	}
)
