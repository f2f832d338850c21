package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/envutil"
	"github.com/getsentry/vroom-capture/internal/logutil"
	"github.com/getsentry/vroom-capture/internal/storageprovider"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

// errAlreadyDownloaded is returned for objects found at their destination.
var errAlreadyDownloaded = errors.New("already downloaded")

// destinationPath maps an object path of the form
// <organization_id>/captures/<capture_id> to <root>/<organization_id>/<capture_id>.bin.
func destinationPath(root, objectName string) (string, error) {
	parts := strings.Split(strings.Trim(objectName, "/"), "/")
	count := len(parts)
	if count < 3 || parts[count-2] != "captures" {
		return "", fmt.Errorf("unexpected object path: %s", objectName)
	}
	return filepath.Join(root, parts[count-3], parts[count-1]+".bin"), nil
}

// download fetches one capture, checks it decodes and writes the raw stream
// to its destination.
func download(ctx context.Context, h storageutil.ObjectHandler, root, objectName string) (capture.Stats, error) {
	path, err := destinationPath(root, objectName)
	if err != nil {
		return capture.Stats{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return capture.Stats{}, errAlreadyDownloaded
	}

	data, err := storageutil.ReadCompressed(ctx, h, strings.Trim(objectName, "/"))
	if err != nil {
		return capture.Stats{}, fmt.Errorf("%s: %w", objectName, err)
	}
	g, err := capture.Decode(ctx, bytes.NewReader(data), capture.Options{NumWorkers: 1})
	if err != nil {
		return capture.Stats{}, fmt.Errorf("%s: %w", objectName, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return g.Stats, err
	}
	return g.Stats, os.WriteFile(path, data, 0o644)
}

func worker(ctx context.Context, h storageutil.ObjectHandler, root string, objects <-chan string, errorsChan chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()
	for objectName := range objects {
		stats, err := download(ctx, h, root, objectName)
		if errors.Is(err, errAlreadyDownloaded) {
			continue
		}
		if err != nil {
			errorsChan <- err
			continue
		}
		log.Info().
			Str("object", objectName).
			Int("frames", stats.Frames).
			Int("skipped", stats.Skipped).
			Msg("downloaded")
	}
}

// downloadAll downloads every object listed in list on numWorkers
// goroutines and returns the errors encountered.
func downloadAll(ctx context.Context, h storageutil.ObjectHandler, root string, list *bufio.Scanner, numWorkers int) ([]error, error) {
	var wg sync.WaitGroup

	objects := make(chan string)
	errorsChan := make(chan error)
	for i := 0; i < max(numWorkers, 1); i++ {
		wg.Add(1)
		go worker(ctx, h, root, objects, errorsChan, &wg)
	}

	var (
		errs []error
		done = make(chan struct{})
	)
	go func() {
		for err := range errorsChan {
			log.Warn().Err(err).Msg("object couldn't be downloaded")
			errs = append(errs, err)
		}
		close(done)
	}()

	for list.Scan() {
		line := strings.TrimSpace(list.Text())
		if line == "" {
			continue
		}
		objects <- line
	}

	close(objects)
	wg.Wait()
	close(errorsChan)
	<-done
	return errs, list.Err()
}

func main() {
	logutil.ConfigureLogger(envutil.GetEnvOrFallback("LOG_LEVEL", "info"))

	args := os.Args[1:]
	if len(args) != 2 {
		fmt.Println("./downloader <file of relative object paths> <destination directory>")
		return
	}

	ctx := context.Background()
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("can't create a storage client")
	}
	defer storageClient.Close()

	bucket := envutil.GetEnvOrFallback("CAPTURES_BUCKET", "sentry-captures")
	h := &storageprovider.Gcs{BucketHandle: storageClient.Bucket(bucket)}

	file, err := os.Open(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("can't open object list")
	}
	defer file.Close()

	errs, err := downloadAll(ctx, h, args[1], bufio.NewScanner(file), envutil.GetIntOrFallback("DOWNLOAD_WORKERS", 32))
	if err != nil {
		log.Fatal().Err(err).Msg("can't read object list")
	}
	if len(errs) > 0 {
		log.Error().Int("errors", len(errs)).Msg("some objects couldn't be downloaded")
		os.Exit(1)
	}
}
