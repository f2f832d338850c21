package storageutil

import "context"

type (
	ReadJob struct {
		Ctx            context.Context
		Storage        ObjectHandler
		OrganizationID uint64
		CaptureID      string
		Result         chan<- ReadJobResult
	}

	ReadJobResult struct {
		CaptureID string
		Data      []byte
		Err       error
	}
)

// Read fetches the raw stream of a capture and sends it on the job's result
// channel.
func (job ReadJob) Read() {
	data, err := ReadCompressed(job.Ctx, job.Storage, CapturePath(job.OrganizationID, job.CaptureID))
	job.Result <- ReadJobResult{CaptureID: job.CaptureID, Data: data, Err: err}
}

func (result ReadJobResult) Error() error {
	return result.Err
}

// ReadAll runs jobs on numWorkers goroutines and returns the results in the
// order they completed.
func ReadAll(ctx context.Context, storage ObjectHandler, organizationID uint64, captureIDs []string, numWorkers int) []ReadJobResult {
	jobs := make(chan ReadJob, len(captureIDs))
	results := make(chan ReadJobResult, len(captureIDs))
	for i := 0; i < max(numWorkers, 1); i++ {
		go func() {
			for job := range jobs {
				job.Read()
			}
		}()
	}
	for _, id := range captureIDs {
		jobs <- ReadJob{
			Ctx:            ctx,
			Storage:        storage,
			OrganizationID: organizationID,
			CaptureID:      id,
			Result:         results,
		}
	}
	close(jobs)

	out := make([]ReadJobResult, 0, len(captureIDs))
	for range captureIDs {
		out = append(out, <-results)
	}
	return out
}
