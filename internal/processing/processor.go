// Package processing turns pending staged files into processed or failed ones.
// Files are handled one at a time, in submission order, by a single worker
// goroutine so the OCR backend never sees more than one upload per client.
package processing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

// Processor handles one staged file and returns its updated copy.
type Processor interface {
	Process(ctx context.Context, f model.StagedFile) model.StagedFile
}

// Job is one queued file. Done receives the updated file from the worker
// goroutine with attempted set, or the unchanged file with attempted false when
// the queue was cancelled first.
type Job struct {
	File model.StagedFile
	Done func(f model.StagedFile, attempted bool)
}

// Queue is a single-worker FIFO in front of a Processor.
type Queue struct {
	processor Processor
	jobs      chan Job
	logger    *slog.Logger
}

// NewQueue builds a Queue that buffers up to size jobs.
func NewQueue(p Processor, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		processor: p,
		jobs:      make(chan Job, size),
		logger:    logger,
	}
}

// Start launches the worker goroutine; it exits when ctx is done.
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

// Submit queues a job, waiting while the buffer is full. If ctx is done first
// the job is reported unattempted and ctx.Err() is returned.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		job.Done(job.File, false)
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.logger.Debug("submit cancelled", "file", job.File.Name, "id", job.File.ID)
		job.Done(job.File, false)
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if ctx.Err() != nil {
				job.Done(job.File, false)
				continue
			}
			start := time.Now()
			result := q.processor.Process(ctx, job.File)
			q.logger.Debug("file processed",
				"file", job.File.Name,
				"status", result.Status,
				"duration", time.Since(start))
			job.Done(result, true)
		}
	}
}
