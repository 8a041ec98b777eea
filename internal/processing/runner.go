package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/review"
)

// Session is the part of the review controller the runner drives.
type Session interface {
	State() review.State
	ApplyResult(ctx context.Context, f model.StagedFile) error
	AutoSelect(ctx context.Context) (review.State, error)
	Select(ctx context.Context, ids ...string) (review.State, error)
}

// ErrAlreadyProcessed is returned by Retry for files that need no retry.
var ErrAlreadyProcessed = errors.New("file already processed")

// Runner feeds pending files of a session through a Queue.
type Runner struct {
	session Session
	queue   *Queue
	logger  *slog.Logger
}

// NewRunner builds a Runner. The queue must have been started.
func NewRunner(session Session, queue *Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{session: session, queue: queue, logger: logger}
}

// ProcessAll processes every pending file in collection order. Each result is
// stored in the session as soon as it is available. Once the batch is done all
// processed files are selected and the files processed by this batch are
// returned. If ctx is cancelled the batch stops between files, files not yet
// attempted stay pending and ctx.Err() is returned with the partial batch.
func (r *Runner) ProcessAll(ctx context.Context) ([]model.StagedFile, error) {
	var pending []model.StagedFile
	for _, f := range r.session.State().Files {
		if f.Status == model.StatusPending {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	r.logger.Info("processing batch", "files", len(pending))

	results, err := r.run(ctx, pending)
	if err != nil {
		return successes(pending, results), err
	}
	if _, err := r.session.AutoSelect(ctx); err != nil {
		return successes(pending, results), fmt.Errorf("auto-select: %w", err)
	}
	done := successes(pending, results)
	r.logger.Info("batch finished", "processed", len(done), "failed", len(pending)-len(done))
	return done, nil
}

// Retry processes one failed or pending file again and selects it on success.
func (r *Runner) Retry(ctx context.Context, id string) (model.StagedFile, error) {
	f, ok := r.session.State().File(id)
	if !ok {
		return model.StagedFile{}, fmt.Errorf("%w %s", review.ErrUnknownFile, id)
	}
	if f.Status == model.StatusProcessed {
		return f, fmt.Errorf("%w: %s", ErrAlreadyProcessed, f.Name)
	}
	results, err := r.run(ctx, []model.StagedFile{f})
	if err != nil {
		return f, err
	}
	res := results[id]
	if res.Status == model.StatusProcessed {
		if _, err := r.session.Select(ctx, id); err != nil {
			return res, fmt.Errorf("select: %w", err)
		}
	}
	return res, nil
}

// run queues files and waits for all of them, or for ctx.
func (r *Runner) run(ctx context.Context, files []model.StagedFile) (map[string]model.StagedFile, error) {
	type outcome struct {
		file      model.StagedFile
		attempted bool
	}
	ch := make(chan outcome, len(files))
	// ch holds every outcome, so the worker never waits on it while Submit
	// waits for room in the queue.
	for _, f := range files {
		job := Job{
			File: f,
			Done: func(res model.StagedFile, attempted bool) {
				if attempted {
					if err := r.session.ApplyResult(context.WithoutCancel(ctx), res); err != nil {
						r.logger.Warn("store result failed", "file", res.Name, "error", err)
					}
				}
				ch <- outcome{file: res, attempted: attempted}
			},
		}
		if err := r.queue.Submit(ctx, job); err != nil {
			break
		}
	}

	results := make(map[string]model.StagedFile, len(files))
	for range files {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case o := <-ch:
			if o.attempted {
				results[o.file.ID] = o.file
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func successes(files []model.StagedFile, results map[string]model.StagedFile) []model.StagedFile {
	var out []model.StagedFile
	for _, f := range files {
		if res, ok := results[f.ID]; ok && res.Status == model.StatusProcessed {
			out = append(out, res)
		}
	}
	return out
}
