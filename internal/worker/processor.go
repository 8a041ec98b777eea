// Package worker processes staged files enqueued by "certdesk process --async".
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/processing"
	"github.com/dharsanguruparan/certdesk/internal/queue"
	"github.com/dharsanguruparan/certdesk/internal/review"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

// Sessions is the session store the worker reads and updates transactionally.
type Sessions interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Update(ctx context.Context, id string, fn func([]byte) ([]byte, error)) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	sessions Sessions
	files    processing.Processor
	logger   *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(sessions Sessions, files processing.Processor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{sessions: sessions, files: files, logger: logger}
}

// Handler registers the process task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(queue.ProcessStagedTask, p)
	return mux
}

// ProcessTask implements asynq.Handler. Per-file failures are recorded on the
// file and are not task errors; only infrastructure failures fail the task.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger := p.logger.With("session", payload.SessionID, "file_id", payload.FileID)

	data, err := p.sessions.Load(ctx, payload.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("session gone, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	st, err := review.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	f, ok := st.File(payload.FileID)
	if !ok {
		logger.Info("file no longer staged, skipping")
		return nil
	}
	if f.Status == model.StatusProcessed {
		logger.Info("file already processed, skipping")
		return nil
	}

	res := p.files.Process(ctx, f)
	err = p.sessions.Update(ctx, payload.SessionID, func(current []byte) ([]byte, error) {
		st, err := review.Decode(current)
		if err != nil {
			return nil, err
		}
		next, err := st.ApplyResult(res)
		if errors.Is(err, review.ErrUnknownFile) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}
		if res.Status == model.StatusProcessed {
			next = next.Select(res.ID)
		}
		return review.Encode(next)
	})
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	logger.Info("file processed", "name", res.Name, "status", res.Status, "error", res.Error)
	return nil
}
