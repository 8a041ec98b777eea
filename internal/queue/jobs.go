// Package queue defines the asynq task used to process staged files in the
// background.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessStagedTask is enqueued once per staged file.
	ProcessStagedTask = "staged:process"
	// Name is the asynq queue the worker listens on.
	Name = "certdesk"
)

// ProcessPayload identifies the file to process.
type ProcessPayload struct {
	SessionID string `json:"session_id"`
	FileID    string `json:"file_id"`
}

// NewProcessTask builds the task for payload. Failed files are never retried
// automatically; users retry them explicitly.
func NewProcessTask(payload ProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ProcessStagedTask, data, asynq.MaxRetry(0), asynq.Queue(Name)), nil
}

// EnqueueProcess enqueues one staged file.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	task, err := NewProcessTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

// DecodePayload parses a task payload.
func DecodePayload(t *asynq.Task) (ProcessPayload, error) {
	var p ProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.SessionID == "" || p.FileID == "" {
		return p, fmt.Errorf("decode payload: session and file id required")
	}
	return p, nil
}
