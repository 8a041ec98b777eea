// Package model contains the struct definitions shared across packages: staged
// files and their payloads, fraud logs, blacklist entries and submission shapes.
package model

import (
	"errors"
	"fmt"
	"time"
)

// FileStatus describes the processing lifecycle of a staged file.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusProcessed FileStatus = "processed"
	StatusError     FileStatus = "error"
)

// StagedFile is a user-provided file held by the review session while it awaits
// or has undergone processing.
type StagedFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	// Source is the local path the file was staged from.
	Source string `json:"source,omitempty"`
	// ObjectKey is set once the bytes were uploaded for background processing.
	ObjectKey string     `json:"objectKey,omitempty"`
	Status    FileStatus `json:"status"`
	Data      *Payload   `json:"data,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate checks that Data is present exactly when the file is processed.
func (f StagedFile) Validate() error {
	switch f.Status {
	case StatusProcessed:
		if f.Data == nil {
			return fmt.Errorf("file %s: processed without payload", f.ID)
		}
		return f.Data.Validate()
	case StatusPending, StatusError:
		if f.Data != nil {
			return fmt.Errorf("file %s: %s file carries a payload", f.ID, f.Status)
		}
		return nil
	default:
		return fmt.Errorf("file %s: unknown status %q", f.ID, f.Status)
	}
}

// Clone returns a deep copy so callers can mutate it freely.
func (f StagedFile) Clone() StagedFile {
	out := f
	if f.Data != nil {
		p := f.Data.Clone()
		out.Data = &p
	}
	return out
}

// WithResult returns a processed copy of f carrying payload.
func (f StagedFile) WithResult(payload Payload, at time.Time) StagedFile {
	out := f.Clone()
	out.Status = StatusProcessed
	out.Data = &payload
	out.Error = ""
	out.UpdatedAt = at
	return out
}

// WithError returns a failed copy of f carrying msg.
func (f StagedFile) WithError(msg string, at time.Time) StagedFile {
	out := f.Clone()
	out.Status = StatusError
	out.Data = nil
	out.Error = msg
	out.UpdatedAt = at
	return out
}

// ErrUnknownPayload is returned when a payload tag is not one of the known kinds.
var ErrUnknownPayload = errors.New("unknown payload kind")
