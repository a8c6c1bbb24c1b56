// Package store declares interfaces for recording action history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("action record not found")

// ActionStatus is the lifecycle state of one recorded action.
type ActionStatus string

// Action statuses.
const (
	ActionRunning ActionStatus = "running"
	ActionSuccess ActionStatus = "success"
	ActionError   ActionStatus = "error"
)

// Artifact is a file written by an action.
type Artifact struct {
	Name  string
	Bytes int64
}

// ActionRun summarizes one render or extract action.
type ActionRun struct {
	// ID is the action identifier shared with progress events.
	ID uuid.UUID
	// Op is render or extract.
	Op string
	// URL is the target page, empty for inline-HTML extracts.
	URL string
	// StartedAt captures when the action began.
	StartedAt time.Time
	// FinishedAt is nil until the action completes.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status ActionStatus
	// FailedAttempts counts attempts that ended in error.
	FailedAttempts int
	// Artifacts lists files written so far.
	Artifacts []Artifact
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// ActionRepository records action progress.
type ActionRepository interface {
	// RecordStart inserts (or idempotently updates) a running action.
	RecordStart(ctx context.Context, id uuid.UUID, op, url string, startedAt time.Time) error
	// RecordAttemptFailure bumps the failed attempt counter.
	RecordAttemptFailure(ctx context.Context, id uuid.UUID) error
	// RecordArtifact appends a written artifact.
	RecordArtifact(ctx context.Context, id uuid.UUID, artifact Artifact) error
	// Complete marks the action finished with the provided status and error.
	Complete(ctx context.Context, id uuid.UUID, finishedAt time.Time, status ActionStatus, errMsg *string) error

	// Get loads a single action or returns ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (ActionRun, error)
	// List returns actions newest first, filtered by optional status plus limit/offset.
	List(ctx context.Context, status *ActionStatus, limit, offset int) ([]ActionRun, error)
}
