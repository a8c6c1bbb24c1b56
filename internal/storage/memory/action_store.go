// Package memory provides in-process implementations of the store interfaces.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/grail/internal/store"
)

const defaultCapacity = 500

// ActionStore keeps the most recent actions in memory. Once capacity is
// reached the oldest action is evicted.
type ActionStore struct {
	mu       sync.RWMutex
	capacity int
	runs     map[uuid.UUID]*store.ActionRun
	order    []uuid.UUID
}

// NewActionStore constructs an ActionStore. Non-positive capacities use the default.
func NewActionStore(capacity int) *ActionStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ActionStore{
		capacity: capacity,
		runs:     make(map[uuid.UUID]*store.ActionRun),
	}
}

// RecordStart stores a running action. Repeated starts only refresh the
// fields that were empty.
func (s *ActionStore) RecordStart(_ context.Context, id uuid.UUID, op, url string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		if run.Op == "" {
			run.Op = op
		}
		if run.URL == "" {
			run.URL = url
		}
		return nil
	}
	s.runs[id] = &store.ActionRun{
		ID:        id,
		Op:        op,
		URL:       url,
		StartedAt: startedAt,
		Status:    store.ActionRunning,
	}
	s.order = append(s.order, id)
	s.evictLocked()
	return nil
}

// RecordAttemptFailure bumps the failed attempt counter.
func (s *ActionStore) RecordAttemptFailure(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FailedAttempts++
	return nil
}

// RecordArtifact appends an artifact to the action.
func (s *ActionStore) RecordArtifact(_ context.Context, id uuid.UUID, artifact store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.Artifacts = append(run.Artifacts, artifact)
	return nil
}

// Complete marks the action finished.
func (s *ActionStore) Complete(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.ActionStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	return nil
}

// Get returns a copy of one action.
func (s *ActionStore) Get(_ context.Context, id uuid.UUID) (store.ActionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ActionRun{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// List returns actions newest first.
func (s *ActionStore) List(_ context.Context, status *store.ActionStatus, limit, offset int) ([]store.ActionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ActionRun, 0, limit)
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		run := s.runs[s.order[i]]
		if status != nil && run.Status != *status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, cloneRun(run))
	}
	return out, nil
}

// Len returns the number of retained actions.
func (s *ActionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *ActionStore) evictLocked() {
	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func cloneRun(run *store.ActionRun) store.ActionRun {
	out := *run
	out.Artifacts = append([]store.Artifact(nil), run.Artifacts...)
	if run.FinishedAt != nil {
		out.FinishedAt = pointerTime(*run.FinishedAt)
	}
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

var _ store.ActionRepository = (*ActionStore)(nil)
