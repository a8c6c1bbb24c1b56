package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/grail/internal/store"
)

func TestActionStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewActionStore(10)
	ctx := context.Background()
	id := uuid.New()
	started := time.Unix(100, 0).UTC()

	if err := s.RecordStart(ctx, id, "render", "https://example.com", started); err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	if err := s.RecordAttemptFailure(ctx, id); err != nil {
		t.Fatalf("RecordAttemptFailure() error = %v", err)
	}
	if err := s.RecordArtifact(ctx, id, store.Artifact{Name: "final.html", Bytes: 42}); err != nil {
		t.Fatalf("RecordArtifact() error = %v", err)
	}
	if err := s.Complete(ctx, id, started.Add(time.Second), store.ActionSuccess, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	run, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.Status != store.ActionSuccess || run.FinishedAt == nil || run.FailedAttempts != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(run.Artifacts) != 1 || run.Artifacts[0].Bytes != 42 {
		t.Fatalf("unexpected artifacts: %+v", run.Artifacts)
	}

	run.Artifacts[0].Name = "modified"
	again, _ := s.Get(ctx, id)
	if again.Artifacts[0].Name != "final.html" {
		t.Fatal("expected Get to return a copy")
	}
}

func TestActionStoreUnknownID(t *testing.T) {
	t.Parallel()

	s := NewActionStore(1)
	ctx := context.Background()
	id := uuid.New()

	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Complete(ctx, id, time.Now(), store.ActionError, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActionStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewActionStore(2)
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := s.RecordStart(ctx, id, "render", "", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 retained, got %d", s.Len())
	}
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected oldest evicted, got %v", err)
	}
}

func TestActionStoreListFiltersAndPages(t *testing.T) {
	t.Parallel()

	s := NewActionStore(10)
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		if err := s.RecordStart(ctx, id, "render", "", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	msg := "boom"
	if err := s.Complete(ctx, ids[1], time.Now(), store.ActionError, &msg); err != nil {
		t.Fatal(err)
	}

	all, _ := s.List(ctx, nil, 10, 0)
	if len(all) != 5 || all[0].ID != ids[4] {
		t.Fatalf("expected newest first, got %+v", all)
	}

	page, _ := s.List(ctx, nil, 2, 1)
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[2] {
		t.Fatalf("unexpected page: %+v", page)
	}

	status := store.ActionError
	failed, _ := s.List(ctx, &status, 10, 0)
	if len(failed) != 1 || failed[0].ID != ids[1] || *failed[0].ErrorMessage != "boom" {
		t.Fatalf("unexpected filtered list: %+v", failed)
	}
}
