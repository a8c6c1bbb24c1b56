package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/progress"
	"github.com/JakeFAU/grail/internal/store"
)

// StoreSink records action history via a store.ActionRepository.
type StoreSink struct {
	repo   store.ActionRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ActionRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards each event to the repository. Updates for actions the
// repository no longer holds are skipped; other repository errors are
// returned verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Debug("progress for unknown action", zap.String("action_id", evt.ActionUUID().String()))
				continue
			}
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	id := evt.ActionUUID()
	switch evt.Stage {
	case progress.StageActionStart:
		if err := s.repo.RecordStart(ctx, id, evt.Op, evt.URL, evt.TS); err != nil {
			return fmt.Errorf("record action start: %w", err)
		}
	case progress.StageAttemptFail:
		if err := s.repo.RecordAttemptFailure(ctx, id); err != nil {
			return fmt.Errorf("record attempt failure: %w", err)
		}
	case progress.StageArtifact:
		artifact := store.Artifact{Name: evt.Artifact, Bytes: evt.Bytes}
		if err := s.repo.RecordArtifact(ctx, id, artifact); err != nil {
			return fmt.Errorf("record artifact: %w", err)
		}
	case progress.StageActionDone:
		if err := s.repo.Complete(ctx, id, evt.TS, store.ActionSuccess, nil); err != nil {
			return fmt.Errorf("complete action: %w", err)
		}
	case progress.StageActionError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.Complete(ctx, id, evt.TS, store.ActionError, note); err != nil {
			return fmt.Errorf("complete action: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
