// Package progress defines the event structures emitted by the engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageActionStart Stage = "ACTION_START"
	StageAttemptFail Stage = "ATTEMPT_FAIL"
	StageArtifact    Stage = "ARTIFACT"
	StageActionDone  Stage = "ACTION_DONE"
	StageActionError Stage = "ACTION_ERROR"
)

// Event captures a single milestone of one render or extract action.
type Event struct {
	// ActionID uniquely identifies an action using the 16-byte UUID form.
	ActionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Op is the operation name (render, extract).
	Op string
	// Site scopes the event to a host label.
	Site string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Attempt is the 1-based attempt number for ATTEMPT_FAIL.
	Attempt int
	// Artifact names the file written for ARTIFACT events.
	Artifact string
	// Bytes carries the artifact size.
	Bytes int64
	// Dur captures action latency on completion.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ActionID == [16]byte{} {
		return errors.New("action id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Op == "" {
		return errors.New("op is required")
	}
	switch e.Stage {
	case StageActionStart, StageActionDone, StageActionError:
	case StageAttemptFail:
		if e.Attempt <= 0 {
			return errors.New("attempt failure requires attempt number")
		}
	case StageArtifact:
		if e.Artifact == "" {
			return errors.New("artifact event requires artifact name")
		}
		if e.Bytes < 0 {
			return errors.New("bytes must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ActionUUID converts the binary action ID to uuid.UUID for repositories.
func (e Event) ActionUUID() uuid.UUID {
	return uuid.UUID(e.ActionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
