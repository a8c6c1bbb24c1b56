// Package uuid generates action identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates time-ordered action ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 so ids sort by start time. If the v7 source fails it
// falls back to a random v4.
func (Generator) NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
