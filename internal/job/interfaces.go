package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Renderer loads a page in a browser and holds it open until the caller
// closes the returned Page.
type Renderer interface {
	// Ensure starts the shared browser if needed. It returns a dependency
	// error when no browser can be launched.
	Ensure(ctx context.Context) error
	Render(ctx context.Context, url string, wait WaitPolicy) (*Page, error)
	Close() error
}

// Extractor turns raw HTML into readable text plus structured metadata. It
// must not fail for any well-formed input.
type Extractor interface {
	Extract(html string, sourceURL string) Extraction
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator issues action identifiers.
type IDGenerator interface {
	NewID() uuid.UUID
}
