package headless

import (
	"context"

	"github.com/JakeFAU/grail/internal/job"
)

// Disabled implements job.Renderer for daemons started without a browser.
// Every call reports a dependency error so callers get the install hint.
type Disabled struct{}

// NewDisabled creates a Disabled renderer.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Ensure always fails.
func (Disabled) Ensure(context.Context) error {
	return job.DependencyError("browser", "", InstallHint, ErrBrowserDisabled)
}

// Render always fails.
func (Disabled) Render(_ context.Context, rawURL string, _ job.WaitPolicy) (*job.Page, error) {
	return nil, job.DependencyError("render", rawURL, InstallHint, ErrBrowserDisabled)
}

// Close is a no-op.
func (Disabled) Close() error {
	return nil
}
