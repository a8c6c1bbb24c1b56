package job

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScreenshot is returned when a page cannot produce a screenshot.
var ErrNoScreenshot = errors.New("screenshot not supported")

// Page is a rendered document plus the per-attempt browser resources backing
// it. Close releases those resources and is safe to call more than once.
type Page struct {
	URL      string
	FinalURL string
	Title    string
	HTML     string

	// Capture takes a full-page PNG while the page is still open.
	Capture func(ctx context.Context) ([]byte, error)
	// Release frees the per-attempt resources.
	Release func() error

	closeOnce sync.Once
	closeErr  error
}

// Screenshot returns a PNG of the page.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if p == nil || p.Capture == nil {
		return nil, ErrNoScreenshot
	}
	return p.Capture(ctx)
}

// Close releases the page's resources exactly once.
func (p *Page) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if p.Release != nil {
			p.closeErr = p.Release()
		}
	})
	return p.closeErr
}
