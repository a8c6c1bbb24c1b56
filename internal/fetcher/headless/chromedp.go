// Package headless renders pages in a shared headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/policy/ratelimit"
)

// InstallHint is attached to dependency errors when no browser is usable.
const InstallHint = "install Google Chrome or Chromium, or set GRAIL_BROWSER_EXEC_PATH"

var (
	// ErrBrowserDisabled indicates rendering has been disabled via configuration.
	ErrBrowserDisabled = errors.New("browser disabled")
	// ErrBrowserNotFound indicates no Chrome executable could be located.
	ErrBrowserNotFound = errors.New("browser not installed")
	// ErrRendererClosed is returned after Close.
	ErrRendererClosed = errors.New("renderer closed")
)

var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// Defaults applied when the corresponding Config field is unset.
const (
	DefaultNetworkIdleTimeout = 30 * time.Second
	DefaultSelectorTimeout    = 10 * time.Second
)

// Config controls the chromedp renderer.
type Config struct {
	Disabled           bool
	ExecPath           string
	UserAgent          string
	NetworkIdleTimeout time.Duration
	SelectorTimeout    time.Duration
	DomainQPS          float64
}

// Renderer implements job.Renderer on top of one lazily started browser.
// Each Render opens its own tab, which stays open until the page is closed.
type Renderer struct {
	cfg      Config
	logger   *zap.Logger
	hosts    *ratelimit.HostLimiter
	lookPath func(string) (string, error)

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closed        bool
}

// New builds a Renderer. No browser is launched until Ensure is called.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = DefaultNetworkIdleTimeout
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = DefaultSelectorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Renderer{
		cfg:      cfg,
		logger:   logger,
		lookPath: exec.LookPath,
	}
	if cfg.DomainQPS > 0 {
		r.hosts = ratelimit.NewHostLimiter(ratelimit.HostConfig{QPS: cfg.DomainQPS, Burst: 1})
	}
	return r
}

// Ensure launches the shared browser on first use.
func (r *Renderer) Ensure(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("ensure browser: %w", ErrRendererClosed)
	}
	if r.browserCtx != nil {
		return nil
	}
	if r.cfg.Disabled {
		return job.DependencyError("browser", "", InstallHint, ErrBrowserDisabled)
	}
	execPath, err := r.findBrowser()
	if err != nil {
		return job.DependencyError("browser", "", InstallHint, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return job.DependencyError("browser", "", InstallHint, fmt.Errorf("launch %s: %w", execPath, err))
	}
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.allocCancel = allocCancel
	r.logger.Info("browser started", zap.String("exec_path", execPath))
	return nil
}

// Render opens a tab, navigates to rawURL and applies the wait policy. The
// caller owns the returned page and must Close it.
func (r *Renderer) Render(ctx context.Context, rawURL string, wait job.WaitPolicy) (*job.Page, error) {
	r.mu.Lock()
	browserCtx, closed := r.browserCtx, r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("render: %w", ErrRendererClosed)
	}
	if browserCtx == nil {
		return nil, errors.New("render: browser not started")
	}
	if r.hosts != nil {
		if err := r.hosts.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	stopForward := forwardCancel(ctx, cancelTab)
	release := func() error {
		stopForward()
		cancelTab()
		return nil
	}

	pg, err := r.load(ctx, tabCtx, rawURL, wait)
	if err != nil {
		_ = release()
		return nil, err
	}
	pg.Release = release
	pg.Capture = func(ctx context.Context) ([]byte, error) {
		return capture(ctx, tabCtx)
	}
	return pg, nil
}

// Close shuts the shared browser down. Later calls are no-ops.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
		r.allocCancel()
		r.logger.Info("browser closed")
	}
	return nil
}

func (r *Renderer) load(ctx, tabCtx context.Context, rawURL string, wait job.WaitPolicy) (*job.Page, error) {
	tracker := newLifecycle()
	chromedp.ListenTarget(tabCtx, tracker.observe)

	// The first Run allocates the tab and ties its lifetime to tabCtx, so it
	// must not carry the navigation deadline.
	if err := chromedp.Run(tabCtx, r.setupAction()); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NetworkIdleTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := r.applyWait(navCtx, tabCtx, tracker, wait); err != nil {
		return nil, err
	}

	var title, html, finalURL string
	if err := chromedp.Run(tabCtx,
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return &job.Page{
		URL:      rawURL,
		FinalURL: finalURL,
		Title:    title,
		HTML:     html,
	}, nil
}

func (r *Renderer) applyWait(navCtx, tabCtx context.Context, tracker *lifecycle, wait job.WaitPolicy) error {
	switch wait.Strategy {
	case job.WaitSelector:
		selCtx, cancel := context.WithTimeout(tabCtx, r.cfg.SelectorTimeout)
		defer cancel()
		if err := chromedp.Run(selCtx, chromedp.WaitReady(wait.Selector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("wait for selector %q: %w", wait.Selector, err)
		}
	case job.WaitTimeout:
		if err := chromedp.Run(tabCtx, chromedp.Sleep(wait.Delay())); err != nil {
			return fmt.Errorf("wait timeout: %w", err)
		}
	default:
		c := chromedp.FromContext(tabCtx)
		if c == nil || c.Target == nil {
			return errors.New("wait for network idle: no target")
		}
		if err := tracker.waitIdle(navCtx, cdp.FrameID(c.Target.TargetID)); err != nil {
			return fmt.Errorf("wait for network idle: %w", err)
		}
	}
	return nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) findBrowser() (string, error) {
	if r.cfg.ExecPath != "" {
		path, err := r.lookPath(r.cfg.ExecPath)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBrowserNotFound, r.cfg.ExecPath)
		}
		return path, nil
	}
	for _, name := range browserCandidates {
		if path, err := r.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBrowserNotFound
}

func capture(ctx, tabCtx context.Context) ([]byte, error) {
	shotCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var buf []byte
	// Quality 100 selects lossless PNG encoding.
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	return buf, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
