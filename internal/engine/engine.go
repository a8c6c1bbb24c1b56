// Package engine executes render, extract and batch jobs under the daemon's
// admission, rate and retry policies, and persists their artifacts.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/dispatcher"
	idgen "github.com/JakeFAU/grail/internal/id/uuid"
	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/policy/admission"
	"github.com/JakeFAU/grail/internal/policy/ratelimit"
	"github.com/JakeFAU/grail/internal/progress"
	"github.com/JakeFAU/grail/internal/retry"
	"github.com/JakeFAU/grail/internal/storage/runcache"
	"github.com/JakeFAU/grail/internal/telemetry"
)

// Operation names used for errors, metrics and run directory prefixes.
const (
	OpRender  = "render"
	OpExtract = "extract"
	OpBatch   = "batch"
)

// Config holds the engine limits.
type Config struct {
	MaxParallel       int
	RequestsPerSecond int
	Retry             retry.Policy
	Screenshot        bool
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Renderer  job.Renderer
	Extractor job.Extractor
	Cache     *runcache.Cache
	Emitter   progress.Emitter
	Clock     job.Clock
	IDs       job.IDGenerator
	Logger    *zap.Logger
}

// Engine runs jobs. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	renderer  job.Renderer
	extractor job.Extractor
	cache     *runcache.Cache
	admission *admission.Controller
	window    *ratelimit.Window
	executor  *retry.Executor
	emitter   progress.Emitter
	clock     job.Clock
	ids       job.IDGenerator
	logger    *zap.Logger
}

// Stats is a point-in-time view of the engine's limits and load.
type Stats struct {
	MaxParallel       int
	RequestsPerSecond int
	InFlight          int
	Waiting           int
}

// New builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("run cache is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	policy := cfg.Retry
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = job.Retryable
	}
	return &Engine{
		cfg:       cfg,
		renderer:  deps.Renderer,
		extractor: deps.Extractor,
		cache:     deps.Cache,
		admission: admission.New(cfg.MaxParallel),
		window:    ratelimit.NewWindow(cfg.RequestsPerSecond),
		executor:  retry.New(policy, logger.Named("retry")),
		emitter:   deps.Emitter,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    logger,
	}, nil
}

// Stats reports current limits and load.
func (e *Engine) Stats() Stats {
	return Stats{
		MaxParallel:       e.admission.Limit(),
		RequestsPerSecond: e.window.Limit(),
		InFlight:          e.admission.InFlight(),
		Waiting:           e.admission.Waiting(),
	}
}

// Close releases the renderer's shared browser.
func (e *Engine) Close() error {
	if err := e.renderer.Close(); err != nil {
		return fmt.Errorf("close renderer: %w", err)
	}
	return nil
}

// Render loads req.URL in the browser and writes final.html, plus page.png
// when screenshots are enabled and succeed.
func (e *Engine) Render(ctx context.Context, req job.Request) (*job.RenderResult, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, job.InputError(OpRender, "", "url is required")
	}
	wait, err := job.ResolveWait(req.Wait)
	if err != nil {
		return nil, job.InputError(OpRender, url, err.Error())
	}
	if err := e.renderer.Ensure(ctx); err != nil {
		return nil, withURL(err, OpRender, url)
	}

	ctx, span := telemetry.StartSpan(ctx, "engine.render", attribute.String("url", url))
	act := e.begin(OpRender, url)
	result, err := e.render(ctx, act, url, strings.TrimSpace(req.OutDir), wait)
	act.finish(err)
	telemetry.EndSpan(span, err)
	return result, err
}

func (e *Engine) render(ctx context.Context, act *action, url, outDir string, wait job.WaitPolicy) (*job.RenderResult, error) {
	if err := e.admission.Acquire(ctx); err != nil {
		return nil, job.ActionError(OpRender, url, err)
	}
	defer e.admission.Release()

	page, err := e.load(ctx, act, url, wait)
	if err != nil {
		return nil, err
	}
	defer e.closePage(page)

	run, err := e.cache.NewRunDirectory(outDir, OpRender)
	if err != nil {
		return nil, job.CacheError(OpRender, url, err)
	}
	htmlPath, err := e.writeArtifact(act, run.Path, job.ArtifactFinalHTML, []byte(page.HTML))
	if err != nil {
		return nil, job.CacheError(OpRender, url, err)
	}
	result := &job.RenderResult{
		SchemaVersion: job.SchemaVersion,
		URL:           url,
		Title:         page.Title,
		FinalHTML:     htmlPath,
	}
	if e.cfg.Screenshot {
		result.Screenshot = e.screenshot(ctx, act, page, run.Path)
	}

	e.closePage(page)
	e.cache.Prune(outDir)
	return result, nil
}

// Extract produces readable.txt and meta.json from inline HTML, or from the
// rendered DOM of req.URL when no HTML is supplied.
func (e *Engine) Extract(ctx context.Context, req job.Request) (*job.ExtractResult, error) {
	url := strings.TrimSpace(req.URL)
	html := req.HTML
	if url == "" && html == "" {
		return nil, job.InputError(OpExtract, "", "html or url is required")
	}

	var wait job.WaitPolicy
	if html == "" {
		resolved, err := job.ResolveWait(req.Wait)
		if err != nil {
			return nil, job.InputError(OpExtract, url, err.Error())
		}
		wait = resolved
		if err := e.renderer.Ensure(ctx); err != nil {
			return nil, withURL(err, OpExtract, url)
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "engine.extract",
		attribute.String("url", url),
		attribute.Bool("inline_html", html != ""),
	)
	act := e.begin(OpExtract, url)
	result, err := e.extract(ctx, act, url, html, strings.TrimSpace(req.OutDir), wait)
	act.finish(err)
	telemetry.EndSpan(span, err)
	return result, err
}

func (e *Engine) extract(ctx context.Context, act *action, url, html, outDir string, wait job.WaitPolicy) (*job.ExtractResult, error) {
	if html == "" {
		fetched, err := e.fetchHTML(ctx, act, url, wait)
		if err != nil {
			return nil, err
		}
		html = fetched
	}
	if html == "" {
		return nil, job.InputError(OpExtract, url, "failed to obtain html")
	}

	extraction := e.extractor.Extract(html, url)
	meta, err := json.MarshalIndent(extraction.Meta, "", "  ")
	if err != nil {
		return nil, job.CacheError(OpExtract, url, fmt.Errorf("encode metadata: %w", err))
	}

	run, err := e.cache.NewRunDirectory(outDir, OpExtract)
	if err != nil {
		return nil, job.CacheError(OpExtract, url, err)
	}
	readablePath, err := e.writeArtifact(act, run.Path, job.ArtifactReadable, []byte(extraction.Text))
	if err != nil {
		return nil, job.CacheError(OpExtract, url, err)
	}
	metaPath, err := e.writeArtifact(act, run.Path, job.ArtifactMeta, meta)
	if err != nil {
		return nil, job.CacheError(OpExtract, url, err)
	}
	e.cache.Prune(outDir)

	return &job.ExtractResult{
		SchemaVersion: job.SchemaVersion,
		ReadableTxt:   readablePath,
		MetaJSON:      metaPath,
	}, nil
}

// fetchHTML renders url and returns its DOM. The admission slot is held only
// for the browser work, not for extraction.
func (e *Engine) fetchHTML(ctx context.Context, act *action, url string, wait job.WaitPolicy) (string, error) {
	if err := e.admission.Acquire(ctx); err != nil {
		return "", job.ActionError(OpExtract, url, err)
	}
	defer e.admission.Release()

	page, err := e.load(ctx, act, url, wait)
	if err != nil {
		return "", err
	}
	html := page.HTML
	e.closePage(page)
	return html, nil
}

// Batch renders every URL with at most min(parallel, len(urls)) workers.
// Per-URL failures are reported in their slot; only a malformed request
// fails the whole batch.
func (e *Engine) Batch(ctx context.Context, req job.BatchRequest) (*job.BatchResult, error) {
	if len(req.URLs) == 0 {
		return nil, job.BatchError("urls is required")
	}
	// Only an absent value takes the default; dispatcher.Workers clamps the rest.
	parallel := req.Parallel
	if parallel == 0 {
		parallel = e.cfg.MaxParallel
	}

	ctx, span := telemetry.StartSpan(ctx, "engine.batch",
		attribute.Int("urls", len(req.URLs)),
		attribute.Int("workers", dispatcher.Workers(parallel, len(req.URLs))),
	)
	outcomes := dispatcher.Run(ctx, req.URLs, parallel, func(ctx context.Context, _ int, url string) (*job.RenderResult, error) {
		return e.Render(ctx, job.Request{URL: url, OutDir: req.OutDir, Wait: req.Wait})
	})

	result := &job.BatchResult{
		SchemaVersion: job.SchemaVersion,
		Results:       make([]job.BatchEntry, len(outcomes)),
	}
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			payload := job.AsError(o.Err).Payload()
			if payload.URL == "" {
				payload.URL = strings.TrimSpace(req.URLs[i])
			}
			result.Results[i] = job.BatchEntry{Err: payload}
			continue
		}
		result.Results[i] = job.BatchEntry{Result: o.Value}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	telemetry.EndSpan(span, nil)
	e.logger.Info("batch complete", zap.Int("urls", len(req.URLs)), zap.Int("failed", failed))
	return result, nil
}

// load waits for the rate window and renders url with retries. The caller
// must hold an admission slot.
func (e *Engine) load(ctx context.Context, act *action, url string, wait job.WaitPolicy) (*job.Page, error) {
	start := e.clock.Now()
	if err := e.window.Wait(ctx); err != nil {
		return nil, job.ActionError(act.op, url, err)
	}
	if waited := e.clock.Now().Sub(start); waited > 0 {
		act.logger.Debug("rate limited", zap.Duration("waited", waited))
	}

	page, err := retry.Do(ctx, e.executor, act.op, func(ctx context.Context, attempt int) (*job.Page, error) {
		attemptCtx, span := telemetry.StartSpan(ctx, "engine.attempt", attribute.Int("attempt", attempt))
		page, err := e.renderer.Render(attemptCtx, url, wait)
		telemetry.EndSpan(span, err)
		if err != nil {
			act.attemptFailed(attempt, err)
		}
		return page, err
	})
	if err != nil {
		return nil, withURL(err, act.op, url)
	}
	return page, nil
}

func (e *Engine) screenshot(ctx context.Context, act *action, page *job.Page, dir string) string {
	png, err := page.Screenshot(ctx)
	if err != nil {
		act.logger.Debug("screenshot skipped", zap.Error(err))
		return ""
	}
	path, err := e.writeArtifact(act, dir, job.ArtifactScreenshot, png)
	if err != nil {
		act.logger.Warn("screenshot write failed", zap.Error(err))
		return ""
	}
	return path
}

func (e *Engine) writeArtifact(act *action, dir, name string, data []byte) (string, error) {
	path, err := e.cache.WriteArtifact(dir, name, data)
	if err != nil {
		return "", err
	}
	act.artifact(name, len(data))
	return path, nil
}

func (e *Engine) closePage(page *job.Page) {
	if err := page.Close(); err != nil {
		e.logger.Warn("close page", zap.String("url", page.URL), zap.Error(err))
	}
}

// withURL classifies err for op, attaching url when the error lacks one.
func withURL(err error, op, url string) error {
	typed := job.AsError(err)
	if typed.Kind == job.KindInternal {
		return job.ActionError(op, url, err)
	}
	if typed.URL != "" && typed.Op != "" {
		return typed
	}
	clone := *typed
	if clone.URL == "" {
		clone.URL = url
	}
	if clone.Op == "" {
		clone.Op = op
	}
	return &clone
}

func elapsed(clock job.Clock, start time.Time) time.Duration {
	d := clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
