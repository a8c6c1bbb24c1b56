// Package server builds the daemon's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/api"
	"github.com/JakeFAU/grail/internal/clock/system"
	"github.com/JakeFAU/grail/internal/config"
	"github.com/JakeFAU/grail/internal/engine"
	"github.com/JakeFAU/grail/internal/extract"
	"github.com/JakeFAU/grail/internal/fetcher/headless"
	idgen "github.com/JakeFAU/grail/internal/id/uuid"
	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/logging"
	"github.com/JakeFAU/grail/internal/metrics"
	"github.com/JakeFAU/grail/internal/progress"
	progresssinks "github.com/JakeFAU/grail/internal/progress/sinks"
	"github.com/JakeFAU/grail/internal/storage/memory"
	"github.com/JakeFAU/grail/internal/storage/runcache"
	"github.com/JakeFAU/grail/internal/store"
	"github.com/JakeFAU/grail/internal/telemetry"
)

// Version is the daemon version reported by /health.
const Version = "0.1.0"

// App contains the daemon's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	engine         *engine.Engine
	progressHub    *progress.Hub
	actions        store.ActionRepository
	tracerShutdown func(context.Context) error
}

type buildOptions struct {
	logger     *zap.Logger
	renderer   job.Renderer
	registerer prometheus.Registerer
}

// Option customizes Build.
type Option func(*buildOptions)

// WithLogger uses logger instead of building one from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRenderer replaces the chromedp renderer.
func WithRenderer(r job.Renderer) Option {
	return func(o *buildOptions) { o.renderer = r }
}

// WithRegisterer registers progress collectors against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// Build creates the daemon's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	cache, err := runcache.New(cfg.Cache, clock, logger.Named("runcache"))
	if err != nil {
		return nil, fmt.Errorf("run cache init failed: %w", err)
	}

	renderer := o.renderer
	if renderer == nil {
		renderer = headless.New(cfg.Browser.Headless(), logger.Named("browser"))
	}

	emitter, err := app.setupProgress(ctx, o.registerer)
	if err != nil {
		return nil, err
	}

	app.engine, err = engine.New(cfg.EngineOptions(), engine.Deps{
		Renderer:  renderer,
		Extractor: extract.New(clock),
		Cache:     cache,
		Emitter:   emitter,
		Clock:     clock,
		IDs:       idgen.New(),
		Logger:    logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.engine, api.Options{
		Port:            cfg.Server.Port,
		Version:         Version,
		BrowserDisabled: cfg.Browser.Disabled,
		Actions:         app.actions,
		Clock:           clock,
		Logger:          logger.Named("api"),
	})

	logger.Info("application built",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("max_parallel", cfg.Engine.MaxParallel),
		zap.Int("rps", cfg.Engine.RequestsPerSecond),
		zap.String("cache_dir", cache.BaseDir()),
		zap.Int("max_runs", cache.MaxRuns()),
		zap.Bool("browser_disabled", cfg.Browser.Disabled),
	)
	return app, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	actions := memory.NewActionStore(a.cfg.Progress.StoreCapacity)
	a.actions = actions

	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(actions, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}

	hubCfg := a.cfg.Progress.Hub
	hubCfg.BaseContext = ctx
	hubCfg.Logger = a.logger.Named("progress_hub")
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured address and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		a.Close(context.Background())
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled or the server fails,
// then drains in-flight requests and releases every dependency.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("grail daemon listening", zap.String("addr", "http://"+ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	return runErr
}

// Close releases the browser, flushes progress, and stops tracing. Failures
// are logged.
func (a *App) Close(ctx context.Context) {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}
