package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/config"
	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/progress"
	"github.com/JakeFAU/grail/internal/telemetry"
)

type stubRenderer struct {
	closed atomic.Int32
}

func (s *stubRenderer) Ensure(context.Context) error {
	return job.DependencyError("browser", "", "install a browser", errors.New("browser disabled"))
}

func (s *stubRenderer) Render(context.Context, string, job.WaitPolicy) (*job.Page, error) {
	return nil, errors.New("not used")
}

func (s *stubRenderer) Close() error {
	s.closed.Add(1)
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8787, ShutdownTimeout: 2 * time.Second},
		Engine: config.EngineConfig{MaxParallel: 2, RequestsPerSecond: 0},
		Retry:  config.RetryConfig{MaxAttempts: 2, BackoffBaseMs: 1, BackoffJitterMs: 1},
		Browser: config.BrowserConfig{
			Disabled:           true,
			NetworkIdleTimeout: time.Second,
			SelectorTimeout:    time.Second,
		},
		Progress: config.ProgressConfig{
			Enabled:       true,
			StoreCapacity: 10,
			Hub:           progress.Config{MaxBatchWait: 10 * time.Millisecond},
		},
		Telemetry: telemetry.Config{ServiceName: "graild-test"},
	}
	cfg.Cache.BaseDir = t.TempDir()
	cfg.Cache.MaxRuns = 5
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	renderer := &stubRenderer{}
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRenderer(renderer),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "disabled", health["browser"])
	require.Equal(t, Version, health["version"])

	resp, err = http.Post(base+"/extract", "application/json",
		strings.NewReader(`{"html":"<html><head><title>T</title></head><body><p>Body</p></body></html>"}`))
	require.NoError(t, err)
	var extracted job.ExtractResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&extracted))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(extracted.MetaJSON, cfg.Cache.BaseDir))

	resp, err = http.Post(base+"/render", "application/json", strings.NewReader(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	var failure job.ErrorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	require.Equal(t, "install a browser", failure.Hint)
	require.Equal(t, "https://example.com", failure.URL)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/actions?status=success")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Actions []map[string]any `json:"actions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return len(body.Actions) == 1 && body.Actions[0]["op"] == "extract"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.Equal(t, int32(1), renderer.closed.Load())
}

func TestBuildWithProgressDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Progress.Enabled = false
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRenderer(&stubRenderer{}))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	require.Nil(t, app.progressHub)
	require.Nil(t, app.actions)
}

func TestRunFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := testConfig(t)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	renderer := &stubRenderer{}
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRenderer(renderer),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprintf("listen %s", cfg.Server.Addr()))
	require.Equal(t, int32(1), renderer.closed.Load())
}
