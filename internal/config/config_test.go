package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, names := range envAliases {
		for _, name := range names {
			t.Setenv(name, "")
		}
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:8787" {
		t.Fatalf("expected default addr 127.0.0.1:8787, got %s", cfg.Server.Addr())
	}
	if cfg.Engine.MaxParallel != 4 || cfg.Engine.RequestsPerSecond != 4 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Cache.BaseDir != ".grail-cache" || cfg.Cache.MaxRuns != 30 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Browser.Disabled || !cfg.Browser.Screenshot {
		t.Fatalf("unexpected browser defaults: %+v", cfg.Browser)
	}
	policy := cfg.Retry.Policy()
	if policy.MaxAttempts != 2 || policy.Base != 300*time.Millisecond || policy.Jitter != 300*time.Millisecond {
		t.Fatalf("unexpected retry policy: %+v", policy)
	}
	if cfg.Progress.Hub.MaxBatchWait != 250*time.Millisecond {
		t.Fatalf("expected hub batch wait 250ms, got %v", cfg.Progress.Hub.MaxBatchWait)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 0.0.0.0
  port: 9090
  shutdown_timeout: 3s
engine:
  max_parallel: 6
  requests_per_second: 10
retry:
  max_attempts: 3
  backoff_base_ms: 100
  backoff_jitter_ms: 0
cache:
  base_dir: /tmp/grail-runs
  max_runs: 5
browser:
  disabled: true
  exec_path: /usr/bin/chromium
  network_idle_timeout: 12s
  selector_timeout: 4s
  domain_qps: 0.5
  screenshot: false
logging:
  development: true
  level: debug
progress:
  enabled: false
  store_capacity: 50
  hub:
    buffer_size: 16
telemetry:
  service_name: grail-test
  trace_stdout: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:9090" || cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	opts := cfg.EngineOptions()
	if opts.MaxParallel != 6 || opts.RequestsPerSecond != 10 || opts.Screenshot {
		t.Fatalf("expected engine overrides to apply: %+v", opts)
	}
	if opts.Retry.MaxAttempts != 3 || opts.Retry.Base != 100*time.Millisecond || opts.Retry.Jitter != 0 {
		t.Fatalf("expected retry overrides to apply: %+v", opts.Retry)
	}
	if cfg.Cache.BaseDir != "/tmp/grail-runs" || cfg.Cache.MaxRuns != 5 {
		t.Fatalf("expected cache overrides to apply: %+v", cfg.Cache)
	}
	h := cfg.Browser.Headless()
	if !h.Disabled || h.ExecPath != "/usr/bin/chromium" || h.NetworkIdleTimeout != 12*time.Second ||
		h.SelectorTimeout != 4*time.Second || h.DomainQPS != 0.5 {
		t.Fatalf("expected browser overrides to apply: %+v", h)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Progress.Enabled || cfg.Progress.StoreCapacity != 50 || cfg.Progress.Hub.BufferSize != 16 {
		t.Fatalf("expected progress overrides to apply: %+v", cfg.Progress)
	}
	if cfg.Telemetry.ServiceName != "grail-test" || !cfg.Telemetry.TraceStdout {
		t.Fatalf("expected telemetry overrides to apply: %+v", cfg.Telemetry)
	}
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("GRAIL_MAX_PARALLEL", "2")
	t.Setenv("GRAIL_RPS", "1")
	t.Setenv("GRAIL_CACHE_DIR", "/tmp/alias-cache")
	t.Setenv("GRAIL_CACHE_MAX_RUNS", "7")
	t.Setenv("GRAIL_DISABLE_BROWSER", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected PORT alias, got %d", cfg.Server.Port)
	}
	if cfg.Engine.MaxParallel != 2 || cfg.Engine.RequestsPerSecond != 1 {
		t.Fatalf("expected engine aliases, got %+v", cfg.Engine)
	}
	if cfg.Cache.BaseDir != "/tmp/alias-cache" || cfg.Cache.MaxRuns != 7 {
		t.Fatalf("expected cache aliases, got %+v", cfg.Cache)
	}
	if !cfg.Browser.Disabled {
		t.Fatal("expected GRAIL_DISABLE_BROWSER to disable the browser")
	}
}

func TestLoadPrefixedEnvWins(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("GRAIL_SERVER_PORT", "7000")
	t.Setenv("GRAIL_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected GRAIL_SERVER_PORT to win, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected GRAIL_LOGGING_LEVEL, got %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8787},
		Engine: EngineConfig{MaxParallel: 1, RequestsPerSecond: 1},
		Retry:  RetryConfig{MaxAttempts: 2, BackoffBaseMs: 300, BackoffJitterMs: 300},
		Browser: BrowserConfig{
			NetworkIdleTimeout: time.Second,
			SelectorTimeout:    time.Second,
		},
	}
	base.Cache.BaseDir = ".grail-cache"
	base.Cache.MaxRuns = 30
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "server.port"},
		{name: "invalid max parallel", mutate: func(c *Config) { c.Engine.MaxParallel = 0 }, want: "engine.max_parallel"},
		{name: "negative rps", mutate: func(c *Config) { c.Engine.RequestsPerSecond = -1 }, want: "engine.requests_per_second"},
		{name: "no attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, want: "retry.max_attempts"},
		{name: "zero backoff", mutate: func(c *Config) { c.Retry.BackoffBaseMs = 0 }, want: "retry.backoff_base_ms"},
		{name: "missing cache dir", mutate: func(c *Config) { c.Cache.BaseDir = " " }, want: "cache.base_dir"},
		{name: "invalid max runs", mutate: func(c *Config) { c.Cache.MaxRuns = 0 }, want: "cache.max_runs"},
		{name: "zero idle timeout", mutate: func(c *Config) { c.Browser.NetworkIdleTimeout = 0 }, want: "browser.network_idle_timeout"},
		{name: "negative domain qps", mutate: func(c *Config) { c.Browser.DomainQPS = -1 }, want: "browser.domain_qps"},
		{name: "negative store capacity", mutate: func(c *Config) { c.Progress.StoreCapacity = -1 }, want: "progress.store_capacity"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
