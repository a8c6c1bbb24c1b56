// Package config loads and validates daemon configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/grail/internal/engine"
	"github.com/JakeFAU/grail/internal/fetcher/headless"
	"github.com/JakeFAU/grail/internal/logging"
	"github.com/JakeFAU/grail/internal/progress"
	"github.com/JakeFAU/grail/internal/retry"
	"github.com/JakeFAU/grail/internal/storage/runcache"
	"github.com/JakeFAU/grail/internal/telemetry"
)

// Config captures all daemon configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Cache     runcache.Config  `mapstructure:"cache"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Logging   logging.Config   `mapstructure:"logging"`
	Progress  ProgressConfig   `mapstructure:"progress"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig governs admission and the global rate window.
type EngineConfig struct {
	MaxParallel       int `mapstructure:"max_parallel"`
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

// RetryConfig configures the per-action retry budget.
type RetryConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"`
	BackoffBaseMs   int `mapstructure:"backoff_base_ms"`
	BackoffJitterMs int `mapstructure:"backoff_jitter_ms"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Base:        time.Duration(r.BackoffBaseMs) * time.Millisecond,
		Jitter:      time.Duration(r.BackoffJitterMs) * time.Millisecond,
	}
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Disabled           bool          `mapstructure:"disabled"`
	ExecPath           string        `mapstructure:"exec_path"`
	UserAgent          string        `mapstructure:"user_agent"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	SelectorTimeout    time.Duration `mapstructure:"selector_timeout"`
	DomainQPS          float64       `mapstructure:"domain_qps"`
	Screenshot         bool          `mapstructure:"screenshot"`
}

// Headless converts the config into renderer settings.
func (b BrowserConfig) Headless() headless.Config {
	return headless.Config{
		Disabled:           b.Disabled,
		ExecPath:           b.ExecPath,
		UserAgent:          b.UserAgent,
		NetworkIdleTimeout: b.NetworkIdleTimeout,
		SelectorTimeout:    b.SelectorTimeout,
		DomainQPS:          b.DomainQPS,
	}
}

// ProgressConfig toggles progress reporting and its sinks.
type ProgressConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	LogEnabled bool `mapstructure:"log_enabled"`
	// StoreCapacity bounds the in-memory recent-actions log.
	StoreCapacity int             `mapstructure:"store_capacity"`
	Hub           progress.Config `mapstructure:"hub"`
}

// EngineOptions returns the engine limits derived from the config.
func (c Config) EngineOptions() engine.Config {
	return engine.Config{
		MaxParallel:       c.Engine.MaxParallel,
		RequestsPerSecond: c.Engine.RequestsPerSecond,
		Retry:             c.Retry.Policy(),
		Screenshot:        c.Browser.Screenshot,
	}
}

// envAliases maps keys to the bare environment names accepted alongside the
// GRAIL_<SECTION>_<KEY> form.
var envAliases = map[string][]string{
	"server.port":                {"GRAIL_SERVER_PORT", "PORT"},
	"engine.max_parallel":        {"GRAIL_ENGINE_MAX_PARALLEL", "GRAIL_MAX_PARALLEL"},
	"engine.requests_per_second": {"GRAIL_ENGINE_REQUESTS_PER_SECOND", "GRAIL_RPS"},
	"cache.base_dir":             {"GRAIL_CACHE_BASE_DIR", "GRAIL_CACHE_DIR"},
	"cache.max_runs":             {"GRAIL_CACHE_MAX_RUNS"},
	"browser.disabled":           {"GRAIL_BROWSER_DISABLED", "GRAIL_DISABLE_BROWSER"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("engine.max_parallel", 4)
	v.SetDefault("engine.requests_per_second", 4)
	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.backoff_base_ms", int(retry.DefaultBase/time.Millisecond))
	v.SetDefault("retry.backoff_jitter_ms", int(retry.DefaultJitter/time.Millisecond))
	v.SetDefault("cache.base_dir", ".grail-cache")
	v.SetDefault("cache.max_runs", 30)
	v.SetDefault("browser.disabled", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.network_idle_timeout", headless.DefaultNetworkIdleTimeout)
	v.SetDefault("browser.selector_timeout", headless.DefaultSelectorTimeout)
	v.SetDefault("browser.domain_qps", 0.0)
	v.SetDefault("browser.screenshot", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.store_capacity", 500)
	v.SetDefault("progress.hub.buffer_size", 1024)
	v.SetDefault("progress.hub.max_batch_events", 100)
	v.SetDefault("progress.hub.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.hub.sink_timeout", 5*time.Second)
	v.SetDefault("telemetry.service_name", "graild")
	v.SetDefault("telemetry.trace_stdout", false)
	v.SetDefault("telemetry.trace_file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Engine.MaxParallel <= 0 {
		return fmt.Errorf("engine.max_parallel must be > 0")
	}
	if c.Engine.RequestsPerSecond < 0 {
		return fmt.Errorf("engine.requests_per_second must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffBaseMs <= 0 || c.Retry.BackoffJitterMs < 0 {
		return fmt.Errorf("retry.backoff_base_ms must be > 0 and retry.backoff_jitter_ms >= 0")
	}
	if strings.TrimSpace(c.Cache.BaseDir) == "" {
		return fmt.Errorf("cache.base_dir must be set")
	}
	if c.Cache.MaxRuns <= 0 {
		return fmt.Errorf("cache.max_runs must be > 0")
	}
	if c.Browser.NetworkIdleTimeout <= 0 || c.Browser.SelectorTimeout <= 0 {
		return fmt.Errorf("browser.network_idle_timeout and browser.selector_timeout must be > 0")
	}
	if c.Browser.DomainQPS < 0 {
		return fmt.Errorf("browser.domain_qps must be >= 0")
	}
	if c.Progress.StoreCapacity < 0 {
		return fmt.Errorf("progress.store_capacity must be >= 0")
	}
	return nil
}
