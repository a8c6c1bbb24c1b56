// Package runcache manages the on-disk run directories that hold render and
// extract artifacts, and prunes old runs so the cache stays bounded.
package runcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/metrics"
)

// Config captures the run cache parameters.
type Config struct {
	// BaseDir is the default root under which run directories are created.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// MaxRuns is how many run directories survive a prune pass.
	MaxRuns int `mapstructure:"max_runs" yaml:"max_runs"`
}

// RunDirectory is a freshly created run directory.
type RunDirectory struct {
	Path        string
	CreatedAtMs int64
}

// Cache creates run directories and prunes their parent root.
type Cache struct {
	baseDir string
	maxRuns int
	clock   job.Clock
	logger  *zap.Logger

	removeAll func(string) error

	mu      sync.Mutex
	lastRun int64
}

// New creates a Cache. The base directory is resolved to an absolute path
// but not created until the first run directory is needed.
func New(cfg Config, clock job.Clock, logger *zap.Logger) (*Cache, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.MaxRuns <= 0 {
		return nil, fmt.Errorf("max runs must be positive")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		baseDir: abs,
		maxRuns: cfg.MaxRuns,
		clock:   clock,
		logger:  logger,

		removeAll: os.RemoveAll,
	}, nil
}

// BaseDir returns the absolute default root.
func (c *Cache) BaseDir() string {
	return c.baseDir
}

// MaxRuns returns the retention cap.
func (c *Cache) MaxRuns() int {
	return c.maxRuns
}

// Root resolves the root a job writes under: override when non-blank,
// otherwise the default base directory.
func (c *Cache) Root(override string) (string, error) {
	override = strings.TrimSpace(override)
	if override == "" {
		return c.baseDir, nil
	}
	abs, err := filepath.Abs(override)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	return abs, nil
}

// NewRunDirectory creates <root>/<prefix>-<epochMillis>, creating any
// missing parents. Two runs created in the same millisecond receive
// distinct stamps.
func (c *Cache) NewRunDirectory(root, prefix string) (RunDirectory, error) {
	root, err := c.Root(root)
	if err != nil {
		return RunDirectory{}, err
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return RunDirectory{}, fmt.Errorf("create cache root: %w", err)
	}
	for {
		stamp := c.nextStamp()
		dir := filepath.Join(root, runName(prefix, stamp))
		err := os.Mkdir(dir, 0o750)
		if err == nil {
			return RunDirectory{Path: dir, CreatedAtMs: stamp}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return RunDirectory{}, fmt.Errorf("create run directory: %w", err)
		}
	}
}

// WriteArtifact writes data to name inside dir and returns the absolute path.
func (c *Cache) WriteArtifact(dir, name string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	cleanDir := filepath.Clean(dir)
	full := filepath.Clean(filepath.Join(cleanDir, name))
	if !strings.HasPrefix(full, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	return full, nil
}

// Prune keeps the MaxRuns most recently modified subdirectories of root and
// removes the rest. Failures are logged and never returned. It reports how
// many directories were removed.
func (c *Cache) Prune(root string) int {
	root, err := c.Root(root)
	if err != nil {
		c.logger.Warn("prune: resolve root", zap.Error(err))
		return 0
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("prune: list root", zap.String("root", root), zap.Error(err))
		}
		return 0
	}

	type run struct {
		path    string
		name    string
		modTime int64
	}
	runs := make([]run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			c.logger.Debug("prune: stat entry", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		runs = append(runs, run{
			path:    filepath.Join(root, e.Name()),
			name:    e.Name(),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(runs) <= c.maxRuns {
		return 0
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].modTime != runs[j].modTime {
			return runs[i].modTime > runs[j].modTime
		}
		return runs[i].name > runs[j].name
	})

	removed, failed := 0, 0
	for _, r := range runs[c.maxRuns:] {
		if err := c.removeAll(r.path); err != nil {
			failed++
			c.logger.Warn("prune: remove run", zap.String("path", r.path), zap.Error(err))
			continue
		}
		removed++
	}
	metrics.ObservePrune(removed, failed)
	if removed > 0 {
		c.logger.Debug("pruned run cache", zap.String("root", root), zap.Int("removed", removed))
	}
	return removed
}

func (c *Cache) nextStamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.clock.Now().UnixMilli()
	if stamp <= c.lastRun {
		stamp = c.lastRun + 1
	}
	c.lastRun = stamp
	return stamp
}

func runName(prefix string, stamp int64) string {
	s := strconv.FormatInt(stamp, 10)
	if prefix == "" {
		return s
	}
	return prefix + "-" + s
}
