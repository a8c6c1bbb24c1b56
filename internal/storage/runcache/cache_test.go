package runcache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestCache(t *testing.T, maxRuns int) *Cache {
	t.Helper()
	c, err := New(Config{BaseDir: t.TempDir(), MaxRuns: maxRuns}, fixedClock{now: time.UnixMilli(1_700_000_000_000)}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func makeRun(t *testing.T, root, name string, mod time.Time) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.Chtimes(dir, mod, mod))
}

func listDirs(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxRuns: 3}, fixedClock{}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseDir: t.TempDir()}, fixedClock{}, nil)
	assert.Error(t, err)

	c, err := New(Config{BaseDir: "relative-cache", MaxRuns: 3}, fixedClock{}, nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(c.BaseDir()))
}

func TestNewRunDirectoryNaming(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 5)
	run, err := c.NewRunDirectory("", "render")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(c.BaseDir(), "render-1700000000000"), run.Path)
	assert.Equal(t, int64(1_700_000_000_000), run.CreatedAtMs)
	info, err := os.Stat(run.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRunDirectoryCreatesMissingParents(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 5)
	root := filepath.Join(t.TempDir(), "nested", "out")
	run, err := c.NewRunDirectory(root, "extract")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(run.Path, root+string(filepath.Separator)))
}

func TestNewRunDirectoryUniqueWithinSameMillisecond(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 50)
	var (
		mu    sync.Mutex
		paths = map[string]struct{}{}
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := c.NewRunDirectory("", "render")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			paths[run.Path] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, paths, 10)
}

func TestWriteArtifact(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 5)
	run, err := c.NewRunDirectory("", "render")
	require.NoError(t, err)

	path, err := c.WriteArtifact(run.Path, "final.html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))

	_, err = c.WriteArtifact(run.Path, "../escape.txt", []byte("x"))
	assert.ErrorContains(t, err, "path traversal")

	_, err = c.WriteArtifact(run.Path, " ", []byte("x"))
	assert.Error(t, err)
}

func TestPruneKeepsNewest(t *testing.T) {
	t.Parallel()

	const maxRuns = 4
	c := newTestCache(t, maxRuns)
	root := c.BaseDir()
	require.NoError(t, os.MkdirAll(root, 0o750))

	base := time.Now().Add(-time.Hour)
	var want []string
	for i := 0; i < maxRuns+5; i++ {
		name := "run-" + string(rune('a'+i))
		makeRun(t, root, name, base.Add(time.Duration(i)*time.Minute))
		if i >= 5 {
			want = append(want, name)
		}
	}
	// Plain files are never counted or removed.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	removed := c.Prune("")
	assert.Equal(t, 5, removed)
	assert.Equal(t, want, listDirs(t, root))
	_, err := os.Stat(filepath.Join(root, "notes.txt"))
	assert.NoError(t, err)
}

func TestPruneRetainsMostRecentlyModified(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 2)
	root := c.BaseDir()
	base := time.Now().Add(-time.Hour)
	makeRun(t, root, "A", base)
	makeRun(t, root, "B", base.Add(time.Minute))
	makeRun(t, root, "C", base.Add(2*time.Minute))

	c.Prune("")
	assert.Equal(t, []string{"B", "C"}, listDirs(t, root))
}

func TestPruneUnderCapIsNoop(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 3)
	root := c.BaseDir()
	makeRun(t, root, "only", time.Now())

	assert.Equal(t, 0, c.Prune(""))
	assert.Equal(t, []string{"only"}, listDirs(t, root))
}

func TestPruneContinuesPastRemovalFailure(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1)
	root := c.BaseDir()
	base := time.Now().Add(-time.Hour)
	makeRun(t, root, "old-1", base)
	makeRun(t, root, "old-2", base.Add(time.Minute))
	makeRun(t, root, "old-3", base.Add(2*time.Minute))
	makeRun(t, root, "newest", base.Add(3*time.Minute))

	stuck := filepath.Join(root, "old-2")
	var attempted []string
	c.removeAll = func(path string) error {
		attempted = append(attempted, filepath.Base(path))
		if path == stuck {
			return errors.New("device busy")
		}
		return os.RemoveAll(path)
	}

	assert.Equal(t, 2, c.Prune(""))
	assert.ElementsMatch(t, []string{"old-1", "old-2", "old-3"}, attempted)
	assert.Equal(t, []string{"newest", "old-2"}, listDirs(t, root))
}

func TestPruneAfterEachRunStaysBounded(t *testing.T) {
	t.Parallel()

	const maxRuns = 3
	c := newTestCache(t, maxRuns)
	var created []string
	for i := 0; i < maxRuns+5; i++ {
		run, err := c.NewRunDirectory("", "render")
		require.NoError(t, err)
		created = append(created, filepath.Base(run.Path))
		c.Prune("")
		assert.LessOrEqual(t, len(listDirs(t, c.BaseDir())), maxRuns)
	}

	want := append([]string(nil), created[len(created)-maxRuns:]...)
	sort.Strings(want)
	assert.Equal(t, want, listDirs(t, c.BaseDir()))
}

func TestPruneMissingRootIsSwallowed(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1)
	assert.Equal(t, 0, c.Prune(filepath.Join(t.TempDir(), "absent")))
}

func TestRootOverride(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1)
	root, err := c.Root("  ")
	require.NoError(t, err)
	assert.Equal(t, c.BaseDir(), root)

	other := t.TempDir()
	root, err = c.Root(other)
	require.NoError(t, err)
	assert.Equal(t, other, root)
}
