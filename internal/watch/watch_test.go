package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gubarz/dvpersist/internal/persist"
)

type countingPersister struct {
	mu    sync.Mutex
	files map[string]int
	runs  int
}

func newCountingPersister() *countingPersister {
	return &countingPersister{files: make(map[string]int)}
}

func (c *countingPersister) PersistFile(_ context.Context, path string) (persist.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path]++
	return persist.Result{File: path}, nil
}

func (c *countingPersister) PersistPaths(_ context.Context, _ []string) (persist.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return persist.Report{}, nil
}

func (c *countingPersister) fileCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files[path]
}

func (c *countingPersister) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func startWatcher(t *testing.T, p Persister, paths ...string) {
	t.Helper()
	w, err := NewWatcher(p, nil, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Add(paths))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	p := newCountingPersister()
	startWatcher(t, p, dir)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return p.fileCount(path) >= 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, p.fileCount(path))
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".obsidian")
	require.NoError(t, os.MkdirAll(hidden, 0o755))

	p := newCountingPersister()
	startWatcher(t, p, dir)

	txt := filepath.Join(dir, "note.txt")
	inHidden := filepath.Join(hidden, "cache.md")
	md := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(inHidden, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(md, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return p.fileCount(md) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, p.fileCount(txt))
	assert.Equal(t, 0, p.fileCount(inHidden))
}

func TestWatcherSingleFile(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.md")
	other := filepath.Join(dir, "other.md")
	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o644))

	p := newCountingPersister()
	startWatcher(t, p, watched)

	require.NoError(t, os.WriteFile(other, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(watched, []byte("y"), 0o644))

	require.Eventually(t, func() bool { return p.fileCount(watched) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, p.fileCount(other))
}

func TestWatcherAddMissingPath(t *testing.T) {
	w, err := NewWatcher(newCountingPersister(), nil, time.Millisecond)
	require.NoError(t, err)
	defer w.close()

	assert.Error(t, w.Add([]string{filepath.Join(t.TempDir(), "missing")}))
}

func TestScheduler(t *testing.T) {
	p := newCountingPersister()
	s, err := NewScheduler(p, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := s.ScheduleRefresh(ctx, 50*time.Millisecond, []string{"."})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return p.runCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	_, err = s.ScheduleRefresh(context.Background(), 0, nil)
	assert.Error(t, err)
}

func TestSerialized(t *testing.T) {
	p := newCountingPersister()
	s := Serialized(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.PersistFile(context.Background(), "a.md")
			_, _ = s.PersistPaths(context.Background(), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, p.fileCount("a.md"))
	assert.Equal(t, 10, p.runCount())
}
