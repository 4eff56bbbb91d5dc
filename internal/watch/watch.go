package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gubarz/dvpersist/internal/parser"
	"github.com/gubarz/dvpersist/internal/persist"
)

// Persister is the persist capability the watcher and scheduler drive
type Persister interface {
	PersistFile(ctx context.Context, path string) (persist.Result, error)
	PersistPaths(ctx context.Context, paths []string) (persist.Report, error)
}

// serialized guards a Persister so that watcher and scheduler never
// rewrite the same document concurrently
type serialized struct {
	mu sync.Mutex
	p  Persister
}

// Serialized wraps p so that calls run one at a time
func Serialized(p Persister) Persister {
	return &serialized{p: p}
}

func (s *serialized) PersistFile(ctx context.Context, path string) (persist.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.PersistFile(ctx, path)
}

func (s *serialized) PersistPaths(ctx context.Context, paths []string) (persist.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.PersistPaths(ctx, paths)
}

// Watcher persists markdown files again whenever they change on disk.
// Events are debounced per file.
type Watcher struct {
	persister Persister
	logger    *zap.Logger
	debounce  time.Duration
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	dirs    map[string]bool // directories watched as a whole
	files   map[string]bool // single files watched through their directory
	pending chan string
	done    chan struct{}

	// OnPersist, when set, is called after every persist attempt
	OnPersist func(persist.Result, error)
}

// NewWatcher creates a watcher; call Add then Run
func NewWatcher(p Persister, logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		persister: p,
		logger:    logger,
		debounce:  debounce,
		watcher:   fw,
		timers:    make(map[string]*time.Timer),
		dirs:      make(map[string]bool),
		files:     make(map[string]bool),
		pending:   make(chan string, 64),
		done:      make(chan struct{}),
	}, nil
}

// Add watches each path. Directories are watched recursively, skipping hidden ones.
func (w *Watcher) Add(paths []string) error {
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("path error: %w", err)
		}
		if !info.IsDir() {
			if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", abs, err)
			}
			w.mu.Lock()
			w.files[abs] = true
			w.mu.Unlock()
			continue
		}
		if err := w.addTree(abs); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		w.logger.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

// Run processes events until ctx is cancelled, then releases the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case path := <-w.pending:
			w.persist(ctx, path)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			parentWatched := w.dirs[filepath.Dir(event.Name)]
			w.mu.Unlock()
			if parentWatched && !strings.HasPrefix(info.Name(), ".") {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
				}
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.wants(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// wants reports whether path is a markdown file under a watched root
func (w *Watcher) wants(path string) bool {
	if !parser.IsMarkdown(path) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[filepath.Dir(path)] || w.files[path]
}

// schedule (re)starts the debounce timer of path
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.pending <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) persist(ctx context.Context, path string) {
	res, err := w.persister.PersistFile(ctx, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.logger.Debug("file vanished before persisting", zap.String("file", path))
	case err != nil:
		w.logger.Error("error persisting file", zap.String("file", path), zap.Error(err))
	case res.Modified():
		w.logger.Info("refreshed", zap.String("file", path), zap.Int("changed", res.Changed))
	}
	if w.OnPersist != nil {
		w.OnPersist(res, err)
	}
}

func (w *Watcher) close() {
	close(w.done)

	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("error closing file watcher", zap.Error(err))
	}
}
