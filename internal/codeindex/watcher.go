package codeindex

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omarkhaled-auto/nexus/internal/chunking"
)

// PathFilter decides whether a path participates in incremental indexing.
type PathFilter interface {
	ShouldExclude(path string) bool
}

// Reindexer re-chunks and re-embeds a single file, then writes the result
// into a ChunkRepository. The Watcher only decides which files to pass and
// when; chunking, embedding and the repository write are all done by the
// function the caller supplies.
type Reindexer func(ctx context.Context, projectID, file string) error

// Watcher incrementally re-chunks project files as they change on disk,
// debouncing bursts of fsnotify events and driving re-indexing rather than
// one-shot document ingestion.
type Watcher struct {
	fsw    *fsnotify.Watcher
	base   string
	filter PathFilter
	reindex Reindexer
	projectID string

	debounce time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	ProjectID string
	BasePath  string
	Filter    PathFilter
	Reindex   Reindexer
	Debounce  time.Duration
}

// NewWatcher creates a Watcher over BasePath. Debounce defaults to 300ms,
// generous enough to coalesce editor save-and-format bursts without
// noticeably delaying index freshness.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		fsw:       fsw,
		base:      cfg.BasePath,
		filter:    cfg.Filter,
		reindex:   cfg.Reindex,
		projectID: cfg.ProjectID,
		debounce:  debounce,
	}, nil
}

// Start begins watching in the background. It returns once the initial
// directory walk has registered watches; events are processed asynchronously
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	if err := w.addTree(w.base); err != nil {
		w.running = false
		cancel()
		return err
	}

	go w.loop(runCtx)
	slog.Info("started code index watcher", "path", w.base)
	return nil
}

// Stop halts watching and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.cancel()
	w.running = false
	return w.fsw.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if w.filter != nil && w.filter.ShouldExclude(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	pending := map[string]struct{}{}
	var pendingMu sync.Mutex
	var timer *time.Timer

	flush := func() {
		pendingMu.Lock()
		files := pending
		pending = map[string]struct{}{}
		pendingMu.Unlock()

		for file := range files {
			w.handle(ctx, file)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			flush()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if w.filter != nil && w.filter.ShouldExclude(event.Name) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			pendingMu.Lock()
			pending[event.Name] = struct{}{}
			pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("code index watcher error", "path", w.base, "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, file string) {
	if chunking.DetectLanguage(file) == "unknown" {
		return
	}
	if err := w.reindex(ctx, w.projectID, file); err != nil {
		slog.Error("incremental reindex failed", "file", file, "error", err)
	}
}

// IsRunning reports whether the watcher is currently active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
