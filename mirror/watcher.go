package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must be quiet before it is pushed
const DefaultDebounce = 300 * time.Millisecond

// WatcherOptions configures a Watcher
type WatcherOptions struct {
	Logger   *log.Logger
	Debounce time.Duration
}

// Watcher pushes workspace edits to the server once a file stops changing
type Watcher struct {
	workspace *Workspace
	logger    *log.Logger
	debounce  time.Duration

	watcher *fsnotify.Watcher

	queueMu sync.Mutex
	queue   map[string]time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over the workspace. It must be started with Start.
func NewWatcher(workspace *Workspace, opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		workspace: workspace,
		logger:    logger,
		debounce:  debounce,
		queue:     make(map[string]time.Time),
	}
}

// Start watches the workspace root and every scenario directory in it
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(w.workspace.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.workspace.Dir(), err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.workspace.Dir()); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.workspace.Dir(), err)
	}
	ids, err := w.workspace.Scenarios()
	if err != nil {
		fw.Close()
		return err
	}
	for _, id := range ids {
		if err := fw.Add(filepath.Join(w.workspace.Dir(), id)); err != nil {
			w.logger.Warn("Failed to watch scenario directory", "shortId", id, "err", err)
		}
	}

	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(2)
	go w.processEvents()
	go w.processQueue()

	w.logger.Info("Watching workspace", "dir", w.workspace.Dir(), "scenarios", len(ids))
	return nil
}

// Stop stops watching and waits for in-flight pushes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	// New scenario directories are watched as they appear
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if err := w.watcher.Add(event.Name); err != nil {
			w.logger.Warn("Failed to watch directory", "dir", event.Name, "err", err)
		}
		return
	}

	if _, ok := w.workspace.ResourcePath(event.Name); !ok {
		return
	}
	w.queueMu.Lock()
	w.queue[event.Name] = time.Now()
	w.queueMu.Unlock()
}

func (w *Watcher) processQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending pushes files that have been quiet for the debounce interval
func (w *Watcher) processPending() {
	now := time.Now()
	var ready []string

	w.queueMu.Lock()
	for file, queuedAt := range w.queue {
		if now.Sub(queuedAt) < w.debounce {
			continue
		}
		ready = append(ready, file)
		delete(w.queue, file)
	}
	w.queueMu.Unlock()

	for _, file := range ready {
		if err := w.Process(w.ctx, file); err != nil {
			w.logger.Error("Failed to push file", "file", file, "err", err)
		}
	}
}

// Process pushes one changed file unless it matches its last synced text
func (w *Watcher) Process(ctx context.Context, file string) error {
	dirty, err := w.workspace.IsDirty(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !dirty {
		return nil
	}

	saved, err := w.workspace.Push(ctx, file)
	if err != nil {
		return err
	}
	if saved {
		w.logger.Info("Pushed file", "file", file)
	} else {
		w.logger.Info("Push declined", "file", file)
	}
	return nil
}
