package persist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors a FileStore's file and reports hand edits.
// Writes made through the FileStore itself are ignored.
type Watcher struct {
	store    *FileStore
	onChange func(Record)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher creates a watcher for store. onChange receives every externally
// edited record that parses; unparsable edits are logged and skipped.
func NewWatcher(store *FileStore, onChange func(Record), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce overrides the debounce window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. It returns once the watch is registered; events are
// processed in a goroutine until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory: atomic renames replace the file's inode.
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	w.logger.Info("watching config file", "path", w.store.Path())
	go w.loop(ctx)
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	data, err := os.ReadFile(w.store.Path())
	if err != nil {
		w.logger.Warn("config reload skipped", "error", err)
		return
	}
	if w.store.wroteItself(data) {
		return
	}
	rec, err := decode(data)
	if err != nil {
		w.logger.Warn("ignoring unparsable config edit", "error", err)
		return
	}
	w.logger.Info("config file edited externally, applying")
	w.deliver(rec)
}

// deliver runs onChange on the timer goroutine; a panic there is logged
// instead of taking the process down.
func (w *Watcher) deliver(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change handler panicked", "panic", r)
		}
	}()
	w.onChange(rec)
}
