package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a drop folder must stay quiet before a batch is
// handed to the callback.
const DefaultDebounce = 500 * time.Millisecond

// BatchFunc receives the files that settled in the drop folder.
type BatchFunc func(ctx context.Context, paths []string)

// Watcher feeds files written to a drop folder into intake.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewWatcher watches dir (not recursively). A non-positive debounce uses
// DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create drop folder: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run blocks until ctx is done, calling fn with each settled batch of paths in
// lexical order. Hidden files are ignored.
func (w *Watcher) Run(ctx context.Context, fn BatchFunc) error {
	defer w.fsw.Close()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	w.logger.Info("watching drop folder", "dir", w.dir, "debounce", w.debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = struct{}{}
			w.mu.Unlock()
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		case <-timer.C:
			if batch := w.flush(); len(batch) > 0 {
				fn(ctx, batch)
			}
		}
	}
}

func (w *Watcher) flush() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	w.pending = make(map[string]struct{})
	sort.Strings(out)
	return out
}
