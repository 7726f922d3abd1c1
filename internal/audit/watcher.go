package audit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last event
// before checking the file.
const DefaultDebounce = 500 * time.Millisecond

// Watcher notices when the audit file is removed or renamed by
// something else (logrotate, an operator) and makes the FileSink
// reopen the configured path.
type Watcher struct {
	watcher  *fsnotify.Watcher
	sink     *FileSink
	name     string
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher watches the directory holding sink's file. Watching the
// directory keeps events flowing after the file itself is replaced.
func NewWatcher(sink *FileSink, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("audit: create file watcher: %w", err)
	}
	dir := filepath.Dir(sink.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("audit: watch %s: %w", dir, err)
	}
	return &Watcher{
		watcher:  w,
		sink:     sink,
		name:     filepath.Clean(sink.Path()),
		debounce: debounce,
		log:      logger,
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.name {
				continue
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, w.check)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("audit watcher error", "error", err)
		}
	}
}

func (w *Watcher) check() {
	reopened, err := w.sink.ReopenIfMoved()
	switch {
	case err != nil:
		w.log.Error("audit file reopen failed", "error", err)
	case reopened:
		w.log.Info("audit file reopened")
	}
}
