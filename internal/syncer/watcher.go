package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jwinnathayden/noted-sync/internal/notes"
)

// DefaultDebounce is the quiet period after the last filesystem event
// before a watch-triggered push runs. Editors write files in bursts.
const DefaultDebounce = 2 * time.Second

// selfWriteWindow suppresses events caused by the watcher's own save of
// freshly assigned remote ids back into the notes file.
const selfWriteWindow = 500 * time.Millisecond

// WatchAndPush watches the local notes file and pushes whenever it
// changes, until the context is canceled. The watch is placed on the
// parent directory because the atomic save replaces the file by rename,
// which would drop a watch on the file itself.
//
// Push failures are logged and the watch continues; only watcher setup
// errors and context cancellation end the loop.
func (e *Engine) WatchAndPush(ctx context.Context, notesPath string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncer: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(notesPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("syncer: watching %s: %w", dir, err)
	}

	e.logger.Info("watching notes file",
		slog.String("path", notesPath),
		slog.Duration("debounce", debounce),
	)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	var (
		pending       bool
		suppressUntil time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("syncer: watcher closed")
			}

			if event.Name != notesPath {
				continue
			}

			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}

			if e.now().Before(suppressUntil) {
				continue
			}

			if pending && !timer.Stop() {
				<-timer.C
			}

			pending = true

			timer.Reset(debounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("syncer: watcher closed")
			}

			e.logger.Warn("watch error", slog.String("error", werr.Error()))

		case <-timer.C:
			pending = false

			suppressUntil = e.pushFromFile(ctx, notesPath)
		}
	}
}

// pushFromFile loads the notes file, pushes it, and saves back any newly
// assigned remote ids. Returns the deadline until which filesystem events
// should be ignored as echoes of our own save.
func (e *Engine) pushFromFile(ctx context.Context, notesPath string) time.Time {
	local, err := notes.LoadFile(notesPath)
	if err != nil {
		e.logger.Warn("failed to load notes file for watch push", slog.String("error", err.Error()))
		return e.now()
	}

	result, err := e.Push(ctx, local, PushOptions{})
	if err != nil {
		e.logger.Warn("watch push failed", slog.String("error", err.Error()))
		return e.now()
	}

	if err := notes.SaveFile(notesPath, result.Notes); err != nil {
		e.logger.Warn("failed to save notes file after watch push", slog.String("error", err.Error()))
		return e.now()
	}

	return e.now().Add(selfWriteWindow)
}
