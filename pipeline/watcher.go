package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs editor write bursts before reloading.
const watcherDebounce = 250 * time.Millisecond

// WatchParticipants hot-reloads the table whenever the participant file
// changes. It watches the parent directory so atomic rename-into-place saves
// are seen. Blocks until ctx is done; a file that fails to load leaves the
// previous table in effect.
func WatchParticipants(ctx context.Context, path string, table *Table, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create participant watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(watcherDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("participant watcher error", "error", err)

		case <-pending:
			pending = nil
			participants, err := LoadParticipants(path)
			if err != nil {
				logger.Error("participant reload failed, keeping previous table",
					"path", path, "error", err)
				continue
			}
			if err := table.Replace(participants); err != nil {
				logger.Error("participant reload rejected, keeping previous table",
					"path", path, "error", err)
				continue
			}
			logger.Info("participant table reloaded",
				"path", path, "participants", len(participants))
		}
	}
}
