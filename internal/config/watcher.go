package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencontext/ocagent/internal/debounce"
)

// WatchCatalog reloads the catalog when its file changes on disk, so
// hand-edited model lists take effect without a restart. Events are debounced
// because editors fire several writes per save. Blocks until ctx is done.
func WatchCatalog(ctx context.Context, catalog *Catalog, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: the file may not exist yet, and saves that
	// rename a temp file replace the watched inode.
	if err := watcher.Add(filepath.Dir(catalog.Path())); err != nil {
		return err
	}

	reload := debounce.New(func() {
		if err := catalog.Load(); err != nil {
			logger.Warn("model catalog reload failed", "error", err)
			return
		}
		logger.Debug("model catalog reloaded", "path", catalog.Path())
	}, debounce.WithDelay(200*time.Millisecond))
	defer reload.Stop()

	target := filepath.Base(catalog.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload.Trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("model catalog watcher error", "error", err)
		}
	}
}
