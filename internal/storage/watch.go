package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the preferences whenever another process rewrites the file,
// calling onChange after each successful reload. It blocks until ctx is done.
// The directory is watched rather than the file because writes replace the
// file by rename.
func (p *JSONFilePreferences) Watch(ctx context.Context, onChange func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create preferences watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.baseDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.baseDir, err)
	}

	target := filepath.Clean(p.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := p.Reload(); err != nil {
				logger.Warn("failed to reload preferences", "path", target, "error", err)
				continue
			}
			logger.Debug("preferences reloaded", "path", target)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("preferences watcher error", "error", err)
		}
	}
}
