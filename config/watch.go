package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it changes and passes every valid result to fn. Invalid
// revisions are logged and skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that save by renaming a new
// file over the old one keep triggering reloads.
func Watch(ctx context.Context, logger *slog.Logger, path string, fn func(*Config)) error {
	if logger == nil {
		panic("attempted to watch a configuration with a nil logger")
	}

	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create configuration watcher")
	}
	defer watcher.Close()

	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return errors.Wrapf(err, "failed to watch configuration %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != path || !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("configuration change ignored", slog.String("Path", path), slog.Any("Error", err))
				continue
			}

			logger.Debug("Watch::reload", slog.String("Path", path))
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("configuration watcher failed", slog.String("Path", path), slog.Any("Error", err))
		}
	}
}
