package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/entitystream/errors"
)

// Watch monitors the config file and invokes onChange with the freshly
// loaded configuration whenever the file is rewritten. Invalid rewrites are
// logged and skipped; the previous configuration stays in effect. Watch
// returns when ctx is cancelled.
//
// Editors typically replace files via rename, so the parent directory is
// watched rather than the file itself.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Watch", "empty config path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapFatal(err, "Config", "Watch", "create fsnotify watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return errors.WrapFatal(err, "Config", "Watch", "watch config directory")
	}

	target := filepath.Clean(path)
	log := logger.With("component", "config-watcher", "path", target)
	log.Info("watching config file for changes")

	// Editors emit bursts of events per save; debounce before reloading.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

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
			pending = time.After(200 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("ignoring invalid config rewrite", "error", err)
				continue
			}
			log.Info("config reloaded")
			onChange(cfg)
		}
	}
}
