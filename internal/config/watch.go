package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce batches the bursts of events editors emit for a single save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads path into src whenever the file changes, until ctx is done.
//
// The parent directory is watched so that files replaced by rename are picked up.
// A file that fails to load is logged and the previous snapshot stays in effect.
// The returned channel receives each successfully applied config and is closed when
// watching stops.
func Watch(ctx context.Context, path string, src *Source, logger *slog.Logger) (<-chan *Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	applied := make(chan *Config, 1)
	go func() {
		defer close(applied)
		defer w.Close()

		name := filepath.Base(path)
		var debounce *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("config: event", "op", event.Op, "name", event.Name)
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(reloadDebounce)
				fire = debounce.C

			case <-fire:
				fire = nil
				if _, err := os.Stat(path); err != nil {
					logger.Warn("config: file gone, keeping previous", "path", path, "err", err)
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Error("config: reload failed, keeping previous", "path", path, "err", err)
					continue
				}
				src.Store(cfg)
				logger.Info("config: reloaded", "path", path, "enabled", cfg.Enabled, "policies", len(cfg.Policies))
				select {
				case applied <- cfg:
				default:
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Debug("config: watch error", "err", err)
			}
		}
	}()
	return applied, nil
}
