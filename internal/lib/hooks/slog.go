package hooks

import (
	"context"
	"log/slog"
)

// Slog returns hooks that log cache lifecycle events to logger.
// Routine events are logged at debug level, failures at warn and hook errors at error.
func Slog(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	debug := func(msg string) HookFunc {
		return func(arg any) error {
			logger.Debug(msg, "key", arg)
			return nil
		}
	}
	return &Hooks{
		OnMiss:    debug("lazycache: miss"),
		OnExecute: debug("lazycache: resolving"),
		OnDone:    debug("lazycache: resolved"),
		OnBypass:  debug("lazycache: bypass"),
		OnRemove:  debug("lazycache: removed"),
		OnEvict:   debug("lazycache: evicted"),
		OnFailure: func(key string, err error) {
			logger.Warn("lazycache: factory failed", "key", key, "err", err)
		},
		LogError: func(err error) {
			logger.LogAttrs(context.Background(), slog.LevelError, "lazycache: hook error", slog.Any("err", err))
		},
	}
}
