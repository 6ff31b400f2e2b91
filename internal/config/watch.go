package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anteroomhq/anteroom/internal/safety"
)

// debounce window for editors that write config files in several operations.
const reloadDebounce = 250 * time.Millisecond

// WatchSafety re-reads the config file on change and pushes the safety
// section into the gate. Only the safety section hot-reloads; everything
// else requires a restart. Blocks until ctx is done.
func WatchSafety(ctx context.Context, path string, gate *safety.Gate, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which drops a
	// watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(path)

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config reload failed", "error", err)
			return
		}
		gate.Reload(cfg.Safety)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
