package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// Watch watches the config file and invokes onReload with the freshly parsed
// (and migrated) config after each change. Parse failures keep the previous
// config and log a warning; the watcher never delivers a broken config.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-fire:
			cfg, changes, err := LoadAndMigrate(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", path, "migrations", len(changes))
			onReload(cfg)
		}
	}
}
