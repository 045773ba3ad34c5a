package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch calls onChange with the freshly parsed config each time the file at
// path changes. Editors often replace files instead of writing them in place,
// so the parent directory is watched and events are filtered by name. Bursts
// of events are debounced; unchanged content and configs that fail to parse
// or validate are skipped. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last, _ := os.ReadFile(path)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("config reload failed", "path", path, "error", err)
			return
		}
		mu.Lock()
		unchanged := bytes.Equal(data, last)
		mu.Unlock()
		if unchanged {
			logger.Debug("config unchanged, skipping reload", "path", path)
			return
		}
		cfg, err := Parse(data)
		if err != nil {
			logger.Warn("config rejected", "path", path, "error", err)
			return
		}
		mu.Lock()
		last = data
		mu.Unlock()
		logger.Info("config reloaded", "path", path, "boards", len(cfg.Boards))
		onChange(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	logger.Debug("config watcher started", "dir", dir, "file", file)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			if filepath.Base(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			logger.Warn("config watch error", "dir", dir, "error", err)
		}
	}
}
