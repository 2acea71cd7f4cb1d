package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay coalesces the burst of events a single save produces.
const settleDelay = 50 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each new
// Config to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that
// replace the file by rename and files that are deleted and recreated are
// both picked up. A reload that fails is logged and the previous config
// stays active. Saves that leave the content unchanged are ignored.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}
	slog.Info("config: watching for changes", "path", path)

	last, _ := os.ReadFile(path)
	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			settle.Reset(settleDelay)

		case <-settle.C:
			data, err := os.ReadFile(path)
			if err != nil {
				// Mid-replace; the Create that follows re-arms the timer.
				slog.Debug("config: file not readable yet", "path", path, "err", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			last = data
			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
