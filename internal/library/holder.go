package library

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Holder publishes the current Library. Readers call Load once per frame and
// keep that pointer for the whole frame.
type Holder struct {
	p atomic.Pointer[Library]
}

// NewHolder returns a Holder publishing lib.
func NewHolder(lib *Library) *Holder {
	h := &Holder{}
	h.p.Store(lib)
	return h
}

// Load returns the current Library.
func (h *Holder) Load() *Library { return h.p.Load() }

// Store publishes lib.
func (h *Holder) Store(lib *Library) { h.p.Store(lib) }

// Reload loads dir and publishes the result. On failure the current Library
// stays published and the error is returned.
func (h *Holder) Reload(dir string) (*Library, error) {
	lib, err := Load(dir)
	if err != nil {
		return nil, err
	}
	h.p.Store(lib)
	return lib, nil
}

// Watch monitors the library directory tree and calls onChange with each
// successfully reloaded Library. It runs until ctx is cancelled.
//
// If a reload fails the error is logged and the previous library remains
// active; onChange is not called.
func Watch(ctx context.Context, dir string, onChange func(*Library)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTree(watcher, dir); err != nil {
		return err
	}

	slog.Info("library: watching for changes", "dir", dir)

	var lastVersion string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			// fsnotify is not recursive; pick up new subdirectories.
			if event.Has(fsnotify.Create) {
				_ = addTree(watcher, event.Name)
			}

			lib, err := Load(dir)
			if err != nil {
				slog.Error("library: reload failed, keeping previous library",
					"dir", dir, "err", err)
				continue
			}
			if lib.Version == lastVersion {
				continue
			}
			lastVersion = lib.Version

			slog.Info("library: reloaded", "dir", dir, "version", lib.Version,
				"exercises", len(lib.ids))
			onChange(lib)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("library: watcher error", "err", err)
		}
	}
}

// addTree adds root and every directory below it to w.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
