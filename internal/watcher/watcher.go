// Package watcher turns file system notifications under a workspace into
// indexer file events.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
)

type Watcher struct {
	fs     *fsnotify.Watcher
	root   string
	logger *slog.Logger
	events chan models.FileEvent

	mu     sync.RWMutex
	filter scanner.Filter
}

func New(root string, filter scanner.Filter, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		fs:     fw,
		root:   root,
		filter: filter,
		logger: logger.With(slog.String("component", "watcher")),
		events: make(chan models.FileEvent, 256),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan models.FileEvent { return w.events }

// Run forwards events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) Close() error { return w.fs.Close() }

// SetFilter replaces the exclusion filter. Directories the new filter
// excludes stop being watched and newly included ones are added.
func (w *Watcher) SetFilter(filter scanner.Filter) error {
	w.mu.Lock()
	w.filter = filter
	w.mu.Unlock()

	for _, path := range w.fs.WatchList() {
		if path != w.root && filter.Excluded(w.root, path, true) {
			if err := w.fs.Remove(path); err != nil {
				w.logger.Debug("unwatch failed", slog.String("path", path), slog.Any("error", err))
			}
		}
	}
	return w.addRecursive(w.root)
}

func (w *Watcher) excluded(path string, isDir bool) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filter.Excluded(w.root, path, isDir)
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.excluded(path, true) {
				return
			}
			if err := w.addRecursive(path); err != nil {
				w.logger.Warn("watch new directory failed", slog.String("path", path), slog.Any("error", err))
			}
			w.emit(ctx, models.FileEvent{Path: path, Kind: models.EventCreate})
			return
		}
		if w.wanted(path) {
			w.emit(ctx, models.FileEvent{Path: path, Kind: models.EventCreate})
		}
	case ev.Has(fsnotify.Write):
		if w.wanted(path) {
			w.emit(ctx, models.FileEvent{Path: path, Kind: models.EventChange})
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// the path is gone, so directories cannot be told apart here
		if !w.excluded(path, false) {
			w.emit(ctx, models.FileEvent{Path: path, Kind: models.EventDelete})
		}
	}
}

func (w *Watcher) wanted(path string) bool {
	if _, ok := patterns.LanguageOf(models.Ext(path)); !ok {
		return false
	}
	return !w.excluded(path, false)
}

func (w *Watcher) emit(ctx context.Context, ev models.FileEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("watch failed", slog.String("path", path), slog.Any("error", err))
		}
		return nil
	})
}
