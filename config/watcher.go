package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads settings when the file on disk changes. It watches the
// file's directory rather than the file itself: editors commonly save
// through a rename, which replaces the inode a file watch is bound to, and
// a settings file written after startup should be picked up the moment it
// appears. Event bursts collapse into a single reload.
type Watcher struct {
	path        string
	reloadDelay time.Duration
	reload      func() error
	logger      *slog.Logger

	fsw      *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets how long after the last file event the reload runs
// (default 100ms).
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.reloadDelay = d }
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher watches the settings file at path and calls reload after its
// content changes. A reload error (unreadable file, failed validation) is
// logged and the previous settings stay in effect.
func NewWatcher(path string, reload func() error, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:        path,
		reloadDelay: 100 * time.Millisecond,
		reload:      reload,
		logger:      slog.Default(),
		fsw:         fsw,
		stop:        make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching settings directory %s: %w", dir, err)
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.concernsSettings(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.reloadDelay, func() {
				if err := w.reload(); err != nil {
					w.logger.Warn("settings reload failed, keeping previous settings",
						"path", w.path, "error", err)
					return
				}
				w.logger.Debug("settings reloaded", "path", w.path)
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("settings watcher error", "error", err)
		}
	}
}

// concernsSettings filters the directory's event stream down to mutations
// of the settings file itself, including the rename that an atomic save
// ends with.
func (w *Watcher) concernsSettings(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return w.fsw.Close()
}
