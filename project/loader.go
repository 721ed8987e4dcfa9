// Package project maintains the workspace file model: the set of on-disk
// files the analysis engine considers part of the project. Open documents
// inside the model get full project-backed analysis; anything else falls
// back to standalone analysis of the document text alone.
package project

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parley-ls/parley/protocol"
)

// FileMatcher reports whether a file is analyzable. Implemented by the
// analysis engine's language registry.
type FileMatcher interface {
	HasLanguage(uri string) bool
}

// Loader scans workspace folders for analyzable files and keeps the
// resulting model current as folders are added, removed, or change on disk.
// It implements the analysis engine's project view.
type Loader struct {
	matcher  FileMatcher
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	folders []string
	files   map[string]bool

	smu         sync.Mutex
	subscribers []func()

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Loader) { p.logger = l }
}

// WithRescanDebounce sets how long the loader waits after a filesystem
// event before rescanning (default 200ms).
func WithRescanDebounce(d time.Duration) Option {
	return func(p *Loader) { p.debounce = d }
}

// NewLoader creates an empty loader. Call SetFolders to populate the model
// and Watch to keep it current.
func NewLoader(matcher FileMatcher, opts ...Option) *Loader {
	p := &Loader{
		matcher:  matcher,
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		files:    make(map[string]bool),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnModelChange registers a callback invoked after the file model changes.
// Callbacks run synchronously on the goroutine that detected the change.
func (p *Loader) OnModelChange(fn func()) {
	p.smu.Lock()
	defer p.smu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

func (p *Loader) emit() {
	p.smu.Lock()
	subs := p.subscribers
	p.smu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// SetFolders replaces the workspace folders and rescans. Non-file URIs in
// folder lists from the client should be filtered out before this call.
func (p *Loader) SetFolders(paths []string) {
	abs := make([]string, 0, len(paths))
	for _, path := range paths {
		a, err := filepath.Abs(path)
		if err != nil {
			p.logger.Warn("skipping workspace folder", "path", path, "error", err)
			continue
		}
		abs = append(abs, a)
	}

	p.mu.Lock()
	p.folders = abs
	p.mu.Unlock()

	p.Rescan()
}

// Folders returns the current workspace folder paths.
func (p *Loader) Folders() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.folders...)
}

// Rescan walks the workspace folders and rebuilds the file model. If the
// model changed, subscribers are notified.
func (p *Loader) Rescan() {
	p.mu.RLock()
	folders := append([]string(nil), p.folders...)
	p.mu.RUnlock()

	files := make(map[string]bool)
	for _, folder := range folders {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				p.logger.Debug("scan error", "path", path, "error", err)
				return nil
			}
			if d.IsDir() {
				if name := d.Name(); strings.HasPrefix(name, ".") && path != folder {
					return filepath.SkipDir
				}
				return nil
			}
			if p.matcher.HasLanguage(path) {
				files[path] = true
			}
			return nil
		})
		if err != nil {
			p.logger.Warn("scanning workspace folder", "folder", folder, "error", err)
		}
	}

	p.mu.Lock()
	changed := !sameFileSet(p.files, files)
	p.files = files
	p.mu.Unlock()

	if changed {
		p.logger.Debug("project model updated", "files", len(files))
		p.emit()
	}
}

func sameFileSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for path := range a {
		if !b[path] {
			return false
		}
	}
	return true
}

// Contains reports whether the document is part of the project model.
func (p *Loader) Contains(uri protocol.DocumentURI) bool {
	path := URIPath(uri)
	if path == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.files[path]
}

// Files returns the paths currently in the model.
func (p *Loader) Files() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	files := make([]string, 0, len(p.files))
	for path := range p.files {
		files = append(files, path)
	}
	return files
}

// Watch starts filesystem watching on the workspace folders. Events are
// debounced into a single rescan; model changes notify subscribers the same
// way SetFolders does.
func (p *Loader) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	p.mu.Lock()
	if p.watcher != nil {
		p.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("loader already watching")
	}
	p.watcher = fsw
	folders := append([]string(nil), p.folders...)
	p.mu.Unlock()

	for _, folder := range folders {
		if err := addRecursive(fsw, folder); err != nil {
			p.logger.Warn("watching workspace folder", "folder", folder, "error", err)
		}
	}

	go p.run(fsw)
	return nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (p *Loader) run(fsw *fsnotify.Watcher) {
	var timer *time.Timer
	for {
		select {
		case <-p.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			// New directories need watches of their own before their
			// contents produce events.
			if event.Has(fsnotify.Create) {
				addRecursive(fsw, event.Name)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(p.debounce, p.Rescan)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			p.logger.Error("project watcher error", "error", err)
		}
	}
}

// Close stops watching. The model stays queryable after Close.
func (p *Loader) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	fsw := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

// FileURI converts an absolute path to a file URI.
func FileURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI("file://" + filepath.ToSlash(path))
}

// URIPath converts a file URI to a filesystem path. Returns "" for
// non-file URIs.
func URIPath(uri protocol.DocumentURI) string {
	s := string(uri)
	if !strings.HasPrefix(s, "file://") {
		return ""
	}
	return filepath.FromSlash(strings.TrimPrefix(s, "file://"))
}
