package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/streamline/internal/connection"
)

// Logger matches the Printf-style loggers used across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher reloads the project config when it changes on disk and publishes
// the result into a connection.Config as one complete generation.
type Watcher struct {
	projectDir string
	conn       *connection.Config
	logger     Logger
	onReload   func(connection.Settings)
}

// WatchOption customizes a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger overrides the default no-op logger.
func WithWatchLogger(l Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithReloadHook is called after every successful publish.
func WithReloadHook(fn func(connection.Settings)) WatchOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher prepares a watcher for projectDir/.streamline.
func NewWatcher(projectDir string, conn *connection.Config, opts ...WatchOption) *Watcher {
	w := &Watcher{
		projectDir: projectDir,
		conn:       conn,
		logger:     nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run blocks until ctx is done. The directory is watched rather than the file
// so editors that replace the file on save are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Join(w.projectDir, Dir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigEvent(event) {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.projectDir)
	if err != nil {
		w.logger.Printf("config: reload rejected: %v", err)
		return
	}
	settings := cfg.Settings()
	if settings == w.conn.Snapshot() {
		return
	}
	generation := w.conn.Apply(settings)
	w.logger.Printf("config: published generation %d (direct %s, management %s)",
		generation, settings.Direct.Address(), settings.Management.Address())
	if w.onReload != nil {
		w.onReload(settings)
	}
}

func isConfigEvent(event fsnotify.Event) bool {
	switch filepath.Base(event.Name) {
	case yamlFile, tomlFile:
	default:
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
