// Copyright 2026 © Helix Bio
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/knadh/koanf/providers/file"
)

// Watcher monitors the configuration file for changes and triggers reload.
// Listeners typically adjust the log level or gateway tuning without a
// restart; structural changes (tool sets, providers) still need one.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	provider  *file.File
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a configuration watcher for path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		provider: file.Provider(path),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.config = cfg

	return w, nil
}

// OnChange registers a callback to be called when config changes.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching for configuration changes. The underlying file
// provider follows the path, not the inode, so editor rename-and-replace
// saves still trigger a reload.
func (w *Watcher) Start(ctx context.Context) error {
	return w.provider.Watch(func(event interface{}, err error) {
		if err != nil {
			w.logger.WarnContext(ctx, "config.watch.error",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
			return
		}
		w.reload(ctx)
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if err := w.provider.Unwatch(); err != nil {
		w.logger.Warn("config.unwatch.error", slog.String("error", err.Error()))
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "config.reload.error",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "config.reloaded", slog.String("path", w.path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
