// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls configuration files and reloads on modification.
type Watcher struct {
	mu          sync.RWMutex
	path        string
	profile     string
	interval    time.Duration
	lastModTime map[string]time.Time
	config      *Config
	listeners   []func(*Config)
	stopOnce    sync.Once
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchProfile layers the profile file over the base file on every load
// and watches it as well.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) {
		w.profile = profile
	}
}

// NewWatcher loads path and prepares to watch it. Start begins polling.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:        path,
		interval:    time.Second,
		lastModTime: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.paths() {
		if info, err := os.Stat(p); err == nil {
			w.lastModTime[p] = info.ModTime()
		}
	}

	cfg, err := LoadWithProfile(w.path, w.profile)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

func (w *Watcher) paths() []string {
	if w.path == "" {
		return nil
	}
	out := []string{w.path}
	if p := profileConfigPath(w.path, w.profile); p != "" {
		out = append(out, p)
	}
	return out
}

// OnChange registers a callback run after every successful reload.
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

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for the goroutine to exit. Start must
// have been called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		lastMod, exists := w.lastModTime[p]
		if !exists || info.ModTime().After(lastMod) {
			w.lastModTime[p] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := LoadWithProfile(w.path, w.profile)
	if err != nil {
		// Keep serving the last good configuration.
		w.logger.Error("config.reload.error", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reload.complete", slog.String("path", w.path))
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchConfig creates a watcher for path and starts it.
func WatchConfig(ctx context.Context, path string, opts ...WatcherOption) (*Watcher, *Config, error) {
	watcher, err := NewWatcher(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	watcher.Start(ctx)
	return watcher, watcher.Config(), nil
}

// ReloadableConfig is a Config that can be swapped atomically while readers
// keep using it.
type ReloadableConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewReloadableConfig wraps cfg.
func NewReloadableConfig(cfg *Config) *ReloadableConfig {
	return &ReloadableConfig{config: cfg}
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Update replaces the configuration.
func (r *ReloadableConfig) Update(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// Account returns the account section.
func (r *ReloadableConfig) Account() AccountConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Account
}

// Agent returns the agent section.
func (r *ReloadableConfig) Agent() AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Agent
}

// LLM returns the model section.
func (r *ReloadableConfig) LLM() LLMConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.LLM
}
