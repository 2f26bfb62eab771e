package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc receives the freshly loaded configuration after the watched
// file changes.
type ReloadFunc func(*Config)

// Watcher polls a configuration file's modification time and reloads it
// on change. Reload failures keep the previous configuration and are
// logged; callbacks only ever see configurations that passed validation.
type Watcher struct {
	loader   *Loader
	path     string
	interval time.Duration
	onReload ReloadFunc
	logger   *zap.Logger

	mu      sync.Mutex
	lastMod time.Time
	running bool
	stop    chan struct{}
}

// NewWatcher creates a watcher over path. interval <= 0 defaults to
// five seconds.
func NewWatcher(path string, interval time.Duration, onReload ReloadFunc, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		loader:   NewLoader().WithConfigPath(path),
		path:     path,
		interval: interval,
		onReload: onReload,
		logger:   logger.With(zap.String("component", "config_watcher")),
	}
}

// Start begins polling until ctx is cancelled or Stop is called. It is
// an error-free no-op when already running.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	stop := w.stop
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
}

// Stop halts polling.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stop)
		w.running = false
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()
	if !changed {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
