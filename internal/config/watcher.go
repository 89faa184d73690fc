package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/conductor/internal/tools/policy"
)

// Watcher reloads the configuration file when it changes and publishes the
// trust mode it contains. A reload that fails to load or validate keeps the
// previous values.
type Watcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mode    atomic.Value // policy.TrustMode
	current atomic.Pointer[Config]

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	listeners []func(*Config)
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for path seeded with the already loaded cfg.
func NewWatcher(path string, cfg *Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	w := &Watcher{
		path:     path,
		logger:   logger.With("component", "config_watcher"),
		debounce: 100 * time.Millisecond,
	}
	w.mode.Store(cfg.TrustMode())
	w.current.Store(cfg)
	return w
}

// TrustMode returns the most recently loaded trust mode. It is safe to call
// from any goroutine and is meant to be read once per reply.
func (w *Watcher) TrustMode() policy.TrustMode {
	return w.mode.Load().(policy.TrustMode)
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// OnReload registers fn to run after every successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	absPath, err := filepath.Abs(w.path)
	if err != nil {
		w.mu.Unlock()
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		w.mu.Unlock()
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx, watcher, absPath)
	return nil
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer w.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed; keeping previous settings", "path", w.path, "error", err)
		return
	}
	previous := w.TrustMode()
	w.current.Store(cfg)
	w.mode.Store(cfg.TrustMode())
	if mode := cfg.TrustMode(); mode != previous {
		w.logger.Info("trust mode changed", "from", previous, "to", mode)
	}

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
