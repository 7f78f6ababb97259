package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/logging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher follows a single configuration file and, on each debounced
// change, reloads and republishes the full Config to every registered
// callback. Publication is whole-value: a callback always receives a
// complete, freshly validated *Config, never a partial patch, so a
// subscriber (cmd/gateway/main.go's liveEngine) can swap its current
// value for the new one atomically instead of reconciling fields.
type Watcher struct {
	fsw        *fsnotify.Watcher
	loader     *Loader
	configPath string
	debounce   time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)

	done chan struct{}
}

// NewWatcher creates a Watcher over configPath, loading it once up
// front so GetConfig has a value before Start is ever called.
func NewWatcher(configPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:        fsw,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		done:       make(chan struct{}),
	}

	cfg, err := w.loader.Load(configPath)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	w.current = cfg

	return w, nil
}

// SetDebounce overrides the default coalescing window for rapid
// successive file events. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// OnChange registers a callback invoked with the new Config after a
// successful reload. Callbacks run concurrently and must not block.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// GetConfig returns the most recently loaded Config.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches configPath's directory and begins reloading on
// change. Watching the directory rather than the file itself survives
// editors and ConfigMap-style mounts that replace the file by rename
// instead of writing it in place.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.run()
	return nil
}

// Reload forces an immediate reload outside the fsnotify loop, for a
// caller that wants to trigger one from a signal handler rather than
// waiting on a filesystem event.
func (w *Watcher) Reload() {
	w.reload()
}

// Stop ends the watch loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error("configuration watcher error", zap.String("path", w.configPath), zap.Error(err))
		}
	}
}

// relevant reports whether event concerns the watched config file and
// is a kind that can plausibly mean its contents changed: a direct
// write, a create (editors that write a temp file then rename it over
// the original), or a rename/remove (ConfigMap mounts atomically swap
// a symlink, which fsnotify reports as the old path disappearing).
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(w.configPath) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("configuration reload rejected", zap.String("path", w.configPath), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))
	for _, cb := range callbacks {
		go cb(cfg)
	}
}
