package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// ChangeHandler receives the freshly loaded config after a reload.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk, so a
// running serve process picks up rule and retention edits without a
// restart.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	handlers []ChangeHandler
	stop     chan struct{}
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, fs: fs}, nil
}

// OnChange registers a handler invoked on every successful reload.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching. Stop must be called to release the watch.
func (w *Watcher) Start() error {
	if err := w.fs.Add(w.path); err != nil {
		return err
	}
	w.stop = make(chan struct{})
	go w.loop()
	slog.Info("config: watching", "path", w.path)
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	if w.stop != nil {
		close(w.stop)
	}
	w.fs.Close()
}

func (w *Watcher) loop() {
	var pending *time.Timer
	for {
		select {
		case <-w.stop:
			if pending != nil {
				pending.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Error("config: watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous", "error", err)
		return
	}

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config: reloaded", "path", w.path)
}
