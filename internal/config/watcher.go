package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/markatally/agentloop/internal/logger"
)

// Watcher reloads the config file when it changes on disk and hands the
// freshly parsed result to the registered callback. Reload failures keep the
// previous config in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)

	mu      sync.Mutex
	current *Config
	done    chan struct{}
}

// NewWatcher starts watching the config file's directory. The initial config
// must already be loaded; onChange fires only for subsequent edits.
func NewWatcher(path string, initial *Config, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory so editors that replace the file atomically
	// (write temp + rename) are still observed.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsWatcher,
		onChange: onChange,
		current:  initial,
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous config: %v", err)
				continue
			}

			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()

			logger.Info("config reloaded from %s", w.path)
			if w.onChange != nil {
				w.onChange(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

// Current returns the most recently loaded config
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
