package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/deskagent/deskagent/internal/agentlog"
)

// Watcher reloads the rendezvous/relay endpoints from path whenever the
// file changes on disk, without restarting the process. AgentIdentity is
// never hot-reloaded — only Server/Relay endpoints are applied from each
// reload, per the identity-stability invariant.
//
// Grounded on the teacher's internal/watcher/watcher.go: an fsnotify
// watcher on the containing directory (editors replace-write files, which
// fsnotify sees as a remove+create rather than a single Write event, so
// watching the directory is more reliable than watching the file handle
// directly), debounced so a burst of writes triggers one reload.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(Config)
	log       *agentlog.Logger
	stop      chan struct{}
}

// NewWatcher creates a watcher for path. onChange is invoked with the
// freshly loaded Config after each debounced change; it must not block.
func NewWatcher(path string, log *agentlog.Logger, onChange func(Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	return &Watcher{
		fsWatcher: fsw,
		path:      path,
		onChange:  onChange,
		log:       log,
		stop:      make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsWatcher.Close()
}

func (w *Watcher) run() {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.log.Warningf("reload %s failed: %v", w.path, err)
			return
		}
		w.onChange(*cfg)
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warningf("watcher error: %v", err)

		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
