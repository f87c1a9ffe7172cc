package devhost

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zot/xwalk-lua/internal/config"
)

// Watcher calls onChange once a burst of changes to .lua files in a
// directory has settled.
type Watcher struct {
	config   *config.Config
	dir      string
	watcher  *fsnotify.Watcher
	onChange func() error

	pending       time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. The debounce delay comes from
// dev.debounce.
func NewWatcher(cfg *config.Config, dir string, onChange func() error) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	delay := cfg.Dev.Debounce.Duration()
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Watcher{
		config:        cfg,
		dir:           dir,
		watcher:       watcher,
		onChange:      onChange,
		debounceDelay: delay,
		done:          make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		return err
	}
	w.config.Log(1, "Watcher: watching %s", w.dir)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Log(1, "Watcher: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".lua") {
		return
	}
	w.config.Log(3, "Watcher: event %s on %s", event.Op, filepath.Base(event.Name))
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.queue()
	}
}

// queue (re)starts the debounce delay.
func (w *Watcher) queue() {
	w.debounceMu.Lock()
	w.pending = time.Now()
	w.debounceMu.Unlock()
}

func (w *Watcher) debounceLoop() {
	tick := w.debounceDelay / 2
	if tick > 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.debounceMu.Lock()
	due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounceDelay
	if due {
		w.pending = time.Time{}
	}
	w.debounceMu.Unlock()

	if !due {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.config.Log(0, "Watcher: PANIC in change handler: %v", r)
		}
	}()
	if err := w.onChange(); err != nil {
		w.config.Log(1, "Watcher: change handler failed: %v", err)
	}
}
