package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent carries the result of re-resolving the configuration after
// the file changed. Err is set when the new file fails to load or
// validate; the previous configuration stays in effect in that case.
type ReloadEvent struct {
	Config *Config
	Err    error
}

// Watcher re-loads the configuration whenever its file changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file via rename keep triggering events.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan ReloadEvent
	done    chan struct{}
	wg      stdsync.WaitGroup
	mu      stdsync.Mutex
	running bool

	path       string
	logger     *log.Logger
	lastReload time.Time
}

// NewWatcher creates a watcher for the given config file. The watcher
// must be started with Start before it emits events.
func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	return &Watcher{
		watcher: fw,
		events:  make(chan ReloadEvent, 16),
		done:    make(chan struct{}),
		path:    abs,
		logger:  logger,
	}, nil
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and closes the event channel. It blocks until the
// event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	close(w.events)

	return nil
}

// Events returns the channel that emits reload results. The channel is
// closed when the watcher is stopped.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// processEvents is the main loop converting file system events on the
// config file into reload attempts.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("WARNING: watch error: %v", err)
		}
	}
}

// relevant reports whether the event touches the watched file with an
// operation that can change its contents.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// reload re-resolves the configuration and emits the result. Bursts of
// events within a short window collapse into one reload, and a full
// event channel drops the result rather than blocking the loop.
func (w *Watcher) reload() {
	if time.Since(w.lastReload) < 100*time.Millisecond {
		return
	}
	w.lastReload = time.Now()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("WARNING: config reload failed, keeping previous: %v", err)
	} else {
		w.logger.Printf("config reloaded from %s", w.path)
	}

	select {
	case w.events <- ReloadEvent{Config: cfg, Err: err}:
	case <-w.done:
	default:
		w.logger.Printf("WARNING: reload event dropped, channel full")
	}
}
