// Package signal provides file-based run control via the .revue directory.
// Dropping a "stop" file into .revue/signals asks an in-flight run to stop
// gracefully; the run checkpoints and exits so it can be resumed later.
package signal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFile is the filename that requests a graceful stop.
const StopFile = "stop"

// Watcher observes the signals directory and fires a callback when a stop
// signal appears. A polling fallback via ShouldStop covers platforms where
// the file watcher cannot start.
type Watcher struct {
	signalsDir string

	mu      sync.RWMutex
	stopped bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	onStop  func()
}

// NewWatcher creates a watcher for the given repo's .revue/signals
// directory, creating it if needed. onStop fires at most once, from the
// watcher goroutine, when the stop file appears. A nil onStop is allowed;
// callers can poll ShouldStop instead.
func NewWatcher(repoPath string, onStop func()) (*Watcher, error) {
	signalsDir := filepath.Join(repoPath, ".revue", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
		onStop:     onStop,
	}

	// A stop file left over from a previous run counts immediately.
	if _, err := os.Stat(w.stopPath()); err == nil {
		w.markStopped()
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - ShouldStop polls the file directly
		return w, nil
	}
	if err := fw.Add(signalsDir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw

	go w.watch()
	return w, nil
}

// WatchContext ties a context to the stop signal: the returned context is
// cancelled when the stop file appears. The caller must call the returned
// Watcher's Close when done.
func WatchContext(ctx context.Context, repoPath string) (context.Context, *Watcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := NewWatcher(repoPath, cancel)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if w.ShouldStop() {
		cancel()
	}
	return ctx, w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != StopFile {
				continue
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				w.markStopped()
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

func (w *Watcher) markStopped() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	if w.onStop != nil {
		w.once.Do(w.onStop)
	}
}

// ShouldStop returns true if a stop signal has been received.
// It also checks the file directly in case the watcher missed it.
func (w *Watcher) ShouldStop() bool {
	if _, err := os.Stat(w.stopPath()); err == nil {
		w.markStopped()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// SendStop creates the stop signal file.
func (w *Watcher) SendStop() error {
	return os.WriteFile(w.stopPath(), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the stop file and resets the watcher's state so a new
// run can start cleanly.
func (w *Watcher) Clear() {
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()
	os.Remove(w.stopPath())
}

// SignalsDir returns the path to the signals directory.
func (w *Watcher) SignalsDir() string {
	return w.signalsDir
}

func (w *Watcher) stopPath() string {
	return filepath.Join(w.signalsDir, StopFile)
}

// Close shuts down the watcher.
func (w *Watcher) Close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
}
