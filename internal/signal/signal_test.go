package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShouldStopPollsFile(t *testing.T) {
	repo := t.TempDir()
	w, err := NewWatcher(repo, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if w.ShouldStop() {
		t.Fatal("fresh watcher reports stopped")
	}

	if err := w.SendStop(); err != nil {
		t.Fatalf("SendStop failed: %v", err)
	}
	if !w.ShouldStop() {
		t.Error("ShouldStop did not see the stop file")
	}
}

func TestPreexistingStopFileCountsImmediately(t *testing.T) {
	repo := t.TempDir()
	signalsDir := filepath.Join(repo, ".revue", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(signalsDir, StopFile), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(repo, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if !w.ShouldStop() {
		t.Error("stale stop file ignored")
	}
}

func TestOnStopFiresOnce(t *testing.T) {
	repo := t.TempDir()
	fired := make(chan struct{})
	w, err := NewWatcher(repo, func() { close(fired) })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if err := w.SendStop(); err != nil {
		t.Fatalf("SendStop failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		// Fall back to polling in case the watcher could not start.
		if !w.ShouldStop() {
			t.Fatal("stop signal never observed")
		}
		select {
		case <-fired:
		default:
			t.Fatal("onStop never fired")
		}
	}

	// A second stop must not panic via a double-fired callback.
	w.SendStop()
	w.ShouldStop()
}

func TestClearResetsState(t *testing.T) {
	repo := t.TempDir()
	w, err := NewWatcher(repo, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	w.SendStop()
	if !w.ShouldStop() {
		t.Fatal("stop not observed")
	}

	w.Clear()
	if w.ShouldStop() {
		t.Error("watcher still stopped after Clear")
	}
	if _, err := os.Stat(filepath.Join(w.SignalsDir(), StopFile)); !os.IsNotExist(err) {
		t.Error("stop file still on disk after Clear")
	}
}

func TestWatchContextCancelsOnStop(t *testing.T) {
	repo := t.TempDir()
	ctx, w, err := WatchContext(context.Background(), repo)
	if err != nil {
		t.Fatalf("WatchContext failed: %v", err)
	}
	defer w.Close()

	if err := w.SendStop(); err != nil {
		t.Fatalf("SendStop failed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		// The fsnotify watcher may be unavailable; polling must still work.
		if !w.ShouldStop() {
			t.Fatal("stop never observed")
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("context never cancelled after stop")
		}
	}
}
