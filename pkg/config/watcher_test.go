package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
gate:
  failure_threshold: 3
`)

	w, err := NewWatcher(WatcherConfig{Path: path, Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- w.Watch(ctx, func(cfg *Config) { reloaded <- cfg })
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("gate:\n  failure_threshold: 9\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gate.FailureThreshold != 9 {
			t.Errorf("expected reloaded threshold 9, got %d", cfg.Gate.FailureThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}
	if err := <-watchDone; err != nil {
		t.Fatalf("watch returned error: %v", err)
	}
}

func TestWatcher_InvalidChangeIsSkipped(t *testing.T) {
	path := writeConfig(t, `
gate:
  failure_threshold: 3
`)

	w, err := NewWatcher(WatcherConfig{Path: path, Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { w.Watch(ctx, func(cfg *Config) { reloaded <- cfg }) }()
	time.Sleep(50 * time.Millisecond)

	// A write that fails validation must not reach onChange.
	if err := os.WriteFile(path, []byte("gate:\n  failure_threshold: -1\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	// A following valid write still arrives, proving the watcher
	// survived the bad one.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("gate:\n  failure_threshold: 6\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gate.FailureThreshold != 6 {
			t.Errorf("expected threshold 6 from the valid write, got %d", cfg.Gate.FailureThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, `
gate:
  failure_threshold: 3
`)

	w, err := NewWatcher(WatcherConfig{Path: path, Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	var reloads atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { w.Watch(ctx, func(*Config) { reloads.Add(1) }) }()
	time.Sleep(50 * time.Millisecond)

	other := path + ".bak"
	if err := os.WriteFile(other, []byte("unrelated"), 0644); err != nil {
		t.Fatalf("failed to write sibling file: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("expected no reloads for sibling file, got %d", n)
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int64
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("expected 1 firing for the burst, got %d", n)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var fired atomic.Int64
	d.Trigger(func() { fired.Add(1) })
	d.Stop()

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("expected no firing after stop, got %d", n)
	}
}
