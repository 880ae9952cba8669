package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// testBackoff returns a fast backoff config for tests.
func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	got := BackoffConfig{MaxRetries: 3}.withDefaults()
	want := DefaultBackoffConfig()
	want.MaxRetries = 3
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}

func TestBackoffConfig_NextCaps(t *testing.T) {
	t.Parallel()
	b := DefaultBackoffConfig()
	d := b.InitialDelay
	for i := 0; i < 10; i++ {
		d = b.next(d)
	}
	if d != b.MaxDelay {
		t.Errorf("delay after 10 steps = %v, want %v", d, b.MaxDelay)
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readyCalled atomic.Int32

	m := NewManager(slog.Default())
	w := m.Watch(ctx, WatcherConfig{
		Name:    "files",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
		OnReady: func() { readyCalled.Add(1) },
	})
	defer m.Stop()

	eventually(t, "OnReady", func() bool { return readyCalled.Load() == 1 })
	if !w.IsReady() {
		t.Error("IsReady() = false after successful probe")
	}
	if w.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", w.LastError())
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{
		Name: "flaky",
		Probe: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
		Backoff: testBackoff(),
	})
	defer m.Stop()

	eventually(t, "ready", w.IsReady)
	if n := calls.Load(); n < 3 {
		t.Errorf("probe calls = %d, want >= 3", n)
	}
}

func TestWatcher_GoesDownAndRecovers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthy atomic.Bool
	healthy.Store(true)
	var downCalled, readyCalled atomic.Int32

	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{
		Name: "git",
		Probe: func(ctx context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("ping failed")
		},
		Backoff: testBackoff(),
		OnReady: func() { readyCalled.Add(1) },
		OnDown:  func(error) { downCalled.Add(1) },
	})
	defer m.Stop()

	eventually(t, "initial ready", w.IsReady)

	healthy.Store(false)
	eventually(t, "down", func() bool { return downCalled.Load() == 1 })
	if w.IsReady() {
		t.Error("IsReady() = true after failed probe")
	}

	healthy.Store(true)
	eventually(t, "recovery", func() bool { return readyCalled.Load() == 2 })
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "stopper",
		Probe:   func(ctx context.Context) error { return errors.New("down") },
		Backoff: testBackoff(),
	})

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestManager_WatchReplacesSameName(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(nil)
	first := m.Watch(ctx, WatcherConfig{
		Name:    "files",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
	})
	m.Watch(ctx, WatcherConfig{
		Name:    "files",
		Probe:   func(ctx context.Context) error { return nil },
		Backoff: testBackoff(),
	})
	defer m.Stop()

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher still running")
	}
	if got := len(m.Status()); got != 1 {
		t.Errorf("len(Status()) = %d, want 1", got)
	}
}

func TestManager_StatusSorted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(nil)
	for _, name := range []string{"zeta", "alpha"} {
		m.Watch(ctx, WatcherConfig{
			Name:    name,
			Probe:   func(ctx context.Context) error { return errors.New("down") },
			Backoff: testBackoff(),
		})
	}
	defer m.Stop()

	eventually(t, "first probes", func() bool {
		for _, s := range m.Status() {
			if s.LastCheck.IsZero() {
				return false
			}
		}
		return true
	})

	status := m.Status()
	if len(status) != 2 || status[0].Name != "alpha" || status[1].Name != "zeta" {
		t.Fatalf("Status() = %+v, want alpha then zeta", status)
	}
	if status[0].LastError != "down" {
		t.Errorf("LastError = %q, want %q", status[0].LastError, "down")
	}
}

func TestManager_WatchPanicsWithoutName(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("Watch with empty name did not panic")
		}
	}()
	NewManager(nil).Watch(context.Background(), WatcherConfig{
		Probe: func(ctx context.Context) error { return nil },
	})
}
