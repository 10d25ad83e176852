package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/pwmirror/internal/logging"
)

const testDebounce = 50 * time.Millisecond

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher[T any](t *testing.T, path string, loader func(string) (T, error), opts ...WatcherOption[T]) *Watcher[T] {
	t.Helper()
	opts = append([]WatcherOption[T]{WithDebounce[T](testDebounce)}, opts...)
	w := NewConfigWatcher(path, loader, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return w
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
	var zero T
	return zero
}

func TestWatcherReloadsLogging(t *testing.T) {
	path := writeConfig(t, "[logging]\nlevel = \"info\"\n")
	w := startWatcher(t, path, ReadLoggingConfig)

	received := make(chan logging.Config, 1)
	w.OnReload(func(cfg logging.Config) { received <- cfg })

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\nsession = \"warn\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := waitFor(t, received)
	if cfg.Level != "debug" || cfg.Modules["session"] != "warn" {
		t.Errorf("got %+v, want level=debug session=warn", cfg)
	}
}

func TestWatcherFollowsRename(t *testing.T) {
	path := writeConfig(t, "[logging]\nlevel = \"info\"\n")
	w := startWatcher(t, path, ReadLoggingConfig)

	received := make(chan logging.Config, 1)
	w.OnReload(func(cfg logging.Config) { received <- cfg })

	tmp := filepath.Join(filepath.Dir(path), ".pwmirror.toml.swp")
	if err := os.WriteFile(tmp, []byte("[logging]\nlevel = \"error\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	if cfg := waitFor(t, received); cfg.Level != "error" {
		t.Errorf("Level = %q, want error", cfg.Level)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "[logging]\n")
	var loads atomic.Int32
	startWatcher(t, path, func(p string) (logging.Config, error) {
		loads.Add(1)
		return ReadLoggingConfig(p)
	})

	other := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(other, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(4 * testDebounce)
	if n := loads.Load(); n != 0 {
		t.Errorf("loader called %d times for an unrelated file", n)
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := writeConfig(t, "[logging]\n")
	var loads atomic.Int32
	w := startWatcher(t, path, func(p string) (logging.Config, error) {
		loads.Add(1)
		return ReadLoggingConfig(p)
	})

	received := make(chan logging.Config, 10)
	w.OnReload(func(cfg logging.Config) { received <- cfg })

	for _, level := range []string{"debug", "info", "warn"} {
		if err := os.WriteFile(path, []byte("[logging]\nlevel = \""+level+"\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(testDebounce / 5)
	}

	if cfg := waitFor(t, received); cfg.Level != "warn" {
		t.Errorf("Level = %q, want last write", cfg.Level)
	}
	time.Sleep(4 * testDebounce)
	if n := loads.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := writeConfig(t, "[logging]\n")
	w := startWatcher(t, path, ReadLoggingConfig)

	var removed atomic.Int32
	unsub := w.OnReload(func(logging.Config) { removed.Add(1) })
	kept := make(chan logging.Config, 1)
	w.OnReload(func(cfg logging.Config) { kept <- cfg })
	unsub()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, kept)
	if n := removed.Load(); n != 0 {
		t.Errorf("unsubscribed handler called %d times", n)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := writeConfig(t, "[logging]\n")
	errs := make(chan error, 1)
	w := startWatcher(t, path, ReadLoggingConfig, WithErrorHandler[logging.Config](func(err error) {
		errs <- err
	}))

	var reloads atomic.Int32
	w.OnReload(func(logging.Config) { reloads.Add(1) })

	if err := os.WriteFile(path, []byte("[logging\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := waitFor(t, errs); err == nil {
		t.Error("expected parse error")
	}
	if n := reloads.Load(); n != 0 {
		t.Errorf("handler called %d times after a failed load", n)
	}
}

func TestWatcherStartMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "pwmirror.toml")
	w := NewConfigWatcher(path, ReadLoggingConfig, newTestLogger())
	if err := w.Start(); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start = %v", err)
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	path := writeConfig(t, "[logging]\n")
	w := NewConfigWatcher(path, ReadLoggingConfig, newTestLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("first Stop = %v", err)
	}
	if err := w.Stop(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.Errorf("second Stop = %v", err)
	}
}
