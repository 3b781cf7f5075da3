package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/framegrab/internal/grabber"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeCapture writes a [capture] table with the given width.
func writeCapture(t *testing.T, path string, width int) {
	t.Helper()
	body := fmt.Sprintf("[capture]\ndevice = \"/dev/video0\"\nwidth = %d\nheight = 480\n", width)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func captureLoader(path string) (grabber.Config, error) {
	return LoadCaptureConfig(path, grabber.DefaultConfig("/dev/video0", 640, 480))
}

// startWatcher starts a watcher on a fresh config.toml and stops it with the test.
func startWatcher(t *testing.T, debounce time.Duration, opts ...WatcherOption[grabber.Config]) (*Watcher[grabber.Config], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeCapture(t, path, 640)

	opts = append([]WatcherOption[grabber.Config]{WithDebounce[grabber.Config](debounce)}, opts...)
	w := NewConfigWatcher(path, captureLoader, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	time.Sleep(50 * time.Millisecond)
	return w, path
}

func TestWatcherReload(t *testing.T) {
	w, path := startWatcher(t, 50*time.Millisecond)
	received := make(chan grabber.Config, 4)
	w.OnReload(func(cfg grabber.Config) { received <- cfg })

	writeCapture(t, path, 1280)

	select {
	case cfg := <-received:
		if cfg.Width != 1280 || cfg.Height != 480 {
			t.Errorf("got %dx%d, want 1280x480", cfg.Width, cfg.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherSeesRenameReplacement(t *testing.T) {
	w, path := startWatcher(t, 50*time.Millisecond)
	received := make(chan grabber.Config, 4)
	w.OnReload(func(cfg grabber.Config) { received <- cfg })

	tmp := path + ".new"
	writeCapture(t, tmp, 320)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Width != 320 {
			t.Errorf("Width = %d, want 320", cfg.Width)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	w, path := startWatcher(t, 20*time.Millisecond)
	var count atomic.Int32
	w.OnReload(func(grabber.Config) { count.Add(1) })

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for an unrelated file", got)
	}
}

func TestWatcherHandlersShareSnapshot(t *testing.T) {
	w, path := startWatcher(t, 50*time.Millisecond)

	var mu sync.Mutex
	var got []grabber.Config
	for range 3 {
		w.OnReload(func(cfg grabber.Config) {
			mu.Lock()
			got = append(got, cfg)
			mu.Unlock()
		})
	}

	writeCapture(t, path, 800)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("handlers called %d times, want 3", len(got))
	}
	for i, cfg := range got {
		if cfg.Width != 800 {
			t.Errorf("handler %d: Width = %d, want 800", i, cfg.Width)
		}
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	w, path := startWatcher(t, 50*time.Millisecond)

	var first, second atomic.Int32
	w.OnReload(func(grabber.Config) { first.Add(1) })
	unsub := w.OnReload(func(grabber.Config) { second.Add(1) })

	writeCapture(t, path, 800)
	time.Sleep(250 * time.Millisecond)
	unsub()
	writeCapture(t, path, 1024)
	time.Sleep(250 * time.Millisecond)

	if got := first.Load(); got != 2 {
		t.Errorf("first handler: %d calls, want 2", got)
	}
	if got := second.Load(); got != 1 {
		t.Errorf("unsubscribed handler: %d calls, want 1", got)
	}
}

func TestWatcherInvalidConfigReportsError(t *testing.T) {
	errs := make(chan error, 4)
	w, path := startWatcher(t, 50*time.Millisecond,
		WithErrorHandler[grabber.Config](func(err error) { errs <- err }))
	received := make(chan grabber.Config, 4)
	w.OnReload(func(cfg grabber.Config) { received <- cfg })

	if err := os.WriteFile(path, []byte("[capture]\nbuffers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errs:
	case <-received:
		t.Fatal("handler called with a config that fails validation")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	w, path := startWatcher(t, 200*time.Millisecond)

	var count, last atomic.Int32
	w.OnReload(func(cfg grabber.Config) {
		count.Add(1)
		last.Store(int32(cfg.Width))
	})

	for i := 1; i <= 5; i++ {
		writeCapture(t, path, 100*i)
		time.Sleep(40 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
	if got := last.Load(); got != 500 {
		t.Errorf("last width = %d, want 500", got)
	}
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeCapture(t, path, 640)

	var count atomic.Int32
	w := NewConfigWatcher(path, captureLoader, newTestLogger(), WithDebounce[grabber.Config](20*time.Millisecond))
	w.OnReload(func(grabber.Config) { count.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeCapture(t, path, 1280)
	time.Sleep(150 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times after Stop", got)
	}
}

func TestWatcherReloadSkipsDebounce(t *testing.T) {
	w, path := startWatcher(t, time.Hour)
	received := make(chan grabber.Config, 4)
	w.OnReload(func(cfg grabber.Config) { received <- cfg })

	writeCapture(t, path, 800)
	w.Reload()

	select {
	case cfg := <-received:
		if cfg.Width != 800 {
			t.Errorf("width = %d, want 800", cfg.Width)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reload did not load the file")
	}
}

func TestWatcherStopTwice(t *testing.T) {
	w, _ := startWatcher(t, 20*time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}
