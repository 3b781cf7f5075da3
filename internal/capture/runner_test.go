package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/internal/grabber/grabbertest"
	"github.com/smazurov/framegrab/pkg/linuxav/hotplug"
	"golang.org/x/sys/unix"
)

type opener struct {
	opens    atomic.Int32
	failures atomic.Int32
	dqErr    error
}

func (o *opener) open(string) (grabber.Device, error) {
	o.opens.Add(1)
	if o.failures.Load() > 0 {
		o.failures.Add(-1)
		return nil, unix.EBUSY
	}
	return &grabbertest.LoopDevice{DequeueErr: o.dqErr}, nil
}

func testOptions(device string, o *opener) Options {
	cfg := grabber.DefaultConfig(device, 8, 4)
	cfg.PollTimeout = 0
	return Options{
		Config:         cfg,
		Tick:           time.Millisecond,
		StatsInterval:  10 * time.Millisecond,
		ReconnectDelay: time.Millisecond,
		Opener:         o.open,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:            events.New(),
	}
}

func startRunner(t *testing.T, r *Runner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunnerCapturesFrames(t *testing.T) {
	o := &opener{}
	opts := testOptions("/dev/video-runner", o)
	r := NewRunner(opts)

	var mu sync.Mutex
	var states []string
	unsub := opts.Bus.Subscribe(func(e events.StateChangedEvent) {
		mu.Lock()
		states = append(states, e.To)
		mu.Unlock()
	})
	defer unsub()

	stop := startRunner(t, r)
	waitFor(t, "frames", func() bool { return r.Status().Frames >= 5 })
	stop()

	status := r.Status()
	if status.State != "closed" {
		t.Errorf("expected closed after stop, got %s", status.State)
	}
	if status.Format.FrameSize != 8*4*2 || status.Buffers != grabber.DefaultBufferCount {
		t.Errorf("unexpected status %+v", status)
	}
	if status.SessionID == "" {
		t.Error("expected a session id")
	}

	frame, err := r.Latest().Snapshot()
	if err != nil {
		t.Fatalf("expected a stored frame: %v", err)
	}
	if len(frame.Data) != 64 || frame.Data[0] == 0 || frame.Data[0] != frame.Data[63] {
		t.Errorf("unexpected frame data %v", frame.Data)
	}

	waitFor(t, "state events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	})
	mu.Lock()
	defer mu.Unlock()
	if states[0] != "configured" || states[1] != "streaming" {
		t.Errorf("unexpected state sequence %v", states)
	}
}

func TestRunnerRetriesOpenFailures(t *testing.T) {
	o := &opener{}
	o.failures.Store(2)
	r := NewRunner(testOptions("/dev/video-retry", o))

	stop := startRunner(t, r)
	defer stop()

	waitFor(t, "frames after retry", func() bool { return r.Status().Frames > 0 })
	if got := o.opens.Load(); got < 3 {
		t.Errorf("expected at least 3 opens, got %d", got)
	}
}

func TestRunnerReconfigure(t *testing.T) {
	o := &opener{}
	opts := testOptions("/dev/video-reconf", o)
	r := NewRunner(opts)

	stop := startRunner(t, r)
	defer stop()
	waitFor(t, "first session", func() bool { return r.Status().Frames > 0 })

	cfg := opts.Config
	cfg.Width, cfg.Height = 16, 2
	r.Reconfigure(cfg)

	waitFor(t, "new format", func() bool {
		s := r.Status()
		return s.Format.Width == 16 && s.Frames > 0
	})
	frame, err := r.Latest().Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if frame.Width != 16 || len(frame.Data) != 64 {
		t.Errorf("unexpected frame %dx%d len %d", frame.Width, frame.Height, len(frame.Data))
	}
}

func TestRunnerIgnoresUnchangedConfig(t *testing.T) {
	o := &opener{}
	opts := testOptions("/dev/video-same", o)
	r := NewRunner(opts)

	stop := startRunner(t, r)
	defer stop()
	waitFor(t, "first session", func() bool { return r.Status().Frames > 0 })
	session := r.Status().SessionID

	r.Reconfigure(opts.Config)
	frames := r.Status().Frames
	waitFor(t, "more frames", func() bool { return r.Status().Frames > frames+5 })

	if got := r.Status().SessionID; got != session {
		t.Errorf("session changed from %s to %s", session, got)
	}
	if got := o.opens.Load(); got != 1 {
		t.Errorf("device opened %d times, want 1", got)
	}
}

func TestRunnerIOErrorPolicy(t *testing.T) {
	t.Run("tolerated", func(t *testing.T) {
		o := &opener{dqErr: unix.EIO}
		opts := testOptions("/dev/video-eio-tolerated", o)
		opts.TolerateIOErrors = true
		r := NewRunner(opts)

		stop := startRunner(t, r)
		waitFor(t, "io errors", func() bool { return r.Status().Failures["IO_ERROR"] >= 3 })
		stop()

		if got := o.opens.Load(); got != 1 {
			t.Errorf("expected engine kept open, got %d opens", got)
		}
		if r.Status().Reconnects != 0 {
			t.Error("expected no reconnects")
		}
	})

	t.Run("fatal", func(t *testing.T) {
		o := &opener{dqErr: unix.EIO}
		r := NewRunner(testOptions("/dev/video-eio-fatal", o))

		errs := make(chan events.CaptureErrorEvent, 16)
		unsub := r.opts.Bus.Subscribe(func(e events.CaptureErrorEvent) {
			select {
			case errs <- e:
			default:
			}
		})
		defer unsub()

		stop := startRunner(t, r)
		waitFor(t, "reconnect", func() bool { return o.opens.Load() >= 2 })
		stop()

		status := r.Status()
		if status.Reconnects == 0 {
			t.Error("expected a reconnect")
		}
		if status.LastErrorKind != "IO_ERROR" {
			t.Errorf("expected last error IO_ERROR, got %q", status.LastErrorKind)
		}

		select {
		case e := <-errs:
			if e.Kind != "IO_ERROR" || e.Step != "dequeue" {
				t.Errorf("unexpected error event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("no capture error event")
		}
	})
}

func TestRunnerReconfigureReplacesPending(t *testing.T) {
	r := NewRunner(testOptions("/dev/video-pending", &opener{}))
	first := r.opts.Config
	second := first
	second.FrameRate = 15

	r.Reconfigure(first)
	r.Reconfigure(second)

	select {
	case got := <-r.reconfigure:
		if got.FrameRate != 15 {
			t.Errorf("expected latest request, got fps %d", got.FrameRate)
		}
	default:
		t.Fatal("expected a pending request")
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.applyDefaults()
	if o.Tick != DefaultTick || o.StatsInterval != DefaultStatsInterval {
		t.Errorf("unexpected defaults %+v", o)
	}
	if o.ReconnectDelay != DefaultReconnectDelay || o.MaxReconnectDelay != DefaultMaxReconnectDelay {
		t.Errorf("unexpected reconnect defaults %v %v", o.ReconnectDelay, o.MaxReconnectDelay)
	}
	if o.Latest == nil {
		t.Error("expected a frame holder")
	}
}

// recordStates collects the To field of every state change on bus.
func recordStates(t *testing.T, bus *events.Bus) func() []string {
	t.Helper()
	var mu sync.Mutex
	var states []string
	unsub := bus.Subscribe(func(e events.StateChangedEvent) {
		mu.Lock()
		states = append(states, e.To)
		mu.Unlock()
	})
	t.Cleanup(unsub)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(states)
	}
}

func uevent(action, devName string) hotplug.Event {
	return hotplug.Event{
		Action:    action,
		Subsystem: hotplug.SubsystemVideo4Linux,
		DevName:   devName,
	}
}

func TestRunnerHotplugRemoveReconnects(t *testing.T) {
	o := &opener{}
	uevents := make(chan hotplug.Event, 4)
	opts := testOptions("/dev/video-hp", o)
	opts.UEvents = uevents
	r := NewRunner(opts)
	states := recordStates(t, opts.Bus)

	stop := startRunner(t, r)
	defer stop()
	waitFor(t, "first frames", func() bool { return r.Status().Frames > 0 })

	// Events for other nodes leave the session alone
	uevents <- uevent(hotplug.ActionRemove, "video-other")
	time.Sleep(20 * time.Millisecond)
	if got := r.Status().Reconnects; got != 0 {
		t.Fatalf("Reconnects = %d after unrelated remove", got)
	}

	uevents <- uevent(hotplug.ActionRemove, "video-hp")
	waitFor(t, "closed state", func() bool { return slices.Contains(states(), "closed") })
	waitFor(t, "reconnect", func() bool {
		s := r.Status()
		return s.Reconnects == 1 && s.State == "streaming" && s.Frames > 0
	})
	if got := o.opens.Load(); got < 2 {
		t.Errorf("opens = %d, want at least 2", got)
	}
}

func TestRunnerHotplugAddSkipsBackoff(t *testing.T) {
	o := &opener{}
	o.failures.Store(1)
	uevents := make(chan hotplug.Event, 4)
	opts := testOptions("/dev/video-late", o)
	opts.UEvents = uevents
	opts.ReconnectDelay = time.Hour
	opts.MaxReconnectDelay = time.Hour
	r := NewRunner(opts)

	stop := startRunner(t, r)
	defer stop()
	waitFor(t, "failed open", func() bool { return o.opens.Load() == 1 })

	uevents <- uevent(hotplug.ActionAdd, "video-late")
	waitFor(t, "frames after add", func() bool { return r.Status().Frames > 0 })
	if got := o.opens.Load(); got != 2 {
		t.Errorf("opens = %d, want 2", got)
	}
}

func TestRunnerHotplugMatchesResolvedLink(t *testing.T) {
	link := filepath.Join(t.TempDir(), "usb-Camera-video-index0")
	if err := os.Symlink("/dev/null", link); err != nil {
		t.Skipf("symlink: %v", err)
	}

	o := &opener{}
	uevents := make(chan hotplug.Event, 4)
	opts := testOptions(link, o)
	opts.UEvents = uevents
	r := NewRunner(opts)

	stop := startRunner(t, r)
	defer stop()
	waitFor(t, "first frames", func() bool { return r.Status().Frames > 0 })

	uevents <- uevent(hotplug.ActionRemove, "null")
	waitFor(t, "reconnect", func() bool { return r.Status().Reconnects == 1 })
}

func TestDeviceNodeKeepsLastResolution(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "video7")
	link := filepath.Join(dir, "by-id")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink: %v", err)
	}

	target, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}

	r := NewRunner(testOptions(link, &opener{}))
	if got := r.deviceNode(link); got != target {
		t.Fatalf("deviceNode = %q, want %q", got, target)
	}

	if err := os.Remove(link); err != nil {
		t.Fatal(err)
	}
	if got := r.deviceNode(link); got != target {
		t.Errorf("after unplug deviceNode = %q, want cached %q", got, target)
	}
	if got := r.deviceNode("/dev/video-missing"); got != "/dev/video-missing" {
		t.Errorf("unresolvable path = %q, want it unchanged", got)
	}
}
