// Package capture runs the polling loop around one capture engine.
//
// A Runner's goroutine is the only code that touches its engine. Everything
// else talks to it through Status, Reconfigure and the preview.Latest frame
// holder.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/metrics"
	"github.com/smazurov/framegrab/internal/preview"
	"github.com/smazurov/framegrab/pkg/linuxav/hotplug"
)

type exitReason int

const (
	exitShutdown exitReason = iota
	exitReconfigure
	exitDeviceLost
)

// FormatStatus is the negotiated geometry.
type FormatStatus struct {
	Width        int `json:"width" example:"640" doc:"Negotiated width"`
	Height       int `json:"height" example:"480" doc:"Negotiated height"`
	BytesPerLine int `json:"bytes_per_line" example:"1280" doc:"Driver row stride"`
	SizeImage    int `json:"size_image" example:"614400" doc:"Driver image size"`
	FrameSize    int `json:"frame_size" example:"614400" doc:"Bytes per grabbed frame"`
}

// Status is a point-in-time view of the runner.
type Status struct {
	SessionID     string                  `json:"session_id" doc:"Identifier of the current engine session"`
	Device        string                  `json:"device" example:"/dev/video0" doc:"Capture device"`
	State         string                  `json:"state" example:"streaming" doc:"Engine state"`
	Format        FormatStatus            `json:"format" doc:"Negotiated format"`
	Buffers       int                     `json:"buffers" example:"5" doc:"Granted buffers"`
	Advisories    []events.AdvisoryResult `json:"advisories" doc:"Optional settings"`
	Frames        uint64                  `json:"frames" doc:"Frames grabbed this session"`
	Failures      map[string]int64        `json:"failures" doc:"Grab failures by kind since startup"`
	Reconnects    int                     `json:"reconnects" doc:"Engine restarts after device loss"`
	LastError     string                  `json:"last_error,omitempty" doc:"Most recent non-recoverable error"`
	LastErrorKind string                  `json:"last_error_kind,omitempty" example:"IO_ERROR" doc:"Kind of the most recent error"`
	LastFrameAt   time.Time               `json:"last_frame_at,omitzero" doc:"Time of the most recent frame"`
}

// Runner owns one engine and grabs a frame per tick.
type Runner struct {
	opts        Options
	logger      *slog.Logger
	reconfigure chan grabber.Config

	mu     sync.RWMutex
	status Status

	// owned by the Run goroutine
	session  string
	sequence uint64
	node     string // last resolved device node
	nodeFor  string // configured path node was resolved from
}

// NewRunner creates a runner. Nothing is opened until Run.
func NewRunner(opts Options) *Runner {
	opts.applyDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("capture")
	}
	return &Runner{
		opts:        opts,
		logger:      logger,
		reconfigure: make(chan grabber.Config, 1),
		status: Status{
			Device: opts.Config.DevicePath,
			State:  grabber.StateClosed.String(),
		},
	}
}

// Latest returns the holder the runner publishes frames to.
func (r *Runner) Latest() *preview.Latest {
	return r.opts.Latest
}

// Status returns a copy of the current status.
func (r *Runner) Status() Status {
	r.mu.RLock()
	s := r.status
	r.mu.RUnlock()

	s.Advisories = append([]events.AdvisoryResult(nil), s.Advisories...)
	s.Failures = metrics.GetGrabFailures(s.Device)
	return s
}

// Reconfigure asks the runner to rebuild its engine with cfg. A request that
// has not been picked up yet is replaced.
func (r *Runner) Reconfigure(cfg grabber.Config) {
	for {
		select {
		case r.reconfigure <- cfg:
			r.logger.Info("Reconfiguration requested", "device", cfg.DevicePath)
			return
		default:
			select {
			case <-r.reconfigure:
			default:
			}
		}
	}
}

// Run captures until ctx is cancelled. Device failures never end Run; the
// engine is closed and re-initialised with backoff.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.opts.Config
	uevents := r.watchHotplug(ctx)

	delay := r.opts.ReconnectDelay
	for {
		eng, err := r.start(cfg)
		if err != nil {
			next, ok := r.waitRetry(ctx, cfg, delay, &uevents)
			if !ok {
				return nil
			}
			if next != cfg {
				delay = r.opts.ReconnectDelay
			} else {
				delay = min(delay*2, r.opts.MaxReconnectDelay)
			}
			cfg = r.switchConfig(cfg, next)
			continue
		}
		delay = r.opts.ReconnectDelay

		reason, next := r.stream(ctx, eng, &uevents)
		if err := eng.Close(); err != nil {
			r.logger.Warn("Engine close reported errors", "error", err)
		}

		switch reason {
		case exitShutdown:
			r.logger.Info("Capture loop stopped")
			return nil
		case exitReconfigure:
			cfg = r.switchConfig(cfg, next)
		case exitDeviceLost:
			r.mu.Lock()
			r.status.Reconnects++
			r.mu.Unlock()
			next, ok := r.waitRetry(ctx, cfg, delay, &uevents)
			if !ok {
				return nil
			}
			cfg = r.switchConfig(cfg, next)
		}
	}
}

// start builds, initialises and starts an engine for cfg.
func (r *Runner) start(cfg grabber.Config) (*grabber.Engine, error) {
	session := uuid.NewString()
	logger := r.logger.With("session_id", session)

	opts := []grabber.Option{
		grabber.WithStateHook(func(from, to grabber.State) {
			r.onStateChange(cfg.DevicePath, session, from, to)
		}),
	}
	if r.opts.Opener != nil {
		opts = append(opts, grabber.WithOpener(r.opts.Opener))
	}
	eng := grabber.New(cfg, opts...)

	if err := eng.Init(); err != nil {
		r.recordError(cfg.DevicePath, session, err)
		return nil, err
	}
	if err := eng.StartCapturing(); err != nil {
		r.recordError(cfg.DevicePath, session, err)
		_ = eng.Close()
		return nil, err
	}

	r.session = session
	r.sequence = 0
	r.publishFormat(eng, session)
	logger.Info("Capture session started",
		"device", cfg.DevicePath,
		"frame_size", eng.FrameSize(),
		"tick", r.opts.Tick)
	return eng, nil
}

// stream grabs one frame per tick until something ends the session.
func (r *Runner) stream(ctx context.Context, eng *grabber.Engine, uevents *<-chan hotplug.Event) (exitReason, grabber.Config) {
	device := eng.Config().DevicePath
	node := r.deviceNode(device)
	frame := make([]byte, eng.FrameSize())

	ticker := time.NewTicker(r.opts.Tick)
	defer ticker.Stop()
	stats := time.NewTicker(r.opts.StatsInterval)
	defer stats.Stop()

	lastFrames, lastStats := r.sequence, time.Now()
	for {
		select {
		case <-ctx.Done():
			return exitShutdown, grabber.Config{}

		case cfg := <-r.reconfigure:
			if cfg == eng.Config() {
				r.logger.Debug("Capture configuration unchanged", "device", device)
				continue
			}
			return exitReconfigure, cfg

		case ev, ok := <-*uevents:
			if !ok {
				*uevents = nil
				continue
			}
			r.publishHotplug(ev)
			if ev.Action == hotplug.ActionRemove && ev.Node() == node {
				r.logger.Warn("Capture device removed", "device", device)
				return exitDeviceLost, grabber.Config{}
			}

		case now := <-stats.C:
			fps := float64(r.sequence-lastFrames) / now.Sub(lastStats).Seconds()
			lastFrames, lastStats = r.sequence, now
			r.publishStats(device, fps, now)

		case <-ticker.C:
			if err := r.grab(eng, frame); err != nil {
				return exitDeviceLost, grabber.Config{}
			}
		}
	}
}

// grab performs one GrabFrame and decides whether the session survives it.
func (r *Runner) grab(eng *grabber.Engine, frame []byte) error {
	device := eng.Config().DevicePath
	format := eng.Format()

	started := time.Now()
	err := eng.GrabFrame(frame)
	metrics.SetPool(device, eng.PoolSize(), eng.AppOwned())
	if err == nil {
		r.sequence++
		metrics.RecordFrame(device, time.Since(started))
		r.opts.Latest.Store(frame, format.Width, format.Height, r.sequence, started)

		r.mu.Lock()
		r.status.Frames = r.sequence
		r.status.LastFrameAt = started
		r.mu.Unlock()
		return nil
	}

	kind := grabber.KindOf(err)
	metrics.RecordGrabFailure(device, kind.String())

	switch {
	case grabber.IsRecoverable(err):
		return nil
	case kind == grabber.KindIOError && r.opts.TolerateIOErrors:
		r.logger.Debug("Ignoring dequeue I/O error", "device", device, "error", err)
		return nil
	}

	r.recordError(device, r.session, err)
	return err
}

// waitRetry sleeps before the next Init attempt. A reconfiguration or the
// device node reappearing cuts the wait short. It returns false on shutdown.
func (r *Runner) waitRetry(ctx context.Context, cfg grabber.Config, delay time.Duration, uevents *<-chan hotplug.Event) (grabber.Config, bool) {
	r.logger.Info("Retrying capture device", "device", cfg.DevicePath, "delay", delay)
	node := r.deviceNode(cfg.DevicePath)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return cfg, false
		case next := <-r.reconfigure:
			return next, true
		case <-timer.C:
			return cfg, true
		case ev, ok := <-*uevents:
			if !ok {
				*uevents = nil
				continue
			}
			r.publishHotplug(ev)
			if ev.Action == hotplug.ActionAdd && ev.Node() == node {
				r.logger.Info("Capture device added", "device", cfg.DevicePath)
				return cfg, true
			}
		}
	}
}

// switchConfig clears per-device state when the device path changes.
func (r *Runner) switchConfig(prev, next grabber.Config) grabber.Config {
	if prev == next {
		return next
	}
	r.opts.Latest.Reset()
	if prev.DevicePath != next.DevicePath {
		metrics.DeleteCaptureMetrics(prev.DevicePath)
	}

	r.mu.Lock()
	r.status = Status{Device: next.DevicePath, State: grabber.StateClosed.String()}
	r.mu.Unlock()

	r.logger.Info("Capture configuration changed",
		"device", next.DevicePath,
		"width", next.Width,
		"height", next.Height,
		"fps", next.FrameRate)
	return next
}

// deviceNode resolves path to the node uevents name, so devices configured
// through /dev/v4l/by-id links still match. While the link is missing (the
// device is unplugged) the last resolution for the same path is reused.
func (r *Runner) deviceNode(path string) string {
	if node, err := filepath.EvalSymlinks(path); err == nil {
		r.node, r.nodeFor = node, path
		return node
	}
	if r.nodeFor == path {
		return r.node
	}
	return path
}

// watchHotplug starts the uevent monitor when enabled. A nil channel is
// returned when hotplug is off or unavailable.
func (r *Runner) watchHotplug(ctx context.Context) <-chan hotplug.Event {
	if r.opts.UEvents != nil {
		return r.opts.UEvents
	}
	if !r.opts.Hotplug {
		return nil
	}
	mon, err := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
	if err != nil {
		r.logger.Warn("Hotplug monitoring unavailable", "error", err)
		return nil
	}

	ch := make(chan hotplug.Event, 8)
	go func() {
		defer mon.Close()
		if err := mon.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("Hotplug monitor stopped", "error", err)
		}
	}()
	return ch
}

func (r *Runner) onStateChange(device, session string, from, to grabber.State) {
	metrics.SetState(device, int(to))

	r.mu.Lock()
	r.status.State = to.String()
	if to == grabber.StateConfigured || to == grabber.StateStreaming {
		r.status.SessionID = session
	}
	r.mu.Unlock()

	r.publish(events.StateChangedEvent{
		DevicePath: device,
		SessionID:  session,
		From:       from.String(),
		To:         to.String(),
		Timestamp:  timestamp(time.Now()),
	})
}

func (r *Runner) recordError(device, session string, err error) {
	var ge *grabber.Error
	step := ""
	if errors.As(err, &ge) {
		step = ge.Step
	}
	kind := grabber.KindOf(err).String()

	r.mu.Lock()
	r.status.LastError = err.Error()
	r.status.LastErrorKind = kind
	r.mu.Unlock()

	r.publish(events.CaptureErrorEvent{
		DevicePath: device,
		SessionID:  session,
		Kind:       kind,
		Step:       step,
		Error:      err.Error(),
		Timestamp:  timestamp(time.Now()),
	})
}

func (r *Runner) publishFormat(eng *grabber.Engine, session string) {
	f := eng.Format()
	advisories := make([]events.AdvisoryResult, 0, len(eng.Advisories()))
	for _, a := range eng.Advisories() {
		res := events.AdvisoryResult{Name: a.Name, Applied: a.Applied, Detail: a.Detail}
		if a.Err != nil {
			res.Error = a.Err.Error()
		}
		advisories = append(advisories, res)
	}
	device := eng.Config().DevicePath
	metrics.SetPool(device, eng.PoolSize(), eng.AppOwned())

	r.mu.Lock()
	r.status.Format = FormatStatus{
		Width:        f.Width,
		Height:       f.Height,
		BytesPerLine: f.BytesPerLine,
		SizeImage:    f.SizeImage,
		FrameSize:    f.FrameSize(),
	}
	r.status.Buffers = eng.PoolSize()
	r.status.Advisories = advisories
	r.status.Frames = 0
	r.mu.Unlock()

	r.publish(events.FormatNegotiatedEvent{
		DevicePath:   device,
		SessionID:    session,
		Width:        f.Width,
		Height:       f.Height,
		BytesPerLine: f.BytesPerLine,
		SizeImage:    f.SizeImage,
		Buffers:      eng.PoolSize(),
		Advisories:   advisories,
		Timestamp:    timestamp(time.Now()),
	})
}

func (r *Runner) publishStats(device string, fps float64, now time.Time) {
	r.publish(events.FrameStatsEvent{
		DevicePath: device,
		SessionID:  r.session,
		Frames:     r.sequence,
		FPS:        fps,
		Failures:   metrics.GetGrabFailures(device),
		Timestamp:  timestamp(now),
	})
}

func (r *Runner) publishHotplug(ev hotplug.Event) {
	if ev.Action != hotplug.ActionAdd && ev.Action != hotplug.ActionRemove {
		return
	}
	r.publish(events.DeviceHotplugEvent{
		DevicePath: ev.Node(),
		Action:     ev.Action,
		Timestamp:  timestamp(time.Now()),
	})
}

func (r *Runner) publish(ev events.Event) {
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(ev)
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
