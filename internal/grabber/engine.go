package grabber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/framegrab/internal/logging"
)

// State is the engine's position in the capture lifecycle.
type State int

// Engine states.
const (
	StateClosed State = iota
	StateConfigured
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpener replaces the kernel device opener.
func WithOpener(open Opener) Option {
	return func(e *Engine) {
		e.open = open
	}
}

// WithLogger sets the engine logger. The device path is added to it.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStateHook registers a callback run synchronously on every state
// transition.
func WithStateHook(hook func(from, to State)) Option {
	return func(e *Engine) {
		e.onState = hook
	}
}

// Engine drives one capture device. See the package documentation for the
// lifecycle and the single-goroutine requirement.
type Engine struct {
	cfg     Config
	open    Opener
	logger  *slog.Logger
	onState func(from, to State)

	state      State
	dev        Device
	pool       *Pool
	format     NegotiatedFormat
	advisories []Advisory
}

// New creates an engine in the Closed state. No device is touched until Init.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		open:   OpenV4L2,
		logger: logging.GetLogger("grabber"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("device", cfg.DevicePath)
	return e
}

// Config returns the capture request the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Format returns the negotiated format. It is zero while Closed.
func (e *Engine) Format() NegotiatedFormat {
	return e.format
}

// FrameSize is the destination size GrabFrame requires.
func (e *Engine) FrameSize() int {
	return e.format.FrameSize()
}

// Advisories reports which optional settings Init applied.
func (e *Engine) Advisories() []Advisory {
	out := make([]Advisory, len(e.advisories))
	copy(out, e.advisories)
	return out
}

// PoolSize is the number of buffers the driver granted, 0 while Closed.
func (e *Engine) PoolSize() int {
	if e.pool == nil {
		return 0
	}
	return e.pool.Len()
}

// AppOwned is the number of application-owned buffers.
func (e *Engine) AppOwned() int {
	if e.pool == nil {
		return 0
	}
	return e.pool.AppOwned()
}

// Init opens and configures the device and maps the buffer pool.
func (e *Engine) Init() error {
	if e.state != StateClosed {
		return e.invalidState("init")
	}
	if err := e.cfg.Validate(); err != nil {
		return e.fail(err)
	}

	path := e.cfg.DevicePath
	dev, err := openDevice(e.open, path)
	if err != nil {
		return e.fail(err)
	}

	format, crop, err := negotiateFormat(dev, path, e.cfg.Width, e.cfg.Height)
	if err != nil {
		_ = dev.Close()
		return e.fail(err)
	}
	if format.Width != e.cfg.Width || format.Height != e.cfg.Height {
		e.logger.Info("Driver adjusted frame size",
			"requested", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
			"negotiated", fmt.Sprintf("%dx%d", format.Width, format.Height))
	}

	advisories := append([]Advisory{crop}, applyAdvisory(dev, e.cfg)...)
	for _, a := range advisories {
		e.logAdvisory(a)
	}

	pool, err := allocatePool(dev, path, e.cfg.BufferCount, requiredLen(format))
	if err != nil {
		_ = dev.Close()
		return e.fail(err)
	}
	if pool.Len() != e.cfg.BufferCount {
		e.logger.Info("Driver adjusted buffer count", "requested", e.cfg.BufferCount, "granted", pool.Len())
	}

	e.dev = dev
	e.pool = pool
	e.format = format
	e.advisories = advisories
	e.setState(StateConfigured)

	e.logger.Info("Capture device initialized",
		"width", format.Width,
		"height", format.Height,
		"bytes_per_line", format.BytesPerLine,
		"size_image", format.SizeImage,
		"buffers", pool.Len())
	return nil
}

// StartCapturing queues every buffer and turns streaming on. On failure the
// engine stays in its previous state with all buffers idle.
func (e *Engine) StartCapturing() error {
	if e.state != StateConfigured && e.state != StateStopped {
		return e.invalidState("start capturing")
	}

	for i := 0; i < e.pool.Len(); i++ {
		if err := e.pool.Enqueue(i); err != nil {
			e.unqueueAll()
			return e.fail(err)
		}
	}

	if err := e.dev.StreamOn(); err != nil {
		e.unqueueAll()
		return e.fail(newError(KindDeviceFailure, e.cfg.DevicePath, "stream on", err))
	}

	e.setState(StateStreaming)
	e.logger.Debug("Capture started", "buffers", e.pool.Len())
	return nil
}

// GrabFrame copies the next filled frame into dst, which must hold at least
// FrameSize() bytes. A nil error means dst holds one complete frame.
func (e *Engine) GrabFrame(dst []byte) error {
	if e.state != StateStreaming {
		return e.invalidState("grab frame")
	}
	if need := e.format.FrameSize(); len(dst) < need {
		return newError(KindShortBuffer, e.cfg.DevicePath, "grab frame",
			fmt.Errorf("destination holds %d bytes, frame needs %d", len(dst), need))
	}

	// A previous requeue failed; return that buffer before taking another
	if held, ok := e.pool.Held(); ok {
		if err := e.pool.Enqueue(held); err != nil {
			return e.grabFail(err)
		}
	}

	index, err := e.pool.Dequeue(e.cfg.PollTimeout)
	if err != nil {
		return e.grabFail(err)
	}

	if err := e.pool.copyOut(index, dst, e.format); err != nil {
		return e.grabFail(err)
	}

	if err := e.pool.Enqueue(index); err != nil {
		return e.grabFail(err)
	}
	return nil
}

// StopCapturing turns streaming off. Buffers stay mapped.
func (e *Engine) StopCapturing() error {
	if e.state != StateStreaming {
		return e.invalidState("stop capturing")
	}
	if err := e.dev.StreamOff(); err != nil {
		return e.fail(newError(KindDeviceFailure, e.cfg.DevicePath, "stream off", err))
	}
	e.pool.idle()
	e.setState(StateStopped)
	e.logger.Debug("Capture stopped")
	return nil
}

// Uninit unmaps the buffer pool and closes the device. The engine ends up
// Closed even when an unmap fails; the error reports every failed unmap.
func (e *Engine) Uninit() error {
	if e.state != StateConfigured && e.state != StateStopped {
		return e.invalidState("uninit")
	}
	return e.teardown()
}

// Close releases everything from any state. Closing a Closed engine is a
// no-op.
func (e *Engine) Close() error {
	switch e.state {
	case StateClosed:
		return nil
	case StateStreaming:
		if err := e.dev.StreamOff(); err != nil {
			e.logger.Warn("Failed to stop streaming during close", "error", err)
		}
		e.pool.idle()
	}
	return e.teardown()
}

func (e *Engine) teardown() error {
	var result error

	if err := e.pool.release(); err != nil {
		result = e.fail(newError(KindUnmapFailed, e.cfg.DevicePath, "unmap buffers", err))
	}
	if _, err := e.dev.RequestBuffers(0); err != nil {
		e.logger.Debug("Failed to free driver buffers", "error", err)
	}
	if err := e.dev.Close(); err != nil && result == nil {
		result = e.fail(newError(KindDeviceFailure, e.cfg.DevicePath, "close device", err))
	}

	e.dev = nil
	e.pool = nil
	e.format = NegotiatedFormat{}
	e.advisories = nil
	e.setState(StateClosed)
	return result
}

// unqueueAll returns queued buffers after a failed start. STREAMOFF is valid
// on a stream that never started and clears the driver queues.
func (e *Engine) unqueueAll() {
	if err := e.dev.StreamOff(); err != nil {
		e.logger.Debug("Failed to clear driver queues", "error", err)
	}
	e.pool.idle()
}

func (e *Engine) setState(to State) {
	from := e.state
	e.state = to
	if e.onState != nil && from != to {
		e.onState(from, to)
	}
}

func (e *Engine) logAdvisory(a Advisory) {
	if a.Applied {
		e.logger.Debug("Optional setting applied", "setting", a.Name, "detail", a.Detail)
		return
	}
	level := slog.LevelWarn
	if a.Name == AdvisoryCropReset {
		level = slog.LevelDebug
	}
	e.logger.Log(context.Background(), level, "Optional setting not applied", "setting", a.Name, "detail", a.Detail, "error", a.Err)
}

func (e *Engine) invalidState(step string) error {
	return newError(KindInvalidState, e.cfg.DevicePath, step, fmt.Errorf("not valid in state %s", e.state))
}

// fail logs a non-recoverable error with its step and returns it unchanged.
func (e *Engine) fail(err error) error {
	var ge *Error
	if errors.As(err, &ge) {
		e.logger.Error("Capture step failed", "step", ge.Step, "kind", ge.Kind.String(), "error", ge.Cause)
	} else {
		e.logger.Error("Capture step failed", "error", err)
	}
	return err
}

// grabFail logs per-frame failures quietly when they are expected.
func (e *Engine) grabFail(err error) error {
	if IsRecoverable(err) {
		return err
	}
	return e.fail(err)
}
