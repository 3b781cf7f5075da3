package grabber

import (
	"errors"
	"time"
)

// Defaults applied by DefaultConfig.
const (
	DefaultFrameRate   = 30
	DefaultBufferCount = 5
	DefaultPollTimeout = 10 * time.Millisecond

	// MinBufferCount is the smallest pool that lets the driver fill one
	// buffer while the application reads another.
	MinBufferCount = 2

	// BytesPerPixel of the packed YUYV encoding the engine negotiates.
	BytesPerPixel = 2
)

// Config is the immutable capture request.
type Config struct {
	DevicePath string
	Width      int
	Height     int
	// FrameRate is requested from the driver as a time per frame of 1/FrameRate.
	FrameRate int
	// PowerLine50Hz selects 50 Hz flicker reduction; false disables the filter.
	PowerLine50Hz bool
	BufferCount   int
	// PollTimeout bounds how long GrabFrame waits for a filled buffer. It is a
	// poll interval rather than a frame deadline: callers re-poll on Timeout.
	PollTimeout time.Duration
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig(devicePath string, width, height int) Config {
	return Config{
		DevicePath:  devicePath,
		Width:       width,
		Height:      height,
		FrameRate:   DefaultFrameRate,
		BufferCount: DefaultBufferCount,
		PollTimeout: DefaultPollTimeout,
	}
}

// Validate checks the request before any device is touched.
func (c Config) Validate() error {
	switch {
	case c.DevicePath == "":
		return newError(KindNotFound, c.DevicePath, "validate config", errors.New("device path is empty"))
	case c.Width <= 0 || c.Height <= 0:
		return newError(KindUnsupported, c.DevicePath, "validate config", errors.New("width and height must be positive"))
	case c.FrameRate <= 0:
		return newError(KindUnsupported, c.DevicePath, "validate config", errors.New("frame rate must be positive"))
	case c.BufferCount < MinBufferCount:
		return newError(KindInsufficientMemory, c.DevicePath, "validate config", errors.New("at least 2 buffers are required"))
	case c.PollTimeout < 0:
		return newError(KindUnsupported, c.DevicePath, "validate config", errors.New("poll timeout must not be negative"))
	}
	return nil
}
