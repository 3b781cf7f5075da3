package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/framegrab/internal/grabber"
)

// captureFile mirrors the [capture] table. Pointer fields distinguish an
// absent key from a zero value; poll_timeout is a duration string or
// milliseconds.
type captureFile struct {
	Capture struct {
		Device        *string `toml:"device"`
		Width         *int    `toml:"width"`
		Height        *int    `toml:"height"`
		FPS           *int    `toml:"fps"`
		PowerLine50Hz *bool   `toml:"power_line_50hz"`
		Buffers       *int    `toml:"buffers"`
		PollTimeout   any     `toml:"poll_timeout"`
	} `toml:"capture"`
}

// LoadCaptureConfig overlays the [capture] table of the file at path on base.
// Used on reload, where flags and env were already folded into base at
// startup and the file is the only thing that changes.
func LoadCaptureConfig(path string, base grabber.Config) (grabber.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}
	var f captureFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := base
	c := f.Capture
	if c.Device != nil {
		cfg.DevicePath = *c.Device
	}
	if c.Width != nil {
		cfg.Width = *c.Width
	}
	if c.Height != nil {
		cfg.Height = *c.Height
	}
	if c.FPS != nil {
		cfg.FrameRate = *c.FPS
	}
	if c.PowerLine50Hz != nil {
		cfg.PowerLine50Hz = *c.PowerLine50Hz
	}
	if c.Buffers != nil {
		cfg.BufferCount = *c.Buffers
	}
	if c.PollTimeout != nil {
		d, err := toDuration(c.PollTimeout)
		if err != nil {
			return base, fmt.Errorf("capture.poll_timeout: %w", err)
		}
		cfg.PollTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
