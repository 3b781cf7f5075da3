package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrab/internal/grabber"
)

type testOptions struct {
	Config string `help:"Config file path"`

	Device      string        `name:"device" toml:"capture.device" env:"CAPTURE_DEVICE"`
	Width       int           `name:"width" toml:"capture.width" env:"CAPTURE_WIDTH"`
	Hz50        bool          `name:"power-line-50hz" toml:"capture.power_line_50hz" env:"CAPTURE_POWER_LINE_50HZ"`
	PollTimeout time.Duration `toml:"capture.poll_timeout" env:"CAPTURE_POLL_TIMEOUT"`
	Gain        float64       `toml:"capture.gain" env:"CAPTURE_GAIN"`
	AuthUser    string        `toml:"auth.username" env:"AUTH_USERNAME"`
	Modules     []string      `toml:"logging.quiet" env:"LOGGING_QUIET"`

	CaptureTolerateIOErrors bool
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleTOML = `
[capture]
device = "/dev/video2"
width = 1280
power_line_50hz = true
poll_timeout = "25ms"
gain = 2

[auth]
username = "admin"

[logging]
quiet = ["api", "hotplug"]
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := testOptions{
		Config:      opts.Config,
		Device:      "/dev/video2",
		Width:       1280,
		Hz50:        true,
		PollTimeout: 25 * time.Millisecond,
		Gain:        2,
		AuthUser:    "admin",
		Modules:     []string{"api", "hotplug"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v\nwant %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("FRAMEGRAB_CAPTURE_WIDTH", "320")
	t.Setenv("FRAMEGRAB_CAPTURE_POLL_TIMEOUT", "1s")
	t.Setenv("FRAMEGRAB_LOGGING_QUIET", "grabber, capture")

	opts := &testOptions{Config: writeFile(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Width != 320 {
		t.Errorf("Width = %d, want 320", opts.Width)
	}
	if opts.PollTimeout != time.Second {
		t.Errorf("PollTimeout = %s, want 1s", opts.PollTimeout)
	}
	if want := []string{"grabber", "capture"}; !reflect.DeepEqual(opts.Modules, want) {
		t.Errorf("Modules = %v, want %v", opts.Modules, want)
	}
	if opts.Device != "/dev/video2" {
		t.Errorf("Device = %q, want value from file", opts.Device)
	}
}

func TestLoadConfigSkipsChangedFlags(t *testing.T) {
	t.Setenv("FRAMEGRAB_CAPTURE_DEVICE", "/dev/video9")

	cmd := &cobra.Command{Use: "test"}
	device := cmd.Flags().String("device", "/dev/video0", "")
	cmd.Flags().Int("width", 640, "")
	if err := cmd.Flags().Parse([]string{"--device", "/dev/video1"}); err != nil {
		t.Fatal(err)
	}

	opts := &testOptions{Config: writeFile(t, sampleTOML), Device: *device, Width: 640}
	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Device != "/dev/video1" {
		t.Errorf("Device = %q, want flag value", opts.Device)
	}
	if opts.Width != 1280 {
		t.Errorf("Width = %d, want file value for an unchanged flag", opts.Width)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Width: 640}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Width != 640 {
		t.Errorf("Width = %d, want default kept", opts.Width)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{name: "invalid toml", toml: "[capture\nwidth = "},
		{name: "wrong type", toml: "[capture]\nwidth = true\n"},
		{name: "bad duration", toml: "[capture]\npoll_timeout = \"soon\"\n"},
		{name: "boolean duration", toml: "[capture]\npoll_timeout = false\n"},
		{name: "bad env int", env: map[string]string{"FRAMEGRAB_CAPTURE_WIDTH": "wide"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{Config: writeFile(t, tt.toml)}
			if err := LoadConfig(opts, nil); err == nil {
				t.Errorf("LoadConfig succeeded, want error")
			}
		})
	}
}

// durationOptions has the shape of the daemon's capture timing options.
type durationOptions struct {
	Config             string
	CapturePollTimeout time.Duration `default:"10ms" toml:"capture.poll_timeout" env:"CAPTURE_POLL_TIMEOUT"`
	CaptureTick        time.Duration `default:"33ms" toml:"capture.tick" env:"CAPTURE_TICK"`
}

func TestLoadConfigDurations(t *testing.T) {
	tests := []struct {
		name     string
		toml     string
		wantPoll time.Duration
		wantTick time.Duration
	}{
		{"milliseconds", "[capture]\npoll_timeout = 25\ntick = 40\n", 25 * time.Millisecond, 40 * time.Millisecond},
		{"strings", "[capture]\npoll_timeout = \"1s\"\ntick = \"100ms\"\n", time.Second, 100 * time.Millisecond},
		{"mixed", "[capture]\npoll_timeout = 0\ntick = \"1m\"\n", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &durationOptions{
				Config:             writeFile(t, tt.toml),
				CapturePollTimeout: 10 * time.Millisecond,
				CaptureTick:        33 * time.Millisecond,
			}
			if err := LoadConfig(opts, nil); err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if opts.CapturePollTimeout != tt.wantPoll || opts.CaptureTick != tt.wantTick {
				t.Errorf("got poll=%s tick=%s, want poll=%s tick=%s",
					opts.CapturePollTimeout, opts.CaptureTick, tt.wantPoll, tt.wantTick)
			}
		})
	}
}

func TestLoadConfigRequiresStructPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Error("LoadConfig accepted a non-pointer")
	}
}

func TestFlagName(t *testing.T) {
	typ := reflect.TypeOf(testOptions{})
	tests := map[string]string{
		"Device":      "device",
		"Hz50":        "power-line-50hz",
		"PollTimeout": "poll-timeout",
		"AuthUser":    "auth-user",

		"CaptureTolerateIOErrors": "capture-tolerate-io-errors",
	}
	for field, want := range tests {
		sf, _ := typ.FieldByName(field)
		if got := flagName(sf); got != want {
			t.Errorf("flagName(%s) = %q, want %q", field, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeFile(t, `
[logging]
level = "warn"
format = "json"
history = 50
grabber = "debug"

[logging.modules]
api = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" || cfg.History != 50 {
		t.Errorf("got level=%q format=%q history=%d", cfg.Level, cfg.Format, cfg.History)
	}
	want := map[string]string{"grabber": "debug", "api": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadCaptureConfig(t *testing.T) {
	base := grabber.DefaultConfig("/dev/video0", 640, 480)
	path := writeFile(t, `
[capture]
device = "/dev/video3"
height = 720
width = 1280
fps = 30
buffers = 6
poll_timeout = "50ms"
`)

	cfg, err := LoadCaptureConfig(path, base)
	if err != nil {
		t.Fatalf("LoadCaptureConfig: %v", err)
	}
	want := base
	want.DevicePath = "/dev/video3"
	want.Width, want.Height = 1280, 720
	want.FrameRate = 30
	want.BufferCount = 6
	want.PollTimeout = 50 * time.Millisecond
	if cfg != want {
		t.Errorf("got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadCaptureConfigPollTimeout(t *testing.T) {
	base := grabber.DefaultConfig("/dev/video0", 640, 480)
	tests := map[string]struct {
		body string
		want time.Duration
	}{
		"milliseconds": {"[capture]\npoll_timeout = 25\n", 25 * time.Millisecond},
		"string":       {"[capture]\npoll_timeout = \"15ms\"\n", 15 * time.Millisecond},
		"absent":       {"[capture]\nwidth = 640\n", base.PollTimeout},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadCaptureConfig(writeFile(t, tt.body), base)
			if err != nil {
				t.Fatalf("LoadCaptureConfig: %v", err)
			}
			if cfg.PollTimeout != tt.want {
				t.Errorf("PollTimeout = %s, want %s", cfg.PollTimeout, tt.want)
			}
		})
	}
}

func TestLoadCaptureConfigKeepsBaseOnError(t *testing.T) {
	base := grabber.DefaultConfig("/dev/video0", 640, 480)
	tests := map[string]string{
		"too few buffers": "[capture]\nbuffers = 1\n",
		"bad duration":    "[capture]\npoll_timeout = \"10\"\n",
		"float duration":  "[capture]\npoll_timeout = 2.5\n",
		"invalid toml":    "[capture",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadCaptureConfig(writeFile(t, body), base)
			if err == nil {
				t.Fatal("expected error")
			}
			if cfg != base {
				t.Errorf("got %+v, want base config", cfg)
			}
		})
	}
}
