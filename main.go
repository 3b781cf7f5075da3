package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/framegrab/cmd"
	"github.com/smazurov/framegrab/internal/api"
	"github.com/smazurov/framegrab/internal/capture"
	"github.com/smazurov/framegrab/internal/config"
	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/internal/led"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	CaptureDevice           string        `help:"V4L2 capture device" short:"d" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureWidth            int           `help:"Requested frame width" default:"640" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight           int           `help:"Requested frame height" default:"480" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CaptureFrameRate        int           `help:"Requested frame rate" default:"30" toml:"capture.fps" env:"CAPTURE_FPS"`
	CaptureFiftyHz          bool          `help:"Set power line frequency filter to 50 Hz instead of off" default:"false" toml:"capture.power_line_50hz" env:"CAPTURE_POWER_LINE_50HZ"`
	CaptureBuffers          int           `help:"Driver buffers to request" default:"5" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	CapturePollTimeout      time.Duration `help:"Wait for a filled buffer per grab" default:"10ms" toml:"capture.poll_timeout" env:"CAPTURE_POLL_TIMEOUT"`
	CaptureTick             time.Duration `help:"Grab interval" default:"33ms" toml:"capture.tick" env:"CAPTURE_TICK"`
	CaptureTolerateIOErrors bool          `help:"Treat driver I/O errors as a dropped frame" default:"false" toml:"capture.tolerate_io_errors" env:"CAPTURE_TOLERATE_IO_ERRORS"`
	CaptureHotplug          bool          `help:"Follow device add and remove uevents" default:"true" toml:"capture.hotplug" env:"CAPTURE_HOTPLUG"`

	// Auth settings, both required to enable basic auth
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Feature flags
	FeaturesStatusLED bool   `help:"Show capture state on the board status LED" default:"false" toml:"features.status_led" env:"FEATURES_STATUS_LED"`
	FeaturesLEDName   string `help:"sysfs LED name, detected from the board model when empty" default:"" toml:"features.led_name" env:"FEATURES_LED_NAME"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingGrabber string `help:"Capture engine logging level" default:"info" toml:"logging.grabber" env:"LOGGING_GRABBER"`
	LoggingCapture string `help:"Capture loop logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP access logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingLED     string `help:"Status LED logging level" default:"info" toml:"logging.led" env:"LOGGING_LED"`
}

// reloadable is what a config file change can alter at runtime.
type reloadable struct {
	Capture grabber.Config
	Logging logging.Config
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"grabber": o.LoggingGrabber,
			"capture": o.LoggingCapture,
			"api":     o.LoggingAPI,
			"http":    o.LoggingHTTP,
			"config":  o.LoggingConfig,
			"led":     o.LoggingLED,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		captureConfig := grabber.Config{
			DevicePath:    opts.CaptureDevice,
			Width:         opts.CaptureWidth,
			Height:        opts.CaptureHeight,
			FrameRate:     opts.CaptureFrameRate,
			PowerLine50Hz: opts.CaptureFiftyHz,
			BufferCount:   opts.CaptureBuffers,
			PollTimeout:   opts.CapturePollTimeout,
		}
		if err := captureConfig.Validate(); err != nil {
			logger.Error("Invalid capture configuration", "error", err)
			os.Exit(1)
		}

		eventBus := events.New()

		// Mirror every log entry onto the bus for the log stream
		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq.Add(1),
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		runner := capture.NewRunner(capture.Options{
			Config:           captureConfig,
			Tick:             opts.CaptureTick,
			TolerateIOErrors: opts.CaptureTolerateIOErrors,
			Hotplug:          opts.CaptureHotplug,
			Bus:              eventBus,
		})

		var ledManager *led.Manager
		if opts.FeaturesStatusLED {
			ledLogger := logging.GetLogger("led")
			ledManager = led.NewManager(led.New(ledLogger, opts.FeaturesLEDName), eventBus, ledLogger)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Capture:           runner,
			EventBus:          eventBus,
			PrometheusHandler: promhttp.Handler(),
		})

		// File changes re-apply the [capture] and [logging] tables on top of
		// the startup settings
		loggingBase := opts.loggingConfig()
		watcher := config.NewConfigWatcher(
			opts.Config,
			func(path string) (reloadable, error) {
				next, err := config.LoadCaptureConfig(path, captureConfig)
				if err != nil {
					return reloadable{}, err
				}
				return reloadable{Capture: next, Logging: config.LoadLoggingConfig(path)}, nil
			},
			logging.GetLogger("config"),
		)
		watcher.OnReload(func(r reloadable) {
			modules := maps.Clone(loggingBase.Modules)
			maps.Copy(modules, r.Logging.Modules)
			logging.SetLevels(r.Logging.Level, modules)
			runner.Reconfigure(r.Capture)
		})

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup

		hooks.OnStart(func() {
			logger.Info("Starting framegrab",
				"version", version.String(),
				"device", captureConfig.DevicePath,
				"width", captureConfig.Width,
				"height", captureConfig.Height)

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Config file watching disabled", "path", opts.Config, "error", startErr)
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				defer signal.Stop(hup)
				for {
					select {
					case <-hup:
						logger.Info("SIGHUP received, reloading config", "path", opts.Config)
						watcher.Reload()
					case <-ctx.Done():
						return
					}
				}
			}()

			if ledManager != nil {
				ledManager.Start()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if runErr := runner.Run(ctx); runErr != nil {
					logger.Error("Capture loop failed", "error", runErr)
				}
			}()

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyStopping); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}

			// Release the device before exit
			cancel()
			wg.Wait()
			if ledManager != nil {
				ledManager.Stop()
			}
		})
	})

	cli.Root().Use = "framegrab"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(
		cmd.CreateDevicesCmd(),
		cmd.CreateFormatsCmd(),
		cmd.CreateGrabCmd(),
	)

	cli.Run()
}
