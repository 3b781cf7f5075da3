package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/preview"
)

// GrabOptions configures one grab run.
type GrabOptions struct {
	Config           grabber.Config
	Attempts         int
	Tick             time.Duration
	TolerateIOErrors bool
	// Output, when set, receives the luma plane of the last frame as PNG.
	Output string
}

// GrabSummary counts attempt outcomes.
type GrabSummary struct {
	Attempts int
	Frames   int
	Failures map[grabber.Kind]int
}

func (s GrabSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d attempts, %d frames", s.Attempts, s.Frames)

	kinds := make([]grabber.Kind, 0, len(s.Failures))
	for k := range s.Failures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(&b, ", %d %s", s.Failures[k], k)
	}
	return b.String()
}

// CreateGrabCmd creates the grab command.
func CreateGrabCmd() *cobra.Command {
	var opts GrabOptions
	var width, height, fps, buffers int
	var fiftyHz, logJSON bool

	cmd := &cobra.Command{
		Use:   "grab <device>",
		Short: "Grab frames from a device and report each attempt",
		Long: `Initialises the capture engine, starts streaming, makes a fixed number of grab attempts ` +
			`at the tick interval and prints the outcome of each, then stops and releases the device. ` +
			`Exits with status 1 on any fatal error.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			opts.Config.DevicePath = args[0]
			opts.Config.Width = width
			opts.Config.Height = height
			opts.Config.FrameRate = fps
			opts.Config.BufferCount = buffers
			opts.Config.PowerLine50Hz = fiftyHz

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := RunGrab(ctx, cmd.OutOrStdout(), opts); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				stop()
				os.Exit(1)
			}
		},
	}

	defaults := grabber.DefaultConfig("", 640, 480)
	cmd.Flags().IntVar(&width, "width", defaults.Width, "Requested frame width")
	cmd.Flags().IntVar(&height, "height", defaults.Height, "Requested frame height")
	cmd.Flags().IntVar(&fps, "fps", defaults.FrameRate, "Requested frame rate")
	cmd.Flags().IntVar(&buffers, "buffers", defaults.BufferCount, "Driver buffers to request")
	cmd.Flags().BoolVar(&fiftyHz, "power-line-50hz", false, "Set power line frequency filter to 50 Hz instead of off")
	cmd.Flags().DurationVar(&opts.Config.PollTimeout, "poll-timeout", defaults.PollTimeout, "Wait for a filled buffer per attempt")
	cmd.Flags().IntVarP(&opts.Attempts, "count", "n", 30, "Grab attempts")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 33*time.Millisecond, "Interval between attempts")
	cmd.Flags().BoolVar(&opts.TolerateIOErrors, "tolerate-io-errors", false, "Treat driver I/O errors as a dropped frame")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Write the last frame's luma plane to this PNG file")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	return cmd
}

// RunGrab runs Init, StartCapturing, opts.Attempts GrabFrame calls and
// StopCapturing plus Uninit, printing one line per attempt to out. It stops
// at the first error that is neither recoverable nor a tolerated I/O error.
func RunGrab(ctx context.Context, out io.Writer, opts GrabOptions, engineOpts ...grabber.Option) (GrabSummary, error) {
	summary := GrabSummary{Failures: make(map[grabber.Kind]int)}
	if opts.Attempts <= 0 {
		return summary, errors.New("attempt count must be positive")
	}

	eng := grabber.New(opts.Config, engineOpts...)
	defer eng.Close()

	if err := eng.Init(); err != nil {
		return summary, err
	}
	f := eng.Format()
	fmt.Fprintf(out, "%s: %dx%d, %d bytes per line, %d buffers\n",
		opts.Config.DevicePath, f.Width, f.Height, f.BytesPerLine, eng.PoolSize())
	for _, a := range eng.Advisories() {
		if a.Applied {
			fmt.Fprintf(out, "  %s: %s\n", a.Name, a.Detail)
		} else {
			fmt.Fprintf(out, "  %s: not applied: %v\n", a.Name, a.Err)
		}
	}

	if err := eng.StartCapturing(); err != nil {
		return summary, err
	}

	frame := make([]byte, eng.FrameSize())
	var got bool
	ticker := time.NewTicker(opts.Tick)
	defer ticker.Stop()

attempts:
	for i := 1; i <= opts.Attempts; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				break attempts
			case <-ticker.C:
			}
		}

		summary.Attempts++
		start := time.Now()
		err := eng.GrabFrame(frame)
		if err == nil {
			summary.Frames++
			got = true
			fmt.Fprintf(out, "attempt %d: frame %d bytes in %s\n", i, len(frame), time.Since(start).Round(time.Microsecond))
			continue
		}

		kind := grabber.KindOf(err)
		summary.Failures[kind]++
		fmt.Fprintf(out, "attempt %d: %s\n", i, kind)
		if kind.Recoverable() || (kind == grabber.KindIOError && opts.TolerateIOErrors) {
			continue
		}
		fmt.Fprintln(out, summary)
		return summary, err
	}

	if err := eng.StopCapturing(); err != nil {
		return summary, err
	}
	if err := eng.Uninit(); err != nil {
		return summary, err
	}
	fmt.Fprintln(out, summary)

	if opts.Output == "" {
		return summary, nil
	}
	if !got {
		return summary, fmt.Errorf("no frame captured, %s not written", opts.Output)
	}
	data, err := preview.EncodePNG(frame, f.Width, f.Height)
	if err != nil {
		return summary, err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return summary, err
	}
	fmt.Fprintf(out, "wrote %s\n", opts.Output)
	return summary, nil
}
