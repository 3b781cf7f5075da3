package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// CreateFormatsCmd creates the formats command.
func CreateFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats <device>",
		Short: "List formats, frame sizes and frame rates of a device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := listFormats(cmd.OutOrStdout(), args[0]); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
		},
	}
}

func listFormats(out io.Writer, devicePath string) error {
	dev, err := v4l2.Open(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	formats, err := dev.Formats()
	if err != nil {
		return err
	}
	if len(formats) == 0 {
		fmt.Fprintf(out, "%s offers no capture formats\n", devicePath)
		return nil
	}

	for _, f := range formats {
		fmt.Fprintf(out, "%s  %s", v4l2.FormatFourCC(f.PixelFormat), f.FormatName)
		if f.Emulated {
			fmt.Fprint(out, " (emulated)")
		}
		if f.PixelFormat == v4l2.PixFmtYUYV {
			fmt.Fprint(out, " [grab]")
		}
		fmt.Fprintln(out)

		resolutions, err := dev.Resolutions(f.PixelFormat)
		if err != nil {
			return err
		}
		for _, r := range resolutions {
			// Interval enumeration is optional for drivers
			rates, _ := dev.Framerates(f.PixelFormat, r.Width, r.Height)
			fmt.Fprintf(out, "    %dx%d%s\n", r.Width, r.Height, formatRates(rates))
		}
	}
	return nil
}

// formatRates renders intervals as " @ 30, 15, 7.5 fps".
func formatRates(rates []v4l2.Framerate) string {
	if len(rates) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rates))
	for _, r := range rates {
		parts = append(parts, strconv.FormatFloat(r.FPS(), 'f', -1, 64))
	}
	return " @ " + strings.Join(parts, ", ") + " fps"
}
