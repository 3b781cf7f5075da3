package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		Long:  `Lists the V4L2 nodes under /sys/class/video4linux that can capture video, with their card name and stable identifier.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			found, err := v4l2.FindDevices()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			printDevices(cmd.OutOrStdout(), found)
		},
	}
}

func printDevices(out io.Writer, found []v4l2.DeviceInfo) {
	if len(found) == 0 {
		fmt.Fprintln(out, "No video capture devices found")
		return
	}
	sort.Slice(found, func(i, j int) bool { return found[i].DevicePath < found[j].DevicePath })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tID\tSTREAMING")
	for _, d := range found {
		streaming := "no"
		if d.Caps&v4l2.CapStreaming != 0 {
			streaming = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.DeviceID, streaming)
	}
	tw.Flush()
}
