package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boardLEDs maps a device-tree model substring to its status LED.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "sys_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
}

// New returns a controller for name, or for the detected board's status LED
// when name is empty. Unknown boards get a no-op controller.
func New(logger *slog.Logger, name string) Controller {
	if name != "" {
		logger.Info("Using configured status LED", "led", name)
		return newSysfs(sysfsLEDPath, name)
	}

	model := detectBoard(deviceTreeModelPath)
	if led := ledForModel(model); led != "" {
		logger.Info("Detected board status LED", "board_model", model, "led", led)
		return newSysfs(sysfsLEDPath, led)
	}

	logger.Info("No status LED detected, using no-op controller", "board_model", model)
	return &noop{logger: logger}
}

func ledForModel(model string) string {
	for _, b := range boardLEDs {
		if strings.Contains(model, b.model) {
			return b.led
		}
	}
	return ""
}

// detectBoard reads the device tree model, which is NUL terminated.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
