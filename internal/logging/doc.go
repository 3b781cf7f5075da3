// Package logging provides module-scoped slog loggers.
//
// Each module gets a cached logger carrying a module attribute and its own
// level:
//
//	logger := logging.GetLogger("grabber").With("device", "/dev/video0")
//	logger.Info("Capture device initialized", "width", 640, "height", 480)
//
// Records go to stdout (text or json) when it is attached, to the systemd
// journal when available, and to an in-memory history served at /api/logs.
// Levels come from the [logging] config section and can be changed at runtime
// with SetLevels:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	grabber = "debug"
//	api = "warn"
//
// Journal entries are tagged framegrab:
//
//	journalctl -t framegrab DEVICE=/dev/video0
package logging
