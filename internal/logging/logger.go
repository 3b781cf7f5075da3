package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DefaultHistory is the number of log entries kept for /api/logs.
const DefaultHistory = 1000

// Config selects the output format and per-module levels.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
	// History is the ring buffer capacity; 0 uses DefaultHistory.
	History int `toml:"history"`
}

type registry struct {
	mu       sync.RWMutex
	config   Config
	ready    bool
	loggers  map[string]*slog.Logger
	levels   map[string]*slog.LevelVar
	global   slog.LevelVar
	history  *RingBuffer
	callback LogCallback
}

var std = &registry{
	loggers: make(map[string]*slog.Logger),
	levels:  make(map[string]*slog.LevelVar),
}

// Initialize installs the handler chain and module levels. Loggers handed
// out earlier are rebuilt so they pick up the journal and history handlers.
func Initialize(config Config) {
	std.mu.Lock()
	defer std.mu.Unlock()

	size := config.History
	if size <= 0 {
		size = DefaultHistory
	}
	std.config = config
	std.ready = true
	std.history = NewRingBuffer(size)
	std.global.Set(levelOr(config.Level, slog.LevelInfo))

	for module, lv := range std.levels {
		lv.Set(std.moduleLevel(module))
		std.loggers[module] = slog.New(newHandler(config.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(config.Format, &std.global)))
}

// SetLevels changes global and module levels in place. Existing loggers keep
// their handlers; only their thresholds move.
func SetLevels(level string, modules map[string]string) {
	std.mu.Lock()
	defer std.mu.Unlock()

	std.config.Level = level
	std.config.Modules = modules
	std.global.Set(levelOr(level, slog.LevelInfo))
	for module, lv := range std.levels {
		lv.Set(std.moduleLevel(module))
	}
}

// GetBuffer returns the log history, or nil before Initialize.
func GetBuffer() *RingBuffer {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.history
}

// SetLogCallback registers a function called for every recorded entry.
func SetLogCallback(callback LogCallback) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.callback = callback
}

// GetLogger returns the cached logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	std.mu.RLock()
	logger, ok := std.loggers[module]
	std.mu.RUnlock()
	if ok {
		return logger
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if logger, ok := std.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(std.moduleLevel(module))

	format := "text"
	if std.ready {
		format = std.config.Format
	}
	logger = slog.New(newHandler(format, lv)).With("module", module)
	std.loggers[module] = logger
	std.levels[module] = lv
	return logger
}

// moduleLevel resolves the level for module. Callers hold mu.
func (r *registry) moduleLevel(module string) slog.Level {
	if !r.ready {
		return slog.LevelInfo
	}
	base := levelOr(r.config.Level, slog.LevelInfo)
	if s, ok := r.config.Modules[module]; ok {
		return levelOr(s, base)
	}
	return base
}

// newHandler builds the output chain: stdout when attached, the journal when
// running under systemd, and always the history buffer.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutAttached reports whether stdout goes somewhere other than /dev/null.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := ParseLevel(s); ok {
		return l
	}
	return fallback
}

// reset clears the registry. Tests only.
func reset() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.config = Config{}
	std.ready = false
	std.loggers = make(map[string]*slog.Logger)
	std.levels = make(map[string]*slog.LevelVar)
	std.history = nil
	std.callback = nil
}
