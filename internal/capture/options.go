package capture

import (
	"log/slog"
	"time"

	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/internal/preview"
	"github.com/smazurov/framegrab/pkg/linuxav/hotplug"
)

// Defaults applied by NewRunner for zero Options fields.
const (
	DefaultTick              = 33 * time.Millisecond
	DefaultStatsInterval     = 5 * time.Second
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
)

// Options configures a Runner.
type Options struct {
	// Config is the initial capture request.
	Config grabber.Config
	// Tick is the render interval; one GrabFrame is attempted per tick.
	Tick time.Duration
	// TolerateIOErrors keeps the engine running when a dequeue reports EIO.
	// When false an I/O error closes the engine and triggers a reconnect.
	TolerateIOErrors bool
	// Hotplug closes the engine when its node is removed and reconnects as
	// soon as it is added again.
	Hotplug bool
	// UEvents, when set, is read instead of opening a netlink monitor.
	// Hotplug is ignored in that case.
	UEvents <-chan hotplug.Event

	StatsInterval     time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	Bus    *events.Bus
	Latest *preview.Latest
	Logger *slog.Logger
	// Opener replaces the kernel device opener, mainly for tests.
	Opener grabber.Opener
}

func (o *Options) applyDefaults() {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultStatsInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = max(DefaultMaxReconnectDelay, o.ReconnectDelay)
	}
	if o.Latest == nil {
		o.Latest = &preview.Latest{}
	}
}
