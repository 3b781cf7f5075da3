package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/framegrab/internal/events"
)

// Manager follows capture state changes on the event bus: solid while
// streaming, blinking while configured or stopped, off when closed.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	logger      *slog.Logger
	unsubscribe func()

	mu      sync.Mutex
	current Pattern
	set     bool
}

// NewManager creates a manager for controller.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start turns the LED off and subscribes to state changes.
func (m *Manager) Start() {
	m.apply(Off)
	m.unsubscribe = m.eventBus.Subscribe(func(e events.StateChangedEvent) {
		m.apply(patternFor(e.To))
	})
	m.logger.Info("LED manager started", "led", m.controller.Name())
}

// Stop unsubscribes and turns the LED off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.apply(Off)
	m.logger.Info("LED manager stopped")
}

// Pattern is the last pattern written.
func (m *Manager) Pattern() Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func patternFor(state string) Pattern {
	switch state {
	case "streaming":
		return Solid
	case "closed":
		return Off
	default:
		return Blink
	}
}

func (m *Manager) apply(p Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.set && m.current == p {
		return
	}
	if err := m.controller.Set(p); err != nil {
		m.logger.Warn("Failed to set status LED", "pattern", p, "error", err)
		return
	}
	m.current = p
	m.set = true
	m.logger.Debug("Status LED updated", "pattern", p)
}
