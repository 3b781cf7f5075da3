package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/framegrab/internal/events"
)

// captureEventTypes maps SSE event names to payloads.
var captureEventTypes = map[string]any{
	"state-changed":     events.StateChangedEvent{},
	"format-negotiated": events.FormatNegotiatedEvent{},
	"capture-error":     events.CaptureErrorEvent{},
	"frame-stats":       events.FrameStatsEvent{},
	"device-hotplug":    events.DeviceHotplugEvent{},
}

// registerSSERoutes registers the capture event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Capture Events",
		Description: "Engine state changes, negotiated formats, capture errors, frame statistics and device hotplug",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, captureEventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.eventBus == nil {
			return
		}
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FormatNegotiatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CaptureErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameStatsEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceHotplugEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Late subscribers start from the current state
		if s.capture != nil {
			st := s.capture.Status()
			if err := send.Data(events.StateChangedEvent{
				DevicePath: st.Device,
				SessionID:  st.SessionID,
				To:         st.State,
				Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
