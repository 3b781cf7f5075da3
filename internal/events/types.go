package events

// Event type identifiers.
const (
	TypeStateChanged uint32 = iota + 1
	TypeFormatNegotiated
	TypeCaptureError
	TypeFrameStats
	TypeDeviceHotplug
	TypeLogEntry
)

// Event is implemented by every value published on the bus.
type Event interface {
	Type() uint32
}

// StateChangedEvent reports a capture engine state transition.
type StateChangedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Capture device"`
	SessionID  string `json:"session_id" doc:"Capture session identifier"`
	From       string `json:"from" example:"configured" doc:"Previous state"`
	To         string `json:"to" example:"streaming" doc:"New state"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// AdvisoryResult is the outcome of one optional device setting.
type AdvisoryResult struct {
	Name    string `json:"name" example:"frame_rate" doc:"Setting name"`
	Applied bool   `json:"applied" doc:"Whether the driver accepted the setting"`
	Detail  string `json:"detail,omitempty" doc:"What was requested or set"`
	Error   string `json:"error,omitempty" doc:"Driver error when not applied"`
}

// FormatNegotiatedEvent is published after a successful Init.
type FormatNegotiatedEvent struct {
	DevicePath   string           `json:"device_path" example:"/dev/video0" doc:"Capture device"`
	SessionID    string           `json:"session_id" doc:"Capture session identifier"`
	Width        int              `json:"width" example:"640" doc:"Negotiated width"`
	Height       int              `json:"height" example:"480" doc:"Negotiated height"`
	BytesPerLine int              `json:"bytes_per_line" example:"1280" doc:"Driver row stride"`
	SizeImage    int              `json:"size_image" example:"614400" doc:"Driver image size"`
	Buffers      int              `json:"buffers" example:"5" doc:"Granted buffer count"`
	Advisories   []AdvisoryResult `json:"advisories" doc:"Optional settings"`
	Timestamp    string           `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e FormatNegotiatedEvent) Type() uint32 { return TypeFormatNegotiated }

// CaptureErrorEvent reports a non-recoverable capture failure.
type CaptureErrorEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Capture device"`
	SessionID  string `json:"session_id" doc:"Capture session identifier"`
	Kind       string `json:"kind" example:"IO_ERROR" doc:"Failure kind"`
	Step       string `json:"step" example:"dequeue" doc:"Failing step"`
	Error      string `json:"error" doc:"Error message"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// FrameStatsEvent is a periodic summary of the capture loop.
type FrameStatsEvent struct {
	DevicePath string           `json:"device_path" example:"/dev/video0" doc:"Capture device"`
	SessionID  string           `json:"session_id" doc:"Capture session identifier"`
	Frames     uint64           `json:"frames" example:"1500" doc:"Frames grabbed this session"`
	FPS        float64          `json:"fps" example:"29.97" doc:"Frames per second over the last interval"`
	Failures   map[string]int64 `json:"failures,omitempty" doc:"Grab failures by kind this session"`
	Timestamp  string           `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e FrameStatsEvent) Type() uint32 { return TypeFrameStats }

// DeviceHotplugEvent reports a capture device node appearing or vanishing.
type DeviceHotplugEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	Action     string `json:"action" example:"add" doc:"Kernel action: add or remove"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type implements Event.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// LogEntryEvent carries one log record to SSE clients.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"grabber" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type implements Event.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
