package models

import (
	"github.com/smazurov/framegrab/internal/capture"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionResponse struct {
	Body version.Info
}

// Capture models
type CaptureStatusResponse struct {
	Body capture.Status
}

type FrameResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Sequence     string `header:"X-Frame-Sequence"`
	Captured     string `header:"X-Frame-Captured"`
	Body         []byte
}

// Device models
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName   string   `json:"device_name" example:"USB Video" doc:"Card name reported by the driver"`
	DeviceID     string   `json:"device_id" example:"usb-046d_0825-video-index0" doc:"Stable device identifier"`
	Capabilities []string `json:"capabilities" doc:"Decoded capability flags"`
}

type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Video capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DevicesResponse struct {
	Body DeviceData
}

type ResolutionInfo struct {
	Width  uint32    `json:"width" example:"640" doc:"Width in pixels"`
	Height uint32    `json:"height" example:"480" doc:"Height in pixels"`
	FPS    []float64 `json:"fps,omitempty" doc:"Frame rates offered at this size"`
}

type FormatInfo struct {
	FourCC      string           `json:"fourcc" example:"YUYV" doc:"Pixel format code"`
	PixelFormat uint32           `json:"pixel_format" example:"1448695129" doc:"Numeric V4L2 pixel format"`
	Name        string           `json:"name" example:"YUYV 4:2:2" doc:"Driver description"`
	Emulated    bool             `json:"emulated" doc:"Format is converted in software by libv4l"`
	Resolutions []ResolutionInfo `json:"resolutions" doc:"Supported frame sizes"`
}

type DeviceFormatsData struct {
	DevicePath string       `json:"device_path" example:"/dev/video0" doc:"Device node"`
	Formats    []FormatInfo `json:"formats" doc:"Supported pixel formats"`
}

type DeviceFormatsResponse struct {
	Body DeviceFormatsData
}

// Log models
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Most recent log entries, oldest first"`
	Count   int                `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
