//go:build linux

package v4l2

import "errors"

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a frame interval as a fraction of a second
// (Numerator/Denominator seconds per frame).
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Capability is the result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	// Caps holds the effective capabilities of the opened node: device_caps
	// when the driver reports them, otherwise the physical device caps.
	Caps uint32
}

// Has reports whether all bits of flag are set in the effective capabilities.
func (c Capability) Has(flag uint32) bool {
	return c.Caps&flag == flag
}

// PixFormat is the single-planar image format exchanged with VIDIOC_S_FMT.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Buffer describes one driver buffer as reported by QUERYBUF or DQBUF.
type Buffer struct {
	Index     uint32
	Offset    uint32
	Length    uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
}

// ErrNotCharDevice is returned by Open when the path exists but is not a
// character special file.
var ErrNotCharDevice = errors.New("not a character device")

// Capability flags.
const (
	CapVideoCapture uint32 = 0x00000001
	CapStreaming    uint32 = 0x04000000
	CapDeviceCaps   uint32 = 0x80000000
)

// Format flags.
const (
	FmtFlagEmulated = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  uint32 = 0x56595559 // 'YUYV'
	PixFmtMJPEG uint32 = 0x47504A4D // 'MJPG'
	PixFmtH264  uint32 = 0x34363248 // 'H264'
	PixFmtHEVC  uint32 = 0x43564548 // 'HEVC'
	PixFmtNV12  uint32 = 0x3231564E // 'NV12'
)

// Field orders.
const (
	FieldAny        uint32 = 0
	FieldNone       uint32 = 1
	FieldInterlaced uint32 = 4
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

// Buffer type and memory model.
const (
	bufTypeVideoCapture uint32 = 1
	memoryMmap          uint32 = 1
)

// Control IDs.
const (
	CIDPowerLineFrequency uint32 = 0x00980918 // V4L2_CID_BASE + 24
)

// Power line frequency control values.
const (
	PowerLineFrequencyDisabled int32 = 0
	PowerLineFrequency50Hz     int32 = 1
	PowerLineFrequency60Hz     int32 = 2
)
