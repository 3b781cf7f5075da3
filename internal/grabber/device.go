package grabber

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// Device is the slice of the V4L2 streaming protocol the engine drives.
// *v4l2.Device satisfies it; tests substitute a scripted fake.
type Device interface {
	Capability() (v4l2.Capability, error)
	ResetCrop() error
	SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error)
	SetFrameInterval(interval v4l2.Framerate) (v4l2.Framerate, error)
	SetControl(id uint32, value int32) error
	RequestBuffers(count uint32) (uint32, error)
	QueryBuffer(index uint32) (v4l2.Buffer, error)
	Map(offset, length uint32) ([]byte, error)
	Unmap(mem []byte) error
	QueueBuffer(index uint32) error
	DequeueBuffer() (v4l2.Buffer, error)
	StreamOn() error
	StreamOff() error
	WaitReadable(timeout time.Duration) (bool, error)
	Close() error
}

// Opener opens the device node at path.
type Opener func(path string) (Device, error)

// OpenV4L2 is the default Opener backed by the kernel.
func OpenV4L2(path string) (Device, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// NegotiatedFormat is the geometry the driver agreed to. Width and Height
// replace the requested values for every size computation.
type NegotiatedFormat struct {
	Width        int
	Height       int
	PixelFormat  uint32
	BytesPerLine int
	SizeImage    int
}

// FrameSize is the number of bytes GrabFrame writes: Width*Height*2.
func (f NegotiatedFormat) FrameSize() int {
	return f.Width * f.Height * BytesPerPixel
}

// minStride is the tightly packed row length.
func (f NegotiatedFormat) minStride() int {
	return f.Width * BytesPerPixel
}

// Advisory records the outcome of an optional device setting.
type Advisory struct {
	Name    string
	Applied bool
	Detail  string
	Err     error
}

// Advisory setting names.
const (
	AdvisoryCropReset          = "crop_reset"
	AdvisoryFrameRate          = "frame_rate"
	AdvisoryPowerLineFrequency = "power_line_frequency"
)

// openDevice maps Opener failures onto the error taxonomy.
func openDevice(open Opener, path string) (Device, error) {
	dev, err := open(path)
	if err == nil {
		return dev, nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, newError(KindNotFound, path, "open device", err)
	case errors.Is(err, v4l2.ErrNotCharDevice):
		return nil, newError(KindWrongKind, path, "open device", err)
	default:
		return nil, newError(KindDeviceFailure, path, "open device", err)
	}
}

// negotiateFormat checks capabilities, resets cropping and sets the YUYV
// capture format. Cropping failures are reported as an advisory.
func negotiateFormat(dev Device, path string, width, height int) (NegotiatedFormat, Advisory, error) {
	caps, err := dev.Capability()
	if err != nil {
		if v4l2.IsNotSupported(err) {
			return NegotiatedFormat{}, Advisory{}, newError(KindUnsupported, path, "query capabilities", fmt.Errorf("not a V4L2 device: %w", err))
		}
		return NegotiatedFormat{}, Advisory{}, newError(KindDeviceFailure, path, "query capabilities", err)
	}
	if !caps.Has(v4l2.CapVideoCapture) {
		return NegotiatedFormat{}, Advisory{}, newError(KindUnsupported, path, "query capabilities", errors.New("not a video capture device"))
	}
	if !caps.Has(v4l2.CapStreaming) {
		return NegotiatedFormat{}, Advisory{}, newError(KindUnsupported, path, "query capabilities", errors.New("streaming i/o not supported"))
	}

	crop := Advisory{Name: AdvisoryCropReset, Applied: true, Detail: "default rectangle"}
	if cropErr := dev.ResetCrop(); cropErr != nil {
		crop = Advisory{Name: AdvisoryCropReset, Err: cropErr}
		if v4l2.IsNotSupported(cropErr) {
			crop.Detail = "cropping not supported"
		}
	}

	pf, err := dev.SetFormat(v4l2.PixFormat{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: v4l2.PixFmtYUYV,
		Field:       v4l2.FieldInterlaced,
	})
	if err != nil {
		return NegotiatedFormat{}, crop, newError(KindDeviceFailure, path, "set format", err)
	}
	if pf.PixelFormat != v4l2.PixFmtYUYV {
		return NegotiatedFormat{}, crop, newError(KindUnsupported, path, "set format",
			fmt.Errorf("driver substituted pixel format %q", v4l2.FormatFourCC(pf.PixelFormat)))
	}
	if pf.Width == 0 || pf.Height == 0 {
		return NegotiatedFormat{}, crop, newError(KindDeviceFailure, path, "set format",
			fmt.Errorf("driver returned empty geometry %dx%d", pf.Width, pf.Height))
	}

	return correctFormat(pf), crop, nil
}

// correctFormat applies the buggy-driver minimums: at least width*2 bytes per
// line and bytesperline*height bytes per image.
func correctFormat(pf v4l2.PixFormat) NegotiatedFormat {
	nf := NegotiatedFormat{
		Width:        int(pf.Width),
		Height:       int(pf.Height),
		PixelFormat:  pf.PixelFormat,
		BytesPerLine: int(pf.BytesPerLine),
		SizeImage:    int(pf.SizeImage),
	}
	if minLine := nf.minStride(); nf.BytesPerLine < minLine {
		nf.BytesPerLine = minLine
	}
	if minImage := nf.BytesPerLine * nf.Height; nf.SizeImage < minImage {
		nf.SizeImage = minImage
	}
	return nf
}

// applyAdvisory sets frame interval and power line frequency. Neither is
// fatal; the outcome of each is returned for observability.
func applyAdvisory(dev Device, cfg Config) []Advisory {
	rate := Advisory{Name: AdvisoryFrameRate}
	requested := v4l2.Framerate{Numerator: 1, Denominator: uint32(cfg.FrameRate)}
	if got, err := dev.SetFrameInterval(requested); err != nil {
		rate.Err = err
		rate.Detail = fmt.Sprintf("requested %d fps", cfg.FrameRate)
	} else {
		rate.Applied = true
		rate.Detail = fmt.Sprintf("requested %d fps, driver set %d/%d s (%.2f fps)",
			cfg.FrameRate, got.Numerator, got.Denominator, got.FPS())
	}

	power := Advisory{Name: AdvisoryPowerLineFrequency}
	value := v4l2.PowerLineFrequencyDisabled
	power.Detail = "disabled"
	if cfg.PowerLine50Hz {
		value = v4l2.PowerLineFrequency50Hz
		power.Detail = "50Hz"
	}
	if err := dev.SetControl(v4l2.CIDPowerLineFrequency, value); err != nil {
		power.Err = err
	} else {
		power.Applied = true
	}

	return []Advisory{rate, power}
}
