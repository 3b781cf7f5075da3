//go:build linux

package v4l2

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 device node.
type Device struct {
	path string
	fd   int
}

// Open verifies that path names a character special file and opens it
// read-write and non-blocking.
//
// A missing path yields an error matching fs.ErrNotExist; a path that is not
// a character device yields ErrNotCharDevice.
func Open(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("cannot identify %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCharDevice)
	}

	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the device path the handle was opened with.
func (d *Device) Path() string {
	return d.path
}

// Close releases the file descriptor.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := closeFd(d.fd)
	d.fd = -1
	return err
}

// Capability queries the device capabilities.
func (d *Device) Capability() (Capability, error) {
	c := v4l2Capability{}
	if err := ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}

	caps := c.capabilities
	if caps&CapDeviceCaps != 0 {
		caps = c.deviceCaps
	}

	return Capability{
		Driver:  cstr(c.driver[:]),
		Card:    cstr(c.card[:]),
		BusInfo: cstr(c.busInfo[:]),
		Version: c.version,
		Caps:    caps,
	}, nil
}

// ResetCrop resets the capture crop rectangle to the driver default.
// Drivers without cropping support return EINVAL or ENOTTY.
func (d *Device) ResetCrop() error {
	cc := v4l2Cropcap{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocCropcap, unsafe.Pointer(&cc)); err != nil {
		return fmt.Errorf("VIDIOC_CROPCAP: %w", err)
	}

	crop := v4l2Crop{typ: bufTypeVideoCapture, c: cc.defrect}
	if err := ioctl(d.fd, vidiocSCrop, unsafe.Pointer(&crop)); err != nil {
		return fmt.Errorf("VIDIOC_S_CROP: %w", err)
	}
	return nil
}

// SetFormat requests a capture format. The driver may adjust any field;
// the returned PixFormat is what it actually applied.
func (d *Device) SetFormat(pf PixFormat) (PixFormat, error) {
	f := v4l2Format{
		typ: bufTypeVideoCapture,
		pix: v4l2PixFormat{
			width:       pf.Width,
			height:      pf.Height,
			pixelformat: pf.PixelFormat,
			field:       pf.Field,
		},
	}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}

	return PixFormat{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		Field:        f.pix.field,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

// SetFrameInterval requests a time per frame and returns the interval the
// driver settled on.
func (d *Device) SetFrameInterval(interval Framerate) (Framerate, error) {
	p := v4l2Streamparm{
		typ: bufTypeVideoCapture,
		capture: v4l2Captureparm{
			timeperframe: v4l2Fract{numerator: interval.Numerator, denominator: interval.Denominator},
		},
	}
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return Framerate{}, fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}
	return Framerate{
		Numerator:   p.capture.timeperframe.numerator,
		Denominator: p.capture.timeperframe.denominator,
	}, nil
}

// SetControl sets a single user control.
func (d *Device) SetControl(id uint32, value int32) error {
	ctrl := v4l2Control{id: id, value: value}
	if err := ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL 0x%08x: %w", id, err)
	}
	return nil
}

// WaitReadable blocks until a filled buffer can be dequeued or timeout
// elapses. It reports false on timeout. A wait interrupted by a signal
// returns an error matching unix.EINTR.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		timeout = 0
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())

	n, err := unix.Ppoll(fds, &ts, nil)
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("poll: revents 0x%x: %w", fds[0].Revents, unix.EIO)
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// IsNotSupported reports whether err is the errno drivers use for an
// unimplemented ioctl or an unsupported argument.
func IsNotSupported(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY)
}
