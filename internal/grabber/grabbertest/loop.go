// Package grabbertest provides an in-memory capture device for tests of
// code built on the grabber engine.
package grabbertest

import (
	"time"

	"github.com/smazurov/framegrab/internal/grabber"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// LoopDevice always has a frame ready while streaming. Frame n is filled
// with byte(n), starting at 1.
type LoopDevice struct {
	// DequeueErr, when set, fails every dequeue.
	DequeueErr error

	format    v4l2.PixFormat
	mem       [][]byte
	queue     []uint32
	seq       byte
	streaming bool
	closed    bool
}

var _ grabber.Device = (*LoopDevice)(nil)

// Opener returns an Opener that hands out dev for any path.
func Opener(dev *LoopDevice) grabber.Opener {
	return func(string) (grabber.Device, error) { return dev, nil }
}

// Closed reports whether Close was called.
func (d *LoopDevice) Closed() bool { return d.closed }

func (d *LoopDevice) Capability() (v4l2.Capability, error) {
	return v4l2.Capability{Driver: "loop", Card: "Loop Device", Caps: v4l2.CapVideoCapture | v4l2.CapStreaming}, nil
}

func (d *LoopDevice) ResetCrop() error { return nil }

func (d *LoopDevice) SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error) {
	pf.BytesPerLine = pf.Width * 2
	pf.SizeImage = pf.BytesPerLine * pf.Height
	d.format = pf
	return pf, nil
}

func (d *LoopDevice) SetFrameInterval(fr v4l2.Framerate) (v4l2.Framerate, error) { return fr, nil }

func (d *LoopDevice) SetControl(uint32, int32) error { return nil }

func (d *LoopDevice) RequestBuffers(count uint32) (uint32, error) {
	d.mem = make([][]byte, count)
	return count, nil
}

func (d *LoopDevice) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	return v4l2.Buffer{Index: index, Offset: index, Length: d.format.SizeImage}, nil
}

func (d *LoopDevice) Map(offset, length uint32) ([]byte, error) {
	d.mem[offset] = make([]byte, length)
	return d.mem[offset], nil
}

func (d *LoopDevice) Unmap([]byte) error { return nil }

func (d *LoopDevice) QueueBuffer(index uint32) error {
	d.queue = append(d.queue, index)
	return nil
}

func (d *LoopDevice) DequeueBuffer() (v4l2.Buffer, error) {
	if d.DequeueErr != nil {
		return v4l2.Buffer{}, d.DequeueErr
	}
	index := d.queue[0]
	d.queue = d.queue[1:]
	d.seq++
	for i := range d.mem[index] {
		d.mem[index][i] = d.seq
	}
	return v4l2.Buffer{Index: index, Sequence: uint32(d.seq)}, nil
}

func (d *LoopDevice) StreamOn() error {
	d.streaming = true
	return nil
}

func (d *LoopDevice) StreamOff() error {
	d.streaming = false
	d.queue = nil
	return nil
}

func (d *LoopDevice) WaitReadable(time.Duration) (bool, error) {
	return d.streaming && len(d.queue) > 0, nil
}

func (d *LoopDevice) Close() error {
	d.closed = true
	return nil
}
