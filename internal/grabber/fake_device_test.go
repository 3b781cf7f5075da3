package grabber

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

type waitResult struct {
	ready bool
	err   error
}

// fakeDevice is a scripted stand-in for a V4L2 capture node. Queued buffers
// are returned FIFO; each dequeue fills the buffer through fill.
type fakeDevice struct {
	caps    v4l2.Capability
	capErr  error
	cropErr error

	// adjust holds driver adjustments applied by SetFormat; zero fields
	// keep the request.
	adjust    v4l2.PixFormat
	format    v4l2.PixFormat
	formatErr error

	intervalErr error
	controlErr  error
	controls    map[uint32]int32

	granted  uint32
	reqErr   error
	reqCalls []uint32

	bufLen    uint32
	mapErr    error
	mapFailAt int
	unmapErr  error
	mapped    int
	unmapped  int

	qbufErr      error
	qbufFailures int

	streamOnErr  error
	streamOffErr error
	streaming    bool
	streamOffs   int

	waits  []waitResult
	dqErrs []error
	// dqIndex overrides the index returned by the next dequeue.
	dqIndex []uint32

	queue    []uint32
	mem      [][]byte
	sequence uint32
	fill     func(seq uint32, mem []byte)

	closed int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		caps:      v4l2.Capability{Driver: "fake", Card: "Fake Grabber", Caps: v4l2.CapVideoCapture | v4l2.CapStreaming},
		controls:  map[uint32]int32{},
		mapFailAt: -1,
		fill: func(seq uint32, mem []byte) {
			for i := range mem {
				mem[i] = byte(seq)
			}
		},
	}
}

func (d *fakeDevice) Capability() (v4l2.Capability, error) {
	return d.caps, d.capErr
}

func (d *fakeDevice) ResetCrop() error {
	return d.cropErr
}

func (d *fakeDevice) SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error) {
	if d.formatErr != nil {
		return v4l2.PixFormat{}, d.formatErr
	}
	out := pf
	if d.adjust.Width != 0 {
		out.Width, out.Height = d.adjust.Width, d.adjust.Height
	}
	if d.adjust.PixelFormat != 0 {
		out.PixelFormat = d.adjust.PixelFormat
	}
	out.BytesPerLine = d.adjust.BytesPerLine
	if out.BytesPerLine == 0 {
		out.BytesPerLine = out.Width * 2
	}
	out.SizeImage = d.adjust.SizeImage
	if out.SizeImage == 0 {
		out.SizeImage = out.BytesPerLine * out.Height
	}
	d.format = out
	return out, nil
}

func (d *fakeDevice) SetFrameInterval(interval v4l2.Framerate) (v4l2.Framerate, error) {
	if d.intervalErr != nil {
		return v4l2.Framerate{}, d.intervalErr
	}
	return interval, nil
}

func (d *fakeDevice) SetControl(id uint32, value int32) error {
	if d.controlErr != nil {
		return d.controlErr
	}
	d.controls[id] = value
	return nil
}

func (d *fakeDevice) RequestBuffers(count uint32) (uint32, error) {
	d.reqCalls = append(d.reqCalls, count)
	if d.reqErr != nil {
		return 0, d.reqErr
	}
	if count == 0 {
		d.mem = nil
		return 0, nil
	}
	granted := count
	if d.granted != 0 {
		granted = d.granted
	}
	d.mem = make([][]byte, granted)
	return granted, nil
}

func (d *fakeDevice) bufferLen() uint32 {
	if d.bufLen != 0 {
		return d.bufLen
	}
	return d.format.SizeImage
}

func (d *fakeDevice) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	if int(index) >= len(d.mem) {
		return v4l2.Buffer{}, unix.EINVAL
	}
	return v4l2.Buffer{Index: index, Offset: index << 12, Length: d.bufferLen()}, nil
}

func (d *fakeDevice) Map(offset, length uint32) ([]byte, error) {
	if d.mapErr != nil && d.mapped == d.mapFailAt {
		return nil, d.mapErr
	}
	mem := make([]byte, length)
	d.mem[offset>>12] = mem
	d.mapped++
	return mem, nil
}

func (d *fakeDevice) Unmap(_ []byte) error {
	d.unmapped++
	return d.unmapErr
}

func (d *fakeDevice) QueueBuffer(index uint32) error {
	if d.qbufFailures > 0 {
		d.qbufFailures--
		return d.qbufErr
	}
	if int(index) >= len(d.mem) {
		return unix.EINVAL
	}
	d.queue = append(d.queue, index)
	return nil
}

func (d *fakeDevice) DequeueBuffer() (v4l2.Buffer, error) {
	if len(d.dqErrs) > 0 {
		err := d.dqErrs[0]
		d.dqErrs = d.dqErrs[1:]
		if err != nil {
			return v4l2.Buffer{}, err
		}
	}
	if len(d.dqIndex) > 0 {
		index := d.dqIndex[0]
		d.dqIndex = d.dqIndex[1:]
		return v4l2.Buffer{Index: index}, nil
	}
	if !d.streaming || len(d.queue) == 0 {
		return v4l2.Buffer{}, unix.EAGAIN
	}
	index := d.queue[0]
	d.queue = d.queue[1:]
	d.sequence++
	d.fill(d.sequence, d.mem[index])
	return v4l2.Buffer{Index: index, BytesUsed: d.format.SizeImage, Sequence: d.sequence}, nil
}

func (d *fakeDevice) StreamOn() error {
	if d.streamOnErr != nil {
		return d.streamOnErr
	}
	d.streaming = true
	return nil
}

func (d *fakeDevice) StreamOff() error {
	d.streamOffs++
	if d.streamOffErr != nil {
		return d.streamOffErr
	}
	d.streaming = false
	d.queue = nil
	return nil
}

func (d *fakeDevice) WaitReadable(_ time.Duration) (bool, error) {
	if len(d.waits) > 0 {
		w := d.waits[0]
		d.waits = d.waits[1:]
		return w.ready, w.err
	}
	return d.streaming && len(d.queue) > 0, nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(dev *fakeDevice, cfg Config, opts ...Option) *Engine {
	opts = append([]Option{
		WithLogger(testLogger()),
		WithOpener(func(string) (Device, error) { return dev, nil }),
	}, opts...)
	return New(cfg, opts...)
}

// streamingEngine returns an engine that is already Streaming at 640x480.
func streamingEngine(t *testing.T, dev *fakeDevice) *Engine {
	t.Helper()
	eng := newTestEngine(dev, DefaultConfig("/dev/video0", 640, 480))
	if err := eng.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := eng.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	return eng
}
