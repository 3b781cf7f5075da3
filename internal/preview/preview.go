// Package preview turns grabbed YUYV frames into something a browser can
// show. Only the luma plane is rendered; chroma is discarded.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"
)

// ErrNoFrame is returned by Latest.Snapshot before the first frame.
var ErrNoFrame = errors.New("no frame captured yet")

// Luma extracts the Y samples of a packed YUYV frame into a grayscale image.
// frame must hold at least width*height*2 bytes.
func Luma(frame []byte, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", width, height)
	}
	if need := width * height * 2; len(frame) < need {
		return nil, fmt.Errorf("frame holds %d bytes, %dx%d YUYV needs %d", len(frame), width, height, need)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = frame[i*2]
	}
	return img, nil
}

// EncodePNG renders the luma plane of frame as PNG.
func EncodePNG(frame []byte, width, height int) ([]byte, error) {
	img, err := Luma(frame, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Frame is a copy of one grabbed frame.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Sequence uint64
	Captured time.Time
}

// Latest holds the most recent frame for concurrent readers. The capture
// loop is the only writer.
type Latest struct {
	mu    sync.RWMutex
	frame Frame
	valid bool
}

// Store copies data in as the newest frame.
func (l *Latest) Store(data []byte, width, height int, seq uint64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cap(l.frame.Data) < len(data) {
		l.frame.Data = make([]byte, len(data))
	}
	l.frame.Data = l.frame.Data[:len(data)]
	copy(l.frame.Data, data)
	l.frame.Width = width
	l.frame.Height = height
	l.frame.Sequence = seq
	l.frame.Captured = at
	l.valid = true
}

// Reset forgets the stored frame, e.g. after the format changed.
func (l *Latest) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.valid = false
}

// Snapshot returns an independent copy of the newest frame.
func (l *Latest) Snapshot() (Frame, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.valid {
		return Frame{}, ErrNoFrame
	}
	f := l.frame
	f.Data = bytes.Clone(l.frame.Data)
	return f, nil
}

// PNG encodes the newest frame.
func (l *Latest) PNG() ([]byte, Frame, error) {
	f, err := l.Snapshot()
	if err != nil {
		return nil, Frame{}, err
	}
	data, err := EncodePNG(f.Data, f.Width, f.Height)
	if err != nil {
		return nil, Frame{}, err
	}
	return data, f, nil
}
