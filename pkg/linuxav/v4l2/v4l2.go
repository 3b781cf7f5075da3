//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation and memory-mapped streaming
// capture.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, resolutions, and framerates:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, f := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", f.PixelFormat)
//	    for _, res := range resolutions {
//	        framerates, _ := v4l2.GetFramerates("/dev/video0", f.PixelFormat, res.Width, res.Height)
//	    }
//	}
//
// # Streaming
//
// A Device exposes the individual ioctls of the streaming I/O protocol.
// Sequencing them (request, map, queue, stream on, wait, dequeue, requeue)
// is left to the caller:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	defer dev.Close()
//	granted, _ := dev.RequestBuffers(4)
//	buf, _ := dev.QueryBuffer(0)
//	mem, _ := dev.Map(buf.Offset, buf.Length)
//	_ = dev.QueueBuffer(0)
//	_ = dev.StreamOn()
//	if ready, _ := dev.WaitReadable(50 * time.Millisecond); ready {
//	    filled, _ := dev.DequeueBuffer()
//	    // read mem[:filled.BytesUsed], then QueueBuffer(filled.Index)
//	}
//
// A Device is not safe for concurrent use.
package v4l2
