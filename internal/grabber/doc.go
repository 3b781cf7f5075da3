// Package grabber captures raw YUYV frames from a V4L2 device through a
// pool of memory-mapped driver buffers.
//
// # Lifecycle
//
//	Closed --Init--> Configured --StartCapturing--> Streaming
//	Streaming --GrabFrame--> Streaming
//	Streaming --StopCapturing--> Stopped --StartCapturing--> Streaming
//	Configured|Stopped --Uninit--> Closed
//
// Init opens the device, negotiates the format and maps the buffer pool. A
// failed Init leaves the engine Closed with nothing retained. Close tears
// down from any state.
//
// # Grabbing
//
// GrabFrame polls for a filled buffer for at most Config.PollTimeout, copies
// Format().FrameSize() bytes into the destination and hands the buffer back
// to the driver. Timeout, Retry and Interrupted results are normal while
// polling; callers retry on their next tick:
//
//	frame := make([]byte, eng.FrameSize())
//	for running {
//		err := eng.GrabFrame(frame)
//		switch {
//		case err == nil:
//			render(frame)
//		case grabber.IsRecoverable(err):
//			// keep showing the previous frame
//		default:
//			return err
//		}
//	}
//
// # Concurrency
//
// An Engine must only be used from one goroutine at a time. It holds no
// locks; at most one pool buffer is application-owned, and only inside
// GrabFrame.
package grabber
