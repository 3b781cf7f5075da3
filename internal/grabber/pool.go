package grabber

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SlotState is the ownership of one pool slot.
type SlotState int

// Slot states.
const (
	// SlotIdle: mapped, not queued. The driver will not write to it until it
	// is enqueued. All slots are idle while the engine is Configured or Stopped.
	SlotIdle SlotState = iota
	// SlotKernel: queued to the driver, which may be filling it. Must not be
	// read or unmapped.
	SlotKernel
	// SlotApp: dequeued and safe to read until it is enqueued again.
	SlotApp
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotKernel:
		return "kernel"
	case SlotApp:
		return "app"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

type slot struct {
	mem   []byte
	state SlotState
}

// Pool is a fixed arena of memory-mapped driver buffers addressed by index.
// Slot memory is only reachable through copyOut, which refuses any slot not
// currently application-owned.
type Pool struct {
	dev   Device
	path  string
	slots []slot
	// held is the index of the application-owned slot, or -1.
	held int
}

// allocatePool requests count buffers and maps each one. minLen is the
// smallest buffer that can hold one frame at the negotiated stride.
func allocatePool(dev Device, path string, count, minLen int) (*Pool, error) {
	granted, err := dev.RequestBuffers(uint32(count))
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			return nil, newError(KindUnsupported, path, "request buffers", fmt.Errorf("memory mapping not supported: %w", err))
		}
		return nil, newError(KindDeviceFailure, path, "request buffers", err)
	}
	if granted < MinBufferCount {
		// Return whatever was granted before failing
		_, _ = dev.RequestBuffers(0)
		return nil, newError(KindInsufficientMemory, path, "request buffers",
			fmt.Errorf("driver granted %d buffers, need at least %d", granted, MinBufferCount))
	}

	p := &Pool{dev: dev, path: path, slots: make([]slot, 0, granted), held: -1}
	for i := uint32(0); i < granted; i++ {
		buf, err := dev.QueryBuffer(i)
		if err != nil {
			p.abort()
			return nil, newError(KindMapFailed, path, fmt.Sprintf("query buffer %d", i), err)
		}
		if int(buf.Length) < minLen {
			p.abort()
			return nil, newError(KindMapFailed, path, fmt.Sprintf("query buffer %d", i),
				fmt.Errorf("buffer length %d is smaller than one frame (%d)", buf.Length, minLen))
		}
		mem, err := dev.Map(buf.Offset, buf.Length)
		if err != nil {
			p.abort()
			return nil, newError(KindMapFailed, path, fmt.Sprintf("map buffer %d", i), err)
		}
		p.slots = append(p.slots, slot{mem: mem, state: SlotIdle})
	}
	return p, nil
}

// abort unmaps whatever was mapped so far during a failed allocation.
func (p *Pool) abort() {
	_ = p.release()
	_, _ = p.dev.RequestBuffers(0)
}

// Len is the number of granted buffers.
func (p *Pool) Len() int {
	return len(p.slots)
}

// State reports the ownership of slot index.
func (p *Pool) State(index int) SlotState {
	return p.slots[index].state
}

// AppOwned counts application-owned slots. It is 0 or 1.
func (p *Pool) AppOwned() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].state == SlotApp {
			n++
		}
	}
	return n
}

// Held returns the application-owned slot, if any.
func (p *Pool) Held() (int, bool) {
	return p.held, p.held >= 0
}

// Enqueue gives slot index back to the driver. Only idle or
// application-owned slots can be enqueued.
func (p *Pool) Enqueue(index int) error {
	if index < 0 || index >= len(p.slots) {
		return newError(KindInvalidState, p.path, "enqueue", fmt.Errorf("buffer index %d out of range [0,%d)", index, len(p.slots)))
	}
	if p.slots[index].state == SlotKernel {
		return newError(KindInvalidState, p.path, "enqueue", fmt.Errorf("buffer %d is already queued", index))
	}
	if err := p.dev.QueueBuffer(uint32(index)); err != nil {
		return newError(KindDeviceFailure, p.path, fmt.Sprintf("enqueue buffer %d", index), err)
	}
	p.slots[index].state = SlotKernel
	if p.held == index {
		p.held = -1
	}
	return nil
}

// Dequeue waits up to timeout for a filled buffer and takes ownership of it.
// It refuses to run while another slot is still application-owned.
func (p *Pool) Dequeue(timeout time.Duration) (int, error) {
	if p.held >= 0 {
		return -1, newError(KindInvalidState, p.path, "dequeue", fmt.Errorf("buffer %d is still application-owned", p.held))
	}

	ready, err := p.dev.WaitReadable(timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return -1, newError(KindInterrupted, p.path, "wait for frame", err)
		}
		return -1, newError(KindDeviceFailure, p.path, "wait for frame", err)
	}
	if !ready {
		return -1, newError(KindTimeout, p.path, "wait for frame", fmt.Errorf("no frame within %s", timeout))
	}

	buf, err := p.dev.DequeueBuffer()
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN):
			return -1, newError(KindRetry, p.path, "dequeue", err)
		case errors.Is(err, unix.EIO):
			return -1, newError(KindIOError, p.path, "dequeue", err)
		default:
			return -1, newError(KindDeviceFailure, p.path, "dequeue", err)
		}
	}

	index := int(buf.Index)
	if index >= len(p.slots) {
		return -1, newError(KindDeviceFailure, p.path, "dequeue", fmt.Errorf("driver returned buffer index %d, pool has %d", index, len(p.slots)))
	}
	if p.slots[index].state != SlotKernel {
		return -1, newError(KindDeviceFailure, p.path, "dequeue", fmt.Errorf("driver returned buffer %d which was %s", index, p.slots[index].state))
	}

	p.slots[index].state = SlotApp
	p.held = index
	return index, nil
}

// copyOut copies one frame out of application-owned slot index.
func (p *Pool) copyOut(index int, dst []byte, f NegotiatedFormat) error {
	if index < 0 || index >= len(p.slots) || p.slots[index].state != SlotApp {
		return newError(KindInvalidState, p.path, "copy frame", fmt.Errorf("buffer %d is not application-owned", index))
	}
	copyFrame(dst, p.slots[index].mem, f)
	return nil
}

// idle marks every slot idle. Used after STREAMOFF, which removes all
// buffers from the driver queues.
func (p *Pool) idle() {
	for i := range p.slots {
		p.slots[i].state = SlotIdle
	}
	p.held = -1
}

// release unmaps every slot regardless of state. Failures do not stop the
// remaining unmaps; they are joined into one error.
func (p *Pool) release() error {
	var errs []error
	for i := range p.slots {
		if p.slots[i].mem == nil {
			continue
		}
		if err := p.dev.Unmap(p.slots[i].mem); err != nil {
			errs = append(errs, fmt.Errorf("buffer %d: %w", i, err))
		}
		p.slots[i].mem = nil
	}
	p.slots = p.slots[:0]
	p.held = -1
	return errors.Join(errs...)
}
