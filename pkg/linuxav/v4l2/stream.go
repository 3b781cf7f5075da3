//go:build linux

package v4l2

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RequestBuffers asks the driver for count memory-mapped capture buffers
// and returns how many it granted. A count of 0 frees all buffers.
// Drivers without mmap streaming fail with EINVAL.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	rb := v4l2Requestbuffers{
		count:  count,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	return rb.count, nil
}

// QueryBuffer returns the mmap offset and length of buffer index.
func (d *Device) QueryBuffer(index uint32) (Buffer, error) {
	qb := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&qb)); err != nil {
		return Buffer{}, fmt.Errorf("VIDIOC_QUERYBUF %d: %w", index, err)
	}
	return toBuffer(&qb), nil
}

// Map maps a driver buffer into the process with read-write shared access.
func (d *Device) Map(offset, length uint32) ([]byte, error) {
	mem, err := unix.Mmap(d.fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap offset %d length %d: %w", offset, length, err)
	}
	return mem, nil
}

// Unmap releases a region returned by Map.
func (d *Device) Unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// QueueBuffer hands buffer index to the driver's incoming queue.
func (d *Device) QueueBuffer(index uint32) error {
	qb := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&qb)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF %d: %w", index, err)
	}
	return nil
}

// DequeueBuffer takes the oldest filled buffer off the driver's outgoing
// queue. With the device opened non-blocking it fails with EAGAIN when no
// buffer is ready, and with EIO on a transient hardware fault.
func (d *Device) DequeueBuffer() (Buffer, error) {
	qb := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&qb)); err != nil {
		return Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return toBuffer(&qb), nil
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	typ := bufTypeVideoCapture
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

// StreamOff stops capture. All buffers are removed from the driver queues.
func (d *Device) StreamOff() error {
	typ := bufTypeVideoCapture
	if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

func toBuffer(qb *v4l2Buffer) Buffer {
	return Buffer{
		Index:     qb.index,
		Offset:    qb.offset,
		Length:    qb.length,
		BytesUsed: qb.bytesused,
		Flags:     qb.flags,
		Sequence:  qb.sequence,
	}
}
