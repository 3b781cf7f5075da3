//go:build linux

// Package hotplug reports kernel device add and remove events read from the
// kobject-uevent netlink socket, without cgo or libudev.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"golang.org/x/sys/unix"
)

// Uevent actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// SubsystemVideo4Linux is the subsystem of /dev/videoN nodes.
const SubsystemVideo4Linux = "video4linux"

// kernelGroup is the multicast group the kernel broadcasts uevents on.
// Group 2 carries libudev's re-broadcasts, which are not used.
const kernelGroup = 1

// pollInterval bounds how long Run waits before rechecking its context.
const pollInterval = 500

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string // sysfs path, e.g. /devices/pci0000:00/.../video4linux/video0
	Subsystem string
	DevName   string // node name relative to /dev, e.g. video0
	Env       map[string]string
}

// Node returns the /dev path of the event's device node, or "" when the
// event carries no DEVNAME.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	return path.Join("/dev", e.DevName)
}

// Monitor reads uevents for a fixed set of subsystems.
type Monitor struct {
	fd         int
	subsystems map[string]bool
}

// NewMonitor opens the uevent socket. With no subsystems every event is
// reported.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]bool, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = true
	}
	return m, nil
}

// Close releases the socket. Run must have returned first.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers matching events until ctx is done or the socket fails. The
// events channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 16<<10)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll uevent socket: %w", err)
		}
		if n == 0 {
			continue
		}

		n, _, err = unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				// Kernel dropped events; keep reading the ones still queued
				continue
			}
			return fmt.Errorf("read uevent: %w", err)
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok || !m.wants(ev) {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) wants(ev Event) bool {
	return len(m.subsystems) == 0 || m.subsystems[ev.Subsystem]
}

// ParseUEvent decodes a kernel uevent datagram of the form
// "action@kobj\0KEY=VALUE\0...". libudev datagrams are rejected.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		return Event{}, false
	}

	header, rest, _ := bytes.Cut(data, []byte{0})
	action, kobj, found := bytes.Cut(header, []byte{'@'})
	if !found || len(action) == 0 || len(kobj) == 0 {
		return Event{}, false
	}

	ev := Event{
		Action: string(action),
		KObj:   string(kobj),
		Env:    make(map[string]string),
	}
	for _, field := range bytes.Split(rest, []byte{0}) {
		key, value, ok := bytes.Cut(field, []byte{'='})
		if !ok || len(key) == 0 {
			continue
		}
		ev.Env[string(key)] = string(value)
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	ev.DevName = ev.Env["DEVNAME"]
	return ev, true
}
