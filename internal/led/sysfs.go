package led

import (
	"fmt"
	"os"
	"path/filepath"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs drives /sys/class/leds/<name> through its trigger and brightness
// attributes.
type sysfs struct {
	root string
	name string
}

func newSysfs(root, name string) *sysfs {
	return &sysfs{root: root, name: name}
}

func (s *sysfs) Name() string { return s.name }

func (s *sysfs) Set(p Pattern) error {
	ledPath := filepath.Join(s.root, s.name)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not available: %w", s.name, err)
	}

	switch p {
	case Blink:
		return s.write(ledPath, "trigger", "heartbeat")
	case Solid:
		if err := s.write(ledPath, "trigger", "none"); err != nil {
			return err
		}
		return s.write(ledPath, "brightness", "1")
	case Off:
		if err := s.write(ledPath, "trigger", "none"); err != nil {
			return err
		}
		return s.write(ledPath, "brightness", "0")
	default:
		return fmt.Errorf("unknown LED pattern %d", int(p))
	}
}

func (s *sysfs) write(ledPath, attr, value string) error {
	if err := os.WriteFile(filepath.Join(ledPath, attr), []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to set LED %s: %w", attr, err)
	}
	return nil
}
