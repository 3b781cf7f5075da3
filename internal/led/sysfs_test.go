package led

import (
	"os"
	"path/filepath"
	"testing"
)

func readAttr(t *testing.T, dir, attr string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsSet(t *testing.T) {
	tests := []struct {
		pattern    Pattern
		trigger    string
		brightness string
	}{
		{Solid, "none", "1"},
		{Off, "none", "0"},
		{Blink, "heartbeat", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern.String(), func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "sys_led")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte("-"), 0o644); err != nil {
				t.Fatal(err)
			}

			if err := newSysfs(root, "sys_led").Set(tt.pattern); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got := readAttr(t, dir, "trigger"); got != tt.trigger {
				t.Errorf("trigger = %q, want %q", got, tt.trigger)
			}
			if got := readAttr(t, dir, "brightness"); got != tt.brightness {
				t.Errorf("brightness = %q, want %q", got, tt.brightness)
			}
		})
	}
}

func TestSysfsMissingLED(t *testing.T) {
	if err := newSysfs(t.TempDir(), "nope").Set(Solid); err == nil {
		t.Fatal("expected error for missing LED")
	}
}
