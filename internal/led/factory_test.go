package led

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLedForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"FriendlyElec NanoPC-T6", "sys_led"},
		{"Xunlong Orange Pi 5 Plus", "green_led"},
		{"Raspberry Pi 4 Model B Rev 1.4", "ACT"},
		{"QEMU Virtual Machine", ""},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := ledForModel(tt.model); got != tt.want {
			t.Errorf("ledForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestDetectBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	if err := os.WriteFile(path, []byte("Raspberry Pi 5 Model B\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectBoard(path); got != "Raspberry Pi 5 Model B" {
		t.Errorf("detectBoard = %q", got)
	}
	if got := detectBoard(filepath.Join(t.TempDir(), "missing")); got != "unknown" {
		t.Errorf("detectBoard(missing) = %q, want unknown", got)
	}
}

func TestNewWithName(t *testing.T) {
	ctrl := New(discardLogger(), "usr_led")
	if ctrl.Name() != "usr_led" {
		t.Errorf("Name = %q, want usr_led", ctrl.Name())
	}
}
