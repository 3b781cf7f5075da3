// Package led drives a board status LED from capture state changes.
package led

// Pattern is what the status LED shows.
type Pattern int

// LED patterns.
const (
	Off Pattern = iota
	Solid
	Blink
)

func (p Pattern) String() string {
	switch p {
	case Off:
		return "off"
	case Solid:
		return "solid"
	case Blink:
		return "blink"
	default:
		return "unknown"
	}
}

// Controller sets the pattern of a single status LED.
type Controller interface {
	Set(p Pattern) error
	// Name is the LED name, or "" when the board has none.
	Name() string
}
