package grabber

// copyFrame writes exactly f.FrameSize() tightly packed bytes from a mapped
// buffer into dst. Rows are copied one at a time when the driver pads lines
// beyond width*2 bytes. Callers guarantee len(dst) >= f.FrameSize() and that
// src holds at least requiredLen(f) bytes.
func copyFrame(dst, src []byte, f NegotiatedFormat) int {
	row := f.minStride()
	if f.BytesPerLine == row {
		return copy(dst[:f.FrameSize()], src)
	}

	n := 0
	for y := 0; y < f.Height; y++ {
		off := y * f.BytesPerLine
		n += copy(dst[y*row:(y+1)*row], src[off:off+row])
	}
	return n
}

// requiredLen is the smallest mapped buffer copyFrame can read a frame from.
func requiredLen(f NegotiatedFormat) int {
	if f.Height == 0 {
		return 0
	}
	return (f.Height-1)*f.BytesPerLine + f.minStride()
}
