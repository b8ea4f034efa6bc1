package hal

import (
	"errors"
	"image/color"

	"tinygo.org/x/drivers"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// ErrOutOfBounds is returned by Display.PushRect for writes that do not fit
// the panel.
var ErrOutOfBounds = errors.New("write outside panel bounds")

// Display is the panel sink. It extends the TinyGo drivers Displayer (used
// by tinyfont for widget screens) with packed-pixel rectangle writes, which
// is the path the image pipeline uses.
//
// PushRect pixels are 16bpp, packed by the caller (RGB565 or BGR565); the
// panel is fed the bits verbatim.
type Display interface {
	drivers.Displayer

	// PushRect writes a w×h rectangle of packed pixels at (x, y).
	// The write is rejected with ErrOutOfBounds if it does not fit the
	// panel; nothing is clamped.
	PushRect(x, y, w, h int, pix []uint16) error

	// FillScreen blanks the whole panel to a solid color.
	FillScreen(c color.RGBA)

	// SetBacklight sets panel backlight brightness, 0-100.
	SetBacklight(percent uint8)
}

// Flash provides raw access to the non-volatile config region:
// addresses and erase blocks only.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; the render loop divides it down.
type Time interface {
	Ticks() <-chan uint64
}

// HAL is the only contact point between the firmware and the board.
type HAL interface {
	Logger() Logger
	Display() Display
	Flash() Flash
	Time() Time

	// FreeHeap reports free heap bytes, used to reject uploads before
	// buffering them. Hosted targets report an effectively unlimited
	// value since their heap grows on demand.
	FreeHeap() uint32
}
