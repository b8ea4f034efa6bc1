package hal

import (
	"image/color"
	"sync"
)

// MemoryDisplay is a panel backed by plain memory. It is the host
// simulator's framebuffer (the window mirrors it each frame) and doubles as
// the display sink in tests.
type MemoryDisplay struct {
	mu        sync.Mutex
	width     int
	height    int
	pix       []uint16
	backlight uint8
}

// NewMemoryDisplay returns a memory-backed display of the given size.
func NewMemoryDisplay(width, height int) *MemoryDisplay {
	return &MemoryDisplay{
		width:     width,
		height:    height,
		pix:       make([]uint16, width*height),
		backlight: 100,
	}
}

func (d *MemoryDisplay) Size() (int16, int16) {
	return int16(d.width), int16(d.height)
}

func (d *MemoryDisplay) SetPixel(x, y int16, c color.RGBA) {
	if x < 0 || y < 0 || int(x) >= d.width || int(y) >= d.height {
		return
	}
	d.mu.Lock()
	d.pix[int(y)*d.width+int(x)] = PackRGB565(c.R, c.G, c.B)
	d.mu.Unlock()
}

// Display is a no-op; the memory buffer is always current.
func (d *MemoryDisplay) Display() error { return nil }

func (d *MemoryDisplay) PushRect(x, y, w, h int, pix []uint16) error {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > d.width || y+h > d.height {
		return ErrOutOfBounds
	}
	if len(pix) < w*h {
		return ErrOutOfBounds
	}
	d.mu.Lock()
	for row := 0; row < h; row++ {
		copy(d.pix[(y+row)*d.width+x:(y+row)*d.width+x+w], pix[row*w:(row+1)*w])
	}
	d.mu.Unlock()
	return nil
}

func (d *MemoryDisplay) FillScreen(c color.RGBA) {
	p := PackRGB565(c.R, c.G, c.B)
	d.mu.Lock()
	for i := range d.pix {
		d.pix[i] = p
	}
	d.mu.Unlock()
}

func (d *MemoryDisplay) SetBacklight(percent uint8) {
	if percent > 100 {
		percent = 100
	}
	d.mu.Lock()
	d.backlight = percent
	d.mu.Unlock()
}

// Backlight reports the last value passed to SetBacklight.
func (d *MemoryDisplay) Backlight() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backlight
}

// Pixel reads one packed pixel. Out-of-range reads return 0.
func (d *MemoryDisplay) Pixel(x, y int) uint16 {
	if x < 0 || y < 0 || x >= d.width || y >= d.height {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pix[y*d.width+x]
}

// Snapshot copies the packed framebuffer into dst.
func (d *MemoryDisplay) Snapshot(dst []uint16) {
	d.mu.Lock()
	copy(dst, d.pix)
	d.mu.Unlock()
}
