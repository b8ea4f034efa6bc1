//go:build tinygo

package hal

import (
	"image/color"
	"machine"
	"runtime"
	"time"

	"tinygo.org/x/drivers/st7789"
)

type tinyGoHAL struct {
	logger *uartLogger
	disp   *st7789Display
	flash  Flash
	t      *tinyGoTime
}

// New returns the hardware HAL: ST7789V2 240x280 over SPI, UART logging.
//
// UART: UART0, 115200 8N1. Pin mapping follows the reference board:
// SCK 18, MOSI 23, CS 5, DC 16, RST 17, BL 4.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	spi := machine.SPI0
	spi.Configure(machine.SPIConfig{
		Frequency: 40_000_000,
		SCK:       machine.Pin(18),
		SDO:       machine.Pin(23),
		Mode:      0,
	})

	disp := newST7789Display(spi)

	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		disp:   disp,
		flash:  nullFlash{},
		t:      newTinyGoTime(),
	}
}

func (h *tinyGoHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHAL) Display() Display { return h.disp }
func (h *tinyGoHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHAL) Time() Time       { return h.t }

func (h *tinyGoHAL) FreeHeap() uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return uint32(ms.HeapIdle)
}

// st7789Display adapts the TinyGo driver to the Display interface. The
// 240x280 module maps to rows 20..299 of the controller's 240x320 RAM.
type st7789Display struct {
	dev   st7789.Device
	bl    machine.Pin
	txBuf []byte
}

func newST7789Display(spi *machine.SPI) *st7789Display {
	reset := machine.Pin(17)
	dc := machine.Pin(16)
	cs := machine.Pin(5)
	bl := machine.Pin(4)
	bl.Configure(machine.PinConfig{Mode: machine.PinOutput})

	dev := st7789.New(spi, reset, dc, cs, bl)
	dev.Configure(st7789.Config{
		Width:     240,
		Height:    280,
		RowOffset: 20,
		Rotation:  st7789.NO_ROTATION,
	})

	d := &st7789Display{
		dev:   dev,
		bl:    bl,
		txBuf: make([]byte, 240*2*16),
	}
	d.SetBacklight(100)
	return d
}

func (d *st7789Display) Size() (int16, int16) { return d.dev.Size() }

func (d *st7789Display) SetPixel(x, y int16, c color.RGBA) { d.dev.SetPixel(x, y, c) }

func (d *st7789Display) Display() error { return d.dev.Display() }

func (d *st7789Display) PushRect(x, y, w, h int, pix []uint16) error {
	pw, ph := d.dev.Size()
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > int(pw) || y+h > int(ph) {
		return ErrOutOfBounds
	}
	if len(pix) < w*h {
		return ErrOutOfBounds
	}

	// The controller wants big-endian RGB565 on the wire.
	n := w * h
	if len(d.txBuf) < n*2 {
		d.txBuf = make([]byte, n*2)
	}
	for i := 0; i < n; i++ {
		d.txBuf[i*2] = byte(pix[i] >> 8)
		d.txBuf[i*2+1] = byte(pix[i])
	}
	return d.dev.DrawRGBBitmap8(int16(x), int16(y), d.txBuf[:n*2], int16(w), int16(h))
}

func (d *st7789Display) FillScreen(c color.RGBA) { d.dev.FillScreen(c) }

// SetBacklight is on/off only; the reference board routes BL through a
// plain GPIO. TODO: drive BL with PWM once the pin is moved to a PWM slice.
func (d *st7789Display) SetBacklight(percent uint8) {
	d.bl.Set(percent > 0)
}

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type tinyGoTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoTime() *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(1 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoTime) Ticks() <-chan uint64 { return t.ch }

// nullFlash stands in on targets without a spare flash partition; config
// then runs on defaults.
type nullFlash struct{}

func (nullFlash) SizeBytes() uint32                         { return 0 }
func (nullFlash) EraseBlockBytes() uint32                   { return 0 }
func (nullFlash) ReadAt(p []byte, off uint32) (int, error)  { return 0, ErrNotImplemented }
func (nullFlash) WriteAt(p []byte, off uint32) (int, error) { return 0, ErrNotImplemented }
func (nullFlash) Erase(off, size uint32) error              { return ErrNotImplemented }

