//go:build !tinygo && periph

package hal

import (
	"fmt"
	"image/color"
	"os"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SBC deployment: the same ST7789V2 module wired to a Linux board's SPI
// bus, driven through periph.io. Pin names come from the environment so one
// binary covers different carriers.
type periphHAL struct {
	logger *hostLogger
	disp   *st7789Periph
	flash  *hostFlash
	t      *tickerTime
}

// New returns a periph.io-backed HAL for Linux SBCs.
func New() HAL {
	if _, err := host.Init(); err != nil {
		panic(fmt.Sprintf("periph host init: %v", err))
	}

	disp, err := newST7789Periph()
	if err != nil {
		panic(fmt.Sprintf("st7789: %v", err))
	}

	return &periphHAL{
		logger: &hostLogger{w: os.Stdout},
		disp:   disp,
		flash:  newHostFlash(),
		t:      newTickerTime(),
	}
}

const (
	PanelWidth  = 240
	PanelHeight = 280
)

func (h *periphHAL) Logger() Logger   { return h.logger }
func (h *periphHAL) Display() Display { return h.disp }
func (h *periphHAL) Flash() Flash     { return h.flash }
func (h *periphHAL) Time() Time       { return h.t }
func (h *periphHAL) FreeHeap() uint32 { return 1<<32 - 1 }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.WriteString(s)
	_, _ = l.w.WriteString("\n")
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(b)
	_, _ = l.w.WriteString("\n")
}

type tickerTime struct {
	ch  chan uint64
	seq uint64
}

func newTickerTime() *tickerTime {
	t := &tickerTime{ch: make(chan uint64, 16)}
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

func (t *tickerTime) Ticks() <-chan uint64 { return t.ch }

func envPin(name, def string) (gpio.PinIO, error) {
	v := os.Getenv(name)
	if v == "" {
		v = def
	}
	p := gpioreg.ByName(v)
	if p == nil {
		return nil, fmt.Errorf("gpio %s (%s) not found", v, name)
	}
	return p, nil
}

// st7789Periph drives the panel with raw controller commands over SPI.
type st7789Periph struct {
	mu    sync.Mutex
	c     spi.Conn
	port  spi.PortCloser
	dc    gpio.PinIO
	rst   gpio.PinIO
	bl    gpio.PinIO
	txBuf []byte

	// The 240x280 glass sits at rows 20..299 of the controller RAM.
	rowOffset int
}

func newST7789Periph() (*st7789Periph, error) {
	spiName := os.Getenv("ENERGYMON_SPI")
	if spiName == "" {
		spiName = "SPI0.0"
	}
	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, err
	}
	c, err := port.Connect(40*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	dc, err := envPin("ENERGYMON_DC", "GPIO16")
	if err != nil {
		return nil, err
	}
	rst, err := envPin("ENERGYMON_RST", "GPIO17")
	if err != nil {
		return nil, err
	}
	bl, err := envPin("ENERGYMON_BL", "GPIO4")
	if err != nil {
		return nil, err
	}

	d := &st7789Periph{
		c:         c,
		port:      port,
		dc:        dc,
		rst:       rst,
		bl:        bl,
		txBuf:     make([]byte, PanelWidth*2*16),
		rowOffset: 20,
	}
	d.reset()
	d.init()
	_ = d.bl.Out(gpio.High)
	return d, nil
}

func (d *st7789Periph) reset() {
	_ = d.rst.Out(gpio.Low)
	time.Sleep(50 * time.Millisecond)
	_ = d.rst.Out(gpio.High)
	time.Sleep(120 * time.Millisecond)
}

func (d *st7789Periph) init() {
	d.cmd(0x01) // SWRESET
	time.Sleep(150 * time.Millisecond)
	d.cmd(0x11) // SLPOUT
	time.Sleep(120 * time.Millisecond)

	d.cmd(0x3A, 0x55) // COLMOD: 16bpp
	d.cmd(0x36, 0x00) // MADCTL: portrait, RGB order fed as packed by caller
	d.cmd(0x21)       // INVON: this glass wants inversion
	d.cmd(0x13)       // NORON
	d.cmd(0x29)       // DISPON
	time.Sleep(20 * time.Millisecond)
}

func (d *st7789Periph) cmd(cmd byte, data ...byte) {
	_ = d.dc.Out(gpio.Low)
	_ = d.c.Tx([]byte{cmd}, nil)
	_ = d.dc.Out(gpio.High)
	if len(data) > 0 {
		_ = d.c.Tx(data, nil)
	}
}

func (d *st7789Periph) setWindow(x0, y0, x1, y1 int) {
	y0 += d.rowOffset
	y1 += d.rowOffset
	d.cmd(0x2A, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1))
	d.cmd(0x2B, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1))
	d.cmd(0x2C)
}

func (d *st7789Periph) Size() (int16, int16) { return PanelWidth, PanelHeight }

func (d *st7789Periph) SetPixel(x, y int16, c color.RGBA) {
	if x < 0 || y < 0 || x >= PanelWidth || y >= PanelHeight {
		return
	}
	p := PackRGB565(c.R, c.G, c.B)
	_ = d.PushRect(int(x), int(y), 1, 1, []uint16{p})
}

func (d *st7789Periph) Display() error { return nil }

func (d *st7789Periph) PushRect(x, y, w, h int, pix []uint16) error {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > PanelWidth || y+h > PanelHeight {
		return ErrOutOfBounds
	}
	if len(pix) < w*h {
		return ErrOutOfBounds
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := w * h
	if len(d.txBuf) < n*2 {
		d.txBuf = make([]byte, n*2)
	}
	for i := 0; i < n; i++ {
		d.txBuf[i*2] = byte(pix[i] >> 8)
		d.txBuf[i*2+1] = byte(pix[i])
	}

	d.setWindow(x, y, x+w-1, y+h-1)
	_ = d.dc.Out(gpio.High)

	// Linux spidev caps single transfers; chunk to stay under 4096 bytes.
	buf := d.txBuf[:n*2]
	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > 4096 {
			chunk = chunk[:4096]
		}
		if err := d.c.Tx(chunk, nil); err != nil {
			return err
		}
		buf = buf[len(chunk):]
	}
	return nil
}

func (d *st7789Periph) FillScreen(c color.RGBA) {
	p := PackRGB565(c.R, c.G, c.B)
	line := make([]uint16, PanelWidth)
	for i := range line {
		line[i] = p
	}
	for y := 0; y < PanelHeight; y++ {
		_ = d.PushRect(0, y, PanelWidth, 1, line)
	}
}

func (d *st7789Periph) SetBacklight(percent uint8) {
	if percent > 0 {
		_ = d.bl.Out(gpio.High)
	} else {
		_ = d.bl.Out(gpio.Low)
	}
}
