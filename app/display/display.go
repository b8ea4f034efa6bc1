// Package display owns the panel. All screen state lives here, mutated
// either by the render loop's tick or by the short, rectangle-confined
// fragment decodes the image API performs from request context. A single
// mutex serializes the two.
package display

import (
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/imageapi"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

// Screen identifies which surface currently owns the panel.
type Screen uint8

const (
	ScreenSplash Screen = iota
	ScreenMetrics
	ScreenImage
)

// Metrics is the latest energy reading shown on the default screen.
type Metrics struct {
	SolarKW float64
	GridKW  float64
	Updated time.Time
}

// Manager drives the panel: boot splash, the metrics screen, and
// uploaded images. It implements imageapi.Backend.
type Manager struct {
	disp  hal.Display
	log   hal.Logger
	clock func() time.Time

	mu         sync.Mutex
	dec        *imageapi.StripDecoder
	sess       imageapi.UploadSession
	screen     Screen
	dirty      bool
	booted     bool
	bootStatus string
	metrics    Metrics
	brightness uint8

	// decoding is set for the duration of a full-frame decode so the
	// app loop can report the render context busy.
	decoding atomic.Bool
}

func New(disp hal.Display, log hal.Logger, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		disp:       disp,
		log:        log,
		clock:      clock,
		dec:        imageapi.NewStripDecoder(disp, log),
		screen:     ScreenSplash,
		dirty:      true,
		brightness: 100,
	}
}

// Busy reports whether the render context is inside a long operation.
func (m *Manager) Busy() bool { return m.decoding.Load() }

// SetBootStatus updates the splash progress line.
func (m *Manager) SetBootStatus(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootStatus = s
	if m.screen == ScreenSplash {
		m.dirty = true
	}
}

// BootComplete switches from the splash to the metrics screen.
func (m *Manager) BootComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.booted = true
	if m.screen == ScreenSplash {
		m.screen = ScreenMetrics
		m.dirty = true
	}
}

// UpdateMetrics stores a new reading; the metrics screen redraws on the
// next tick. An uploaded image is never disturbed by metrics traffic.
func (m *Manager) UpdateMetrics(v Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = v
	if m.screen == ScreenMetrics {
		m.dirty = true
	}
}

// SetBrightness applies a backlight level of 0..100 percent.
func (m *Manager) SetBrightness(percent uint8) error {
	if percent > 100 {
		return fmt.Errorf("brightness %d out of range 0..100", percent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brightness = percent
	m.disp.SetBacklight(percent)
	return nil
}

func (m *Manager) Brightness() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brightness
}

// CurrentScreen reports which surface owns the panel.
func (m *Manager) CurrentScreen() Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// Tick runs one render-loop step: expire the image timeout and redraw
// whatever went dirty since the last tick.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screen == ScreenImage && m.sess.Expired(m.clock()) {
		m.logf("display: image timeout elapsed")
		m.hideLocked()
	}

	if !m.dirty {
		return
	}
	m.dirty = false

	switch m.screen {
	case ScreenSplash:
		m.drawSplash()
	case ScreenMetrics:
		m.drawMetrics()
	case ScreenImage:
		// Image pixels arrive via decode; nothing to redraw.
	}
	_ = m.disp.Display()
}

// HideImage blanks the panel and returns to the resident screen.
func (m *Manager) HideImage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen == ScreenImage {
		m.hideLocked()
	}
}

func (m *Manager) hideLocked() {
	m.sess.End()
	m.disp.FillScreen(color.RGBA{A: 0xFF})
	if m.booted {
		m.screen = ScreenMetrics
	} else {
		m.screen = ScreenSplash
	}
	m.dirty = true
}

// ShowImage decodes one full-frame JPEG straight to the panel. Runs in
// the render context only; start is the upload completion time, so queue
// dwell never extends the viewing window.
func (m *Manager) ShowImage(jpeg []byte, timeout time.Duration, start time.Time) error {
	m.decoding.Store(true)
	defer m.decoding.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()

	w, h := m.disp.Size()
	m.disp.FillScreen(color.RGBA{A: 0xFF})
	m.screen = ScreenImage
	m.sess.Begin(int(w), int(h), 1, timeout)

	ext, err := m.dec.DecodeFragment(jpeg, int(w), 0, imageapi.FormatRGB565)
	if err != nil {
		m.hideLocked()
		return err
	}
	if err := m.sess.Advance(ext.Height); err != nil {
		m.hideLocked()
		return err
	}
	m.sess.Finish(start)
	_ = m.disp.Display()
	m.logf("display: showing %dx%d image, timeout=%s", ext.Width, ext.Height, timeout)
	return nil
}

// StartStripSession claims the panel for a fragment upload cycle,
// discarding whatever was displayed.
func (m *Manager) StartStripSession(width, height, count int, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, h := m.disp.Size()
	if width != int(w) || height < 1 || height > int(h) {
		return fmt.Errorf("session %dx%d does not fit panel %dx%d", width, height, w, h)
	}
	m.disp.FillScreen(color.RGBA{A: 0xFF})
	m.screen = ScreenImage
	m.sess.Begin(width, height, count, timeout)
	return nil
}

// StripSession snapshots the active session.
func (m *Manager) StripSession() (imageapi.UploadSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, m.sess.Active
}

// DecodeStrip decodes one fragment at the session cursor. Called from
// request context; the mutex keeps the render tick out of the panel for
// the bounded duration of one fragment.
func (m *Manager) DecodeStrip(jpeg []byte, format imageapi.PixelFormat) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sess.Active {
		return 0, fmt.Errorf("no fragment session in progress")
	}
	ext, err := m.dec.DecodeFragment(jpeg, m.sess.Width, m.sess.CursorY, format)
	if err != nil {
		return 0, err
	}
	if err := m.sess.Advance(ext.Height); err != nil {
		return 0, err
	}
	return ext.Height, nil
}

// FinishStripSession starts the viewing clock.
func (m *Manager) FinishStripSession(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.Finish(now)
	_ = m.disp.Display()
}

func (m *Manager) logf(format string, args ...any) {
	if m.log != nil {
		m.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}
