//go:build !tinygo && !periph

package hal

import (
	"os"
	"sync"
	"time"
)

type hostHAL struct {
	logger *hostLogger
	disp   *MemoryDisplay
	flash  *hostFlash
	t      *hostTime
}

// New returns a host HAL implementation. The panel is a memory framebuffer
// mirrored into a window by RunWindow, or left headless by RunHeadless.
func New() HAL {
	return &hostHAL{
		logger: &hostLogger{w: os.Stdout},
		disp:   NewMemoryDisplay(PanelWidth, PanelHeight),
		flash:  newHostFlash(),
		t:      newHostTime(),
	}
}

// Panel geometry of the 1.69" ST7789V2 module.
const (
	PanelWidth  = 240
	PanelHeight = 280
)

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return h.disp }
func (h *hostHAL) Flash() Flash     { return h.flash }
func (h *hostHAL) Time() Time       { return h.t }

// FreeHeap is effectively unlimited on hosted targets: the Go heap grows on
// demand, so upload headroom checks never bind here.
func (h *hostHAL) FreeHeap() uint32 { return 1<<32 - 1 }

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

// hostTime converts wall-clock progress into 1 ms ticks. It is stepped by
// the window or headless runner, not self-running, so simulated time halts
// when the simulator does.
type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

func (t *hostTime) step() {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.emit(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	const tickDur = time.Millisecond
	ticks := uint64(t.acc / tickDur)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % tickDur
	t.emit(ticks)
}

func (t *hostTime) emit(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
