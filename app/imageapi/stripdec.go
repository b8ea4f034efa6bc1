package imageapi

import (
	"fmt"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/internal/tjpg"
)

// PixelFormat selects how decoded truecolor pixels are packed for the
// panel. The two layouts differ only in which 5-bit channel takes the
// high bits: BGR565 matches the ST7789V2's native channel order, RGB565
// is the corrected order for sources that pre-swap.
type PixelFormat uint8

const (
	FormatBGR565 PixelFormat = iota
	FormatRGB565
)

// DecodeErrKind classifies strip decode failures.
type DecodeErrKind uint8

const (
	DecodeErrHeader DecodeErrKind = iota // decoder rejected the headers
	DecodeErrData                        // decode loop failed mid-stream
	DecodeErrBounds                      // a scanline write fell outside the panel
)

// DecodeError wraps a decode failure with its classification.
type DecodeError struct {
	Kind  DecodeErrKind
	Cause error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeErrHeader:
		return fmt.Sprintf("decoder rejected headers: %v", e.Cause)
	case DecodeErrBounds:
		return fmt.Sprintf("pixel write out of bounds: %v", e.Cause)
	default:
		return fmt.Sprintf("decode failed: %v", e.Cause)
	}
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// DecodedExtent reports what a decode call actually produced. The caller
// advances its cursor by Height; fragment height is a property of each
// compressed fragment, never an assumption.
type DecodedExtent struct {
	Width  int
	Height int
}

// StripDecoder decodes one compressed fragment at a time and writes
// scanlines straight to the panel. It holds no buffers between calls; each
// call allocates a bounded workspace (decoder state plus one scanline of
// declaredWidth pixels) and releases it on return, success or failure.
type StripDecoder struct {
	sink hal.Display
	log  hal.Logger
}

func NewStripDecoder(sink hal.Display, log hal.Logger) *StripDecoder {
	return &StripDecoder{sink: sink, log: log}
}

// DecodeFragment decodes one baseline JPEG fragment and writes it at
// vertical offset cursorY. It returns the decoder-reported extent.
func (sd *StripDecoder) DecodeFragment(jpeg []byte, declaredWidth, cursorY int, format PixelFormat) (DecodedExtent, error) {
	panelW, panelH := sd.sink.Size()

	// One session value carries both callback roles: the decoder pulls
	// compressed bytes and pushes pixel bands against the same state.
	ses := &decodeSession{
		data:    jpeg,
		sink:    sd.sink,
		yOffset: cursorY,
		line:    make([]uint16, declaredWidth),
		format:  format,
		panelW:  int(panelW),
		panelH:  int(panelH),
	}

	var dec tjpg.Decoder
	if err := dec.Prepare(ses); err != nil {
		return DecodedExtent{}, &DecodeError{Kind: DecodeErrHeader, Cause: err}
	}
	if dec.Width() > declaredWidth {
		return DecodedExtent{}, &DecodeError{
			Kind:  DecodeErrHeader,
			Cause: fmt.Errorf("fragment is %dpx wide, session declared %dpx", dec.Width(), declaredWidth),
		}
	}

	if err := dec.Decomp(); err != nil {
		if ses.err != nil {
			return DecodedExtent{}, &DecodeError{Kind: DecodeErrBounds, Cause: ses.err}
		}
		return DecodedExtent{}, &DecodeError{Kind: DecodeErrData, Cause: err}
	}

	if sd.log != nil {
		sd.log.WriteLineString(fmt.Sprintf("stripdec: %dx%d at y=%d, %dB in", dec.Width(), dec.Height(), cursorY, len(jpeg)))
	}
	return DecodedExtent{Width: dec.Width(), Height: dec.Height()}, nil
}

// decodeSession is the bridge handed to the decoder. Input cursor and
// output conversion state share one allocation; both decoder callbacks
// resolve against this value during one decode call.
type decodeSession struct {
	// Input side.
	data []byte
	pos  int

	// Output side.
	sink    hal.Display
	yOffset int
	line    []uint16
	format  PixelFormat
	panelW  int
	panelH  int

	err error // first bounds/sink failure, latched
}

func (s *decodeSession) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, fmt.Errorf("fragment data exhausted at %d bytes", s.pos)
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// Output converts one decoded band line by line and pushes each scanline
// to the panel. Every write is bounds-checked against the physical panel;
// a violation aborts the decode, nothing is clamped.
func (s *decodeSession) Output(x, y, w, h int, rgb []byte) bool {
	if w > len(s.line) {
		s.err = fmt.Errorf("band width %d exceeds line buffer %d", w, len(s.line))
		return false
	}

	for row := 0; row < h; row++ {
		py := s.yOffset + y + row
		if x < 0 || py < 0 || x+w > s.panelW || py >= s.panelH {
			s.err = fmt.Errorf("scanline at (%d,%d)+%d outside %dx%d panel", x, py, w, s.panelW, s.panelH)
			return false
		}

		src := rgb[row*w*3:]
		if s.format == FormatBGR565 {
			for i := 0; i < w; i++ {
				s.line[i] = hal.PackBGR565(src[i*3], src[i*3+1], src[i*3+2])
			}
		} else {
			for i := 0; i < w; i++ {
				s.line[i] = hal.PackRGB565(src[i*3], src[i*3+1], src[i*3+2])
			}
		}

		if err := s.sink.PushRect(x, py, w, 1, s.line[:w]); err != nil {
			s.err = err
			return false
		}
	}
	return true
}
