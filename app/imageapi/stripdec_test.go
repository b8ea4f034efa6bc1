package imageapi

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

func encodeSolid(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeFragmentExtent(t *testing.T) {
	disp := hal.NewMemoryDisplay(240, 280)
	sd := NewStripDecoder(disp, nil)

	data := encodeSolid(t, 240, 32, color.RGBA{R: 0x40, G: 0x80, B: 0xC0, A: 0xFF})
	ext, err := sd.DecodeFragment(data, 240, 0, FormatRGB565)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if ext.Width != 240 || ext.Height != 32 {
		t.Fatalf("extent %dx%d, want 240x32", ext.Width, ext.Height)
	}
}

// Solid red through both packings: the red channel must land in the
// documented field and the other fields must stay near zero. JPEG is
// lossy, so the assertions are on the field classes, not exact words.
func TestDecodeFragmentPacking(t *testing.T) {
	data := encodeSolid(t, 64, 16, color.RGBA{R: 0xFF, A: 0xFF})

	disp := hal.NewMemoryDisplay(64, 16)
	sd := NewStripDecoder(disp, nil)
	if _, err := sd.DecodeFragment(data, 64, 0, FormatRGB565); err != nil {
		t.Fatalf("rgb565 decode: %v", err)
	}
	px := disp.Pixel(32, 8)
	if px>>11 < 0x1E {
		t.Fatalf("rgb565 red field = %#x in %#04x, want 0xF800-class", px>>11, px)
	}
	if (px>>5)&0x3F > 2 || px&0x1F > 1 {
		t.Fatalf("rgb565 stray green/blue bits in %#04x", px)
	}

	if _, err := sd.DecodeFragment(data, 64, 0, FormatBGR565); err != nil {
		t.Fatalf("bgr565 decode: %v", err)
	}
	px = disp.Pixel(32, 8)
	if px&0x1F < 0x1E {
		t.Fatalf("bgr565 red field = %#x in %#04x, want low-bits red", px&0x1F, px)
	}
	if (px>>5)&0x3F > 2 || px>>11 > 1 {
		t.Fatalf("bgr565 stray green/blue bits in %#04x", px)
	}
}

func TestDecodeFragmentHeaderError(t *testing.T) {
	disp := hal.NewMemoryDisplay(240, 280)
	sd := NewStripDecoder(disp, nil)

	_, err := sd.DecodeFragment([]byte("not a jpeg"), 240, 0, FormatRGB565)
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != DecodeErrHeader {
		t.Fatalf("err = %v, want DecodeErrHeader", err)
	}
}

func TestDecodeFragmentWiderThanDeclared(t *testing.T) {
	disp := hal.NewMemoryDisplay(240, 280)
	sd := NewStripDecoder(disp, nil)

	data := encodeSolid(t, 240, 16, color.RGBA{A: 0xFF})
	_, err := sd.DecodeFragment(data, 200, 0, FormatRGB565)
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != DecodeErrHeader {
		t.Fatalf("err = %v, want DecodeErrHeader for width overflow", err)
	}
}

// A cursor placed so the fragment runs off the bottom of the panel must
// produce a hard bounds error, never a silent clamp.
func TestDecodeFragmentOutOfBounds(t *testing.T) {
	disp := hal.NewMemoryDisplay(240, 280)
	sd := NewStripDecoder(disp, nil)

	data := encodeSolid(t, 240, 64, color.RGBA{G: 0xFF, A: 0xFF})
	_, err := sd.DecodeFragment(data, 240, 240, FormatRGB565)
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != DecodeErrBounds {
		t.Fatalf("err = %v, want DecodeErrBounds", err)
	}
}

// Full 240x280 fragment cycle: eight 32px strips and a short 24px tail,
// cursor driven only by decoder-reported heights.
func TestFragmentSequenceScenario(t *testing.T) {
	disp := hal.NewMemoryDisplay(240, 280)
	sd := NewStripDecoder(disp, nil)

	var sess UploadSession
	sess.Begin(240, 280, 9, 10*time.Second)

	heights := []int{32, 32, 32, 32, 32, 32, 32, 32, 24}
	for i, h := range heights {
		data := encodeSolid(t, 240, h, color.RGBA{R: uint8(20 * i), G: 0x40, B: 0x80, A: 0xFF})
		ext, err := sd.DecodeFragment(data, sess.Width, sess.CursorY, FormatBGR565)
		if err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
		if ext.Height != h {
			t.Fatalf("fragment %d reported %dpx, want %d", i, ext.Height, h)
		}
		if err := sess.Advance(ext.Height); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	if sess.CursorY != 280 {
		t.Fatalf("cursor = %d after final fragment, want 280", sess.CursorY)
	}
	if !sess.Active {
		t.Fatal("session must stay active until dismiss or timeout")
	}
}
