package tjpg

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// memSession collects decoder output into a full RGB buffer so tests can
// compare pixels against the stdlib decoder.
type memSession struct {
	data []byte
	pos  int

	w, h  int
	out   []uint8
	abort bool
}

func (s *memSession) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, errors.New("out of data")
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *memSession) Output(x, y, w, h int, rgb []byte) bool {
	if s.abort {
		return false
	}
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			px, py := x+col, y+row
			if px >= s.w || py >= s.h {
				continue
			}
			src := (row*w + col) * 3
			dst := (py*s.w + px) * 3
			copy(s.out[dst:dst+3], rgb[src:src+3])
		}
	}
	return true
}

func decodeAll(t *testing.T, data []byte) (*Decoder, *memSession) {
	t.Helper()
	ses := &memSession{data: data}
	var d Decoder
	if err := d.Prepare(ses); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ses.w, ses.h = d.Width(), d.Height()
	ses.out = make([]uint8, ses.w*ses.h*3)
	if err := d.Decomp(); err != nil {
		t.Fatalf("Decomp: %v", err)
	}
	return &d, ses
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// compareWithStdlib decodes data with image/jpeg and checks every pixel
// against our output within tol per channel.
func compareWithStdlib(t *testing.T, data []byte, ses *memSession, tol int) {
	t.Helper()
	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib decode: %v", err)
	}
	worst := 0
	for y := 0; y < ses.h; y++ {
		for x := 0; x < ses.w; x++ {
			r, g, b, _ := ref.At(x, y).RGBA()
			i := (y*ses.w + x) * 3
			for c, want := range []uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)} {
				d := absDiff(ses.out[i+c], want)
				if d > worst {
					worst = d
				}
				if d > tol {
					t.Fatalf("pixel (%d,%d) ch%d: got %d want %d (diff %d > %d)",
						x, y, c, ses.out[i+c], want, d, tol)
				}
			}
		}
	}
	t.Logf("worst per-channel delta: %d", worst)
}

func encodeRGBA(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / (w - 1)),
				G: uint8(y * 255 / (h - 1)),
				B: uint8((x + y) * 255 / (w + h - 2)),
				A: 0xFF,
			})
		}
	}
	return img
}

func TestColorGradient(t *testing.T) {
	data := encodeRGBA(t, gradient(64, 48), 90)
	d, ses := decodeAll(t, data)
	if d.Width() != 64 || d.Height() != 48 {
		t.Fatalf("dimensions %dx%d, want 64x48", d.Width(), d.Height())
	}
	compareWithStdlib(t, data, ses, 8)
}

// Odd dimensions force edge-clipped MCUs on both axes.
func TestOddDimensions(t *testing.T) {
	data := encodeRGBA(t, gradient(37, 29), 85)
	d, ses := decodeAll(t, data)
	if d.Width() != 37 || d.Height() != 29 {
		t.Fatalf("dimensions %dx%d, want 37x29", d.Width(), d.Height())
	}
	compareWithStdlib(t, data, ses, 8)
}

func TestGrayscale(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x*5 + y*3)})
		}
	}
	data := encodeRGBA(t, img, 90)
	_, ses := decodeAll(t, data)
	compareWithStdlib(t, data, ses, 6)
}

func TestSolidColors(t *testing.T) {
	cases := []color.RGBA{
		{R: 0xFF, A: 0xFF},
		{G: 0xFF, A: 0xFF},
		{B: 0xFF, A: 0xFF},
		{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		{A: 0xFF},
	}
	for _, c := range cases {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				img.SetRGBA(x, y, c)
			}
		}
		data := encodeRGBA(t, img, 95)
		_, ses := decodeAll(t, data)
		compareWithStdlib(t, data, ses, 4)
	}
}

func TestProgressiveRejected(t *testing.T) {
	// SOI followed by an SOF2 (progressive) frame header.
	data := []byte{
		0xFF, 0xD8,
		0xFF, 0xC2, 0x00, 0x0B, 0x08, 0x00, 0x10, 0x00, 0x10, 0x01, 0x00, 0x11, 0x00,
	}
	ses := &memSession{data: data}
	var d Decoder
	err := d.Prepare(ses)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Prepare = %v, want ErrUnsupported", err)
	}
}

func TestNotJPEG(t *testing.T) {
	ses := &memSession{data: []byte("GIF89a not a jpeg at all")}
	var d Decoder
	if err := d.Prepare(ses); !errors.Is(err, ErrFormat) {
		t.Fatalf("Prepare = %v, want ErrFormat", err)
	}
}

func TestTruncatedStream(t *testing.T) {
	data := encodeRGBA(t, gradient(64, 48), 90)
	// Cut inside the entropy data, keeping the headers intact.
	sos := bytes.Index(data, []byte{0xFF, 0xDA})
	if sos < 0 {
		t.Fatal("no SOS marker in encoded stream")
	}
	ses := &memSession{data: data[:sos+32]}
	var d Decoder
	if err := d.Prepare(ses); err != nil {
		t.Fatalf("Prepare on truncated stream: %v", err)
	}
	ses.w, ses.h = d.Width(), d.Height()
	ses.out = make([]uint8, ses.w*ses.h*3)
	if err := d.Decomp(); err == nil {
		t.Fatal("Decomp accepted a truncated stream")
	}
}

// streamBuilder assembles baseline streams the stdlib encoder cannot
// produce (restart intervals, 4:2:2 sampling). Quantization is all ones
// and only DC coefficients are coded, so expected pixels are flat blocks.
type streamBuilder struct {
	buf bytes.Buffer
}

func newStreamBuilder() *streamBuilder {
	b := &streamBuilder{}
	b.buf.Write([]byte{0xFF, 0xD8})
	return b
}

func (b *streamBuilder) segment(marker byte, payload ...byte) {
	n := len(payload) + 2
	b.buf.Write([]byte{0xFF, marker, byte(n >> 8), byte(n)})
	b.buf.Write(payload)
}

func (b *streamBuilder) tables() {
	dqt := make([]byte, 65)
	for i := 1; i < 65; i++ {
		dqt[i] = 1
	}
	b.segment(0xDB, dqt...)

	// DC table 0: the Annex K luminance layout, categories 0..11.
	dc := []byte{0x00,
		0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11,
	}
	b.segment(0xC4, dc...)

	// AC table 0: the single code "0" for EOB.
	ac := []byte{0x10,
		1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0x00,
	}
	b.segment(0xC4, ac...)
}

// bitWriter emits entropy-coded bits MSB first with 0xFF00 stuffing.
type bitWriter struct {
	buf *bytes.Buffer
	acc uint32
	n   uint
}

func (w *bitWriter) writeBits(v uint32, n uint) {
	for i := n; i > 0; i-- {
		w.acc = w.acc<<1 | (v>>(i-1))&1
		w.n++
		if w.n == 8 {
			b := byte(w.acc)
			w.buf.WriteByte(b)
			if b == 0xFF {
				w.buf.WriteByte(0x00)
			}
			w.acc, w.n = 0, 0
		}
	}
}

func (w *bitWriter) pad() {
	for w.n != 0 {
		w.writeBits(1, 1)
	}
}

// writeDC codes one DC difference against the Annex K table, then an EOB
// so the block carries no AC.
func writeDC(w *bitWriter, diff int32) {
	mag := diff
	if mag < 0 {
		mag = -mag
	}
	cat := uint(0)
	for mag>>cat != 0 {
		cat++
	}
	codes := [...]struct {
		code uint32
		n    uint
	}{
		{0b00, 2},
		{0b010, 3}, {0b011, 3}, {0b100, 3}, {0b101, 3}, {0b110, 3},
		{0b1110, 4}, {0b11110, 5}, {0b111110, 6},
	}
	w.writeBits(codes[cat].code, codes[cat].n)
	if cat > 0 {
		v := diff
		if v < 0 {
			v += 1<<cat - 1
		}
		w.writeBits(uint32(v), cat)
	}
	w.writeBits(0, 1) // EOB
}

// Two 8x8 grayscale MCUs with DRI=1 and an RST0 between them. The DC
// prediction must reset at the marker: left flat 132, right flat 124.
func TestRestartMarkers(t *testing.T) {
	b := newStreamBuilder()
	b.tables()
	b.segment(0xC0, 0x08, 0x00, 0x08, 0x00, 0x10, 0x01, 0x01, 0x11, 0x00)
	b.segment(0xDD, 0x00, 0x01)
	b.segment(0xDA, 0x01, 0x01, 0x00, 0x00, 0x3F, 0x00)

	w := &bitWriter{buf: &b.buf}
	writeDC(w, 32)
	w.pad()
	b.buf.Write([]byte{0xFF, 0xD0})
	writeDC(w, -32)
	w.pad()
	b.buf.Write([]byte{0xFF, 0xD9})

	data := b.buf.Bytes()
	d, ses := decodeAll(t, data)
	if d.Width() != 16 || d.Height() != 8 {
		t.Fatalf("dimensions %dx%d, want 16x8", d.Width(), d.Height())
	}
	if l, r := ses.out[0], ses.out[8*3]; l <= r {
		t.Fatalf("left %d not brighter than right %d across the restart", l, r)
	}
	compareWithStdlib(t, data, ses, 2)
}

// One 16x8 MCU with 2x1 luma sampling: Y0 Y1 Cb Cr, distinct luma per
// half and a Cr cast shared across the row.
func TestChroma422(t *testing.T) {
	b := newStreamBuilder()
	b.tables()
	b.segment(0xC0, 0x08, 0x00, 0x08, 0x00, 0x10, 0x03,
		0x01, 0x21, 0x00,
		0x02, 0x11, 0x00,
		0x03, 0x11, 0x00)
	b.segment(0xDA, 0x03, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x00, 0x3F, 0x00)

	w := &bitWriter{buf: &b.buf}
	writeDC(w, 32)  // Y0: 132
	writeDC(w, -64) // Y1: predicted from Y0, so 124
	writeDC(w, 0)   // Cb: neutral
	writeDC(w, 32)  // Cr: 132, a warm cast
	w.pad()
	b.buf.Write([]byte{0xFF, 0xD9})

	data := b.buf.Bytes()
	d, ses := decodeAll(t, data)
	if d.Width() != 16 || d.Height() != 8 {
		t.Fatalf("dimensions %dx%d, want 16x8", d.Width(), d.Height())
	}
	if r, g := ses.out[0], ses.out[1]; r <= g {
		t.Fatalf("left pixel r=%d g=%d, want red above green", r, g)
	}
	if l, r := ses.out[1], ses.out[8*3+1]; l <= r {
		t.Fatalf("green %d left, %d right, want a step down at x=8", l, r)
	}
	compareWithStdlib(t, data, ses, 2)
}

func TestOutputAbort(t *testing.T) {
	data := encodeRGBA(t, gradient(32, 32), 90)
	ses := &memSession{data: data, abort: true}
	var d Decoder
	if err := d.Prepare(ses); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ses.w, ses.h = d.Width(), d.Height()
	ses.out = make([]uint8, ses.w*ses.h*3)
	if err := d.Decomp(); !errors.Is(err, ErrAborted) {
		t.Fatalf("Decomp = %v, want ErrAborted", err)
	}
}
