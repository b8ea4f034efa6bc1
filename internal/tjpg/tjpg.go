// Package tjpg is a small baseline JPEG decoder with a bounded, fixed-size
// workspace, modeled on the ROM-class decoders shipped in microcontroller
// masks. It trades generality for a flat memory profile: the whole decode
// state lives in one Decoder value, and output is streamed to the caller
// one MCU band at a time, so peak memory is independent of image height.
//
// Supported: baseline Huffman DCT (SOF0), 8-bit precision, grayscale and
// YCbCr with 4:4:4, 4:2:2 or 4:2:0 sampling, restart markers. Everything
// else (progressive, arithmetic, 12-bit, unusual sampling) is rejected at
// header parse.
//
// Input and output both resolve against a single Session value for the
// duration of one decode call. The decoder interleaves reads and writes,
// so both ends of one decode must belong to the same session.
package tjpg

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInput means the compressed stream ended prematurely.
	ErrInput = errors.New("tjpg: unexpected end of input")
	// ErrFormat means the stream is not a well-formed baseline JPEG.
	ErrFormat = errors.New("tjpg: broken jpeg stream")
	// ErrUnsupported means a valid JPEG uses a feature outside the
	// decoder's envelope.
	ErrUnsupported = errors.New("tjpg: unsupported jpeg feature")
	// ErrAborted means the output callback asked to stop.
	ErrAborted = errors.New("tjpg: output aborted")
)

// Session couples the decoder's input and output sides for one decode
// call. The decoder pulls compressed bytes through Read and pushes decoded
// bands through Output against the same value.
type Session interface {
	io.Reader

	// Output receives one decoded band: a w×h rectangle of RGB888
	// pixels (3 bytes per pixel, row-major) positioned at (x, y) in
	// image coordinates. Returning false aborts the decode.
	Output(x, y, w, h int, rgb []byte) bool
}

const (
	maxLumaBlocks = 4 // 2x2 sampling
	bandMax       = 16 * 16 * 3
)

type component struct {
	id     uint8
	h, v   int
	tq     uint8 // quant table
	td, ta uint8 // DC/AC huffman tables, from SOS
	dcPred int32
}

// Decoder holds the complete decode workspace. Its size does not depend on
// the image; only the caller's line handling scales with width.
type Decoder struct {
	s Session

	width  int
	height int
	ncomp  int
	comp   [3]component

	hMax, vMax   int
	mcuW, mcuH   int
	mcusX, mcusY int

	// Dequant tables in zigzag order, as stored in the stream.
	qt      [4][64]int32
	qtValid [4]bool

	huff      [2][2]huffTable // [class][id], class 0 = DC
	huffValid [2][2]bool

	restartInterval int

	// Buffered input.
	inBuf  [64]byte
	inPos  int
	inLen  int
	marker byte // pending marker seen by the entropy reader

	// Bit reader.
	bits  uint32
	nbits int

	// Per-MCU workspace.
	blk  [64]int32
	luma [maxLumaBlocks][64]uint8
	cb   [64]uint8
	cr   [64]uint8
	band [bandMax]uint8
}

// Width reports the frame width. Valid after Prepare.
func (d *Decoder) Width() int { return d.width }

// Height reports the frame height. Valid after Prepare.
func (d *Decoder) Height() int { return d.height }

// Prepare reads the stream headers up to the start of scan and builds the
// decode tables. The session stays attached until Decomp finishes.
func (d *Decoder) Prepare(s Session) error {
	d.s = s
	d.inPos, d.inLen = 0, 0
	d.marker = 0
	d.nbits = 0
	d.restartInterval = 0
	for i := range d.qtValid {
		d.qtValid[i] = false
	}
	for c := range d.huffValid {
		for i := range d.huffValid[c] {
			d.huffValid[c][i] = false
		}
	}

	b0, err := d.readByte()
	if err != nil {
		return err
	}
	b1, err := d.readByte()
	if err != nil {
		return err
	}
	if b0 != 0xFF || b1 != 0xD8 {
		return fmt.Errorf("%w: missing SOI", ErrFormat)
	}

	sawSOF := false
	for {
		m, err := d.nextMarker()
		if err != nil {
			return err
		}
		switch {
		case m == mSOF0:
			if sawSOF {
				return fmt.Errorf("%w: multiple frames", ErrFormat)
			}
			if err := d.parseSOF(); err != nil {
				return err
			}
			sawSOF = true
		case m == mSOF2:
			return fmt.Errorf("%w: progressive encoding", ErrUnsupported)
		case m >= 0xC1 && m <= 0xCF && m != mDHT && m != 0xC8:
			return fmt.Errorf("%w: frame type 0x%02x", ErrUnsupported, m)
		case m == mDQT:
			if err := d.parseDQT(); err != nil {
				return err
			}
		case m == mDHT:
			if err := d.parseDHT(); err != nil {
				return err
			}
		case m == mDRI:
			if err := d.parseDRI(); err != nil {
				return err
			}
		case m == mSOS:
			if !sawSOF {
				return fmt.Errorf("%w: scan before frame header", ErrFormat)
			}
			return d.parseSOS()
		case m == mEOI:
			return fmt.Errorf("%w: no scan data", ErrFormat)
		default:
			// APPn, COM and anything else we don't care about.
			if err := d.skipSegment(); err != nil {
				return err
			}
		}
	}
}

const (
	mSOF0 = 0xC0
	mSOF2 = 0xC2
	mDHT  = 0xC4
	mSOS  = 0xDA
	mDQT  = 0xDB
	mDRI  = 0xDD
	mEOI  = 0xD9
)

func (d *Decoder) readByte() (byte, error) {
	if d.inPos >= d.inLen {
		n, err := d.s.Read(d.inBuf[:])
		if n <= 0 {
			if err == nil || err == io.EOF {
				return 0, ErrInput
			}
			return 0, fmt.Errorf("%w: %v", ErrInput, err)
		}
		d.inPos, d.inLen = 0, n
	}
	b := d.inBuf[d.inPos]
	d.inPos++
	return b, nil
}

func (d *Decoder) readUint16() (int, error) {
	hi, err := d.readByte()
	if err != nil {
		return 0, err
	}
	lo, err := d.readByte()
	if err != nil {
		return 0, err
	}
	return int(hi)<<8 | int(lo), nil
}

// nextMarker scans to the next marker code, tolerating fill bytes.
func (d *Decoder) nextMarker() (byte, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, fmt.Errorf("%w: expected marker, got 0x%02x", ErrFormat, b)
	}
	for {
		b, err = d.readByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			return b, nil
		}
	}
}

// segLen reads a segment length and returns the payload byte count.
func (d *Decoder) segLen() (int, error) {
	n, err := d.readUint16()
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, fmt.Errorf("%w: bad segment length %d", ErrFormat, n)
	}
	return n - 2, nil
}

func (d *Decoder) skipSegment() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.readByte(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) parseDQT() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	for n > 0 {
		pqTq, err := d.readByte()
		if err != nil {
			return err
		}
		n--
		if pqTq>>4 != 0 {
			return fmt.Errorf("%w: 16-bit quantization table", ErrUnsupported)
		}
		id := pqTq & 0x0F
		if id > 3 {
			return fmt.Errorf("%w: quant table id %d", ErrFormat, id)
		}
		if n < 64 {
			return fmt.Errorf("%w: truncated DQT", ErrFormat)
		}
		for i := 0; i < 64; i++ {
			q, err := d.readByte()
			if err != nil {
				return err
			}
			d.qt[id][i] = int32(q)
		}
		n -= 64
		d.qtValid[id] = true
	}
	return nil
}

func (d *Decoder) parseDHT() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	for n > 0 {
		tcTh, err := d.readByte()
		if err != nil {
			return err
		}
		n--
		class := tcTh >> 4
		id := tcTh & 0x0F
		if class > 1 || id > 1 {
			return fmt.Errorf("%w: huffman table %d/%d", ErrUnsupported, class, id)
		}
		t := &d.huff[class][id]
		if n < 16 {
			return fmt.Errorf("%w: truncated DHT", ErrFormat)
		}
		total := 0
		for i := 0; i < 16; i++ {
			c, err := d.readByte()
			if err != nil {
				return err
			}
			t.counts[i] = c
			total += int(c)
		}
		n -= 16
		if total > len(t.vals) || n < total {
			return fmt.Errorf("%w: oversized DHT", ErrFormat)
		}
		for i := 0; i < total; i++ {
			v, err := d.readByte()
			if err != nil {
				return err
			}
			t.vals[i] = v
		}
		n -= total
		t.build()
		d.huffValid[class][id] = true
	}
	return nil
}

func (d *Decoder) parseDRI() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("%w: bad DRI length", ErrFormat)
	}
	ri, err := d.readUint16()
	if err != nil {
		return err
	}
	d.restartInterval = ri
	return nil
}

func (d *Decoder) parseSOF() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	if n < 6 {
		return fmt.Errorf("%w: truncated SOF", ErrFormat)
	}
	prec, err := d.readByte()
	if err != nil {
		return err
	}
	if prec != 8 {
		return fmt.Errorf("%w: %d-bit precision", ErrUnsupported, prec)
	}
	if d.height, err = d.readUint16(); err != nil {
		return err
	}
	if d.width, err = d.readUint16(); err != nil {
		return err
	}
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("%w: zero frame dimension", ErrFormat)
	}
	nc, err := d.readByte()
	if err != nil {
		return err
	}
	if nc != 1 && nc != 3 {
		return fmt.Errorf("%w: %d components", ErrUnsupported, nc)
	}
	d.ncomp = int(nc)
	if n != 6+3*d.ncomp {
		return fmt.Errorf("%w: bad SOF length", ErrFormat)
	}

	for i := 0; i < d.ncomp; i++ {
		id, err := d.readByte()
		if err != nil {
			return err
		}
		hv, err := d.readByte()
		if err != nil {
			return err
		}
		tq, err := d.readByte()
		if err != nil {
			return err
		}
		if tq > 3 {
			return fmt.Errorf("%w: quant table id %d", ErrFormat, tq)
		}
		d.comp[i] = component{id: id, h: int(hv >> 4), v: int(hv & 0x0F), tq: tq}
	}

	// Sampling envelope: luma 1x1, 2x1 or 2x2; chroma always 1x1.
	c0 := &d.comp[0]
	if d.ncomp == 1 {
		c0.h, c0.v = 1, 1
	}
	ok := (c0.h == 1 && c0.v == 1) || (c0.h == 2 && c0.v == 1) || (c0.h == 2 && c0.v == 2)
	if !ok {
		return fmt.Errorf("%w: luma sampling %dx%d", ErrUnsupported, c0.h, c0.v)
	}
	for i := 1; i < d.ncomp; i++ {
		if d.comp[i].h != 1 || d.comp[i].v != 1 {
			return fmt.Errorf("%w: chroma sampling %dx%d", ErrUnsupported, d.comp[i].h, d.comp[i].v)
		}
	}

	d.hMax, d.vMax = c0.h, c0.v
	d.mcuW, d.mcuH = d.hMax*8, d.vMax*8
	d.mcusX = (d.width + d.mcuW - 1) / d.mcuW
	d.mcusY = (d.height + d.mcuH - 1) / d.mcuH
	return nil
}

func (d *Decoder) parseSOS() error {
	n, err := d.segLen()
	if err != nil {
		return err
	}
	ns, err := d.readByte()
	if err != nil {
		return err
	}
	if int(ns) != d.ncomp {
		return fmt.Errorf("%w: %d scan components", ErrUnsupported, ns)
	}
	if n != 1+2*d.ncomp+3 {
		return fmt.Errorf("%w: bad SOS length", ErrFormat)
	}
	for i := 0; i < d.ncomp; i++ {
		cs, err := d.readByte()
		if err != nil {
			return err
		}
		if cs != d.comp[i].id {
			return fmt.Errorf("%w: scan component order", ErrUnsupported)
		}
		tdTa, err := d.readByte()
		if err != nil {
			return err
		}
		td, ta := tdTa>>4, tdTa&0x0F
		if td > 1 || ta > 1 {
			return fmt.Errorf("%w: huffman table id %d/%d", ErrUnsupported, td, ta)
		}
		if !d.huffValid[0][td] || !d.huffValid[1][ta] {
			return fmt.Errorf("%w: scan references missing huffman table", ErrFormat)
		}
		if !d.qtValid[d.comp[i].tq] {
			return fmt.Errorf("%w: scan references missing quant table", ErrFormat)
		}
		d.comp[i].td, d.comp[i].ta = td, ta
	}
	// Ss, Se, Ah/Al: fixed for baseline.
	ss, err := d.readByte()
	if err != nil {
		return err
	}
	se, err := d.readByte()
	if err != nil {
		return err
	}
	ahAl, err := d.readByte()
	if err != nil {
		return err
	}
	if ss != 0 || se != 63 || ahAl != 0 {
		return fmt.Errorf("%w: spectral selection", ErrUnsupported)
	}
	return nil
}
