package tjpg

import (
	"fmt"
	"math"
)

// Decomp runs the entropy decode and streams decoded bands to the
// session's Output. Prepare must have succeeded first.
func (d *Decoder) Decomp() error {
	if d.s == nil || d.width == 0 {
		return fmt.Errorf("%w: decoder not prepared", ErrFormat)
	}
	for i := range d.comp {
		d.comp[i].dcPred = 0
	}

	mcus := 0
	for my := 0; my < d.mcusY; my++ {
		for mx := 0; mx < d.mcusX; mx++ {
			if d.restartInterval > 0 && mcus > 0 && mcus%d.restartInterval == 0 {
				if err := d.restart(mcus/d.restartInterval - 1); err != nil {
					return err
				}
			}
			if err := d.decodeMCU(); err != nil {
				return err
			}
			if err := d.emitMCU(mx, my); err != nil {
				return err
			}
			mcus++
		}
	}
	return nil
}

func (d *Decoder) decodeMCU() error {
	c0 := &d.comp[0]
	nLuma := c0.h * c0.v
	for b := 0; b < nLuma; b++ {
		if err := d.decodeBlock(c0); err != nil {
			return err
		}
		idct(&d.blk, &d.luma[b])
	}
	if d.ncomp == 3 {
		if err := d.decodeBlock(&d.comp[1]); err != nil {
			return err
		}
		idct(&d.blk, &d.cb)
		if err := d.decodeBlock(&d.comp[2]); err != nil {
			return err
		}
		idct(&d.blk, &d.cr)
	}
	return nil
}

// emitMCU assembles the current MCU into RGB888 and hands it to the
// session, clipped to the frame at the right and bottom edges.
func (d *Decoder) emitMCU(mx, my int) error {
	ox := mx * d.mcuW
	oy := my * d.mcuH
	bw := d.width - ox
	if bw > d.mcuW {
		bw = d.mcuW
	}
	bh := d.height - oy
	if bh > d.mcuH {
		bh = d.mcuH
	}

	c0 := &d.comp[0]
	i := 0
	for py := 0; py < bh; py++ {
		for px := 0; px < bw; px++ {
			lb := (py/8)*c0.h + px/8
			y := d.luma[lb][(py%8)*8+px%8]

			var r, g, b uint8
			if d.ncomp == 3 {
				cx := px / d.hMax
				cy := py / d.vMax
				r, g, b = ycc2rgb(y, d.cb[cy*8+cx], d.cr[cy*8+cx])
			} else {
				r, g, b = y, y, y
			}
			d.band[i] = r
			d.band[i+1] = g
			d.band[i+2] = b
			i += 3
		}
	}

	if !d.s.Output(ox, oy, bw, bh, d.band[:bw*bh*3]) {
		return ErrAborted
	}
	return nil
}

// idctTab[x][u] = C(u)/2 * cos((2x+1)uπ/16); applying it along rows then
// columns yields the full 2-D inverse DCT including the 1/4 scale.
var idctTab [8][8]float32

func init() {
	for x := 0; x < 8; x++ {
		for u := 0; u < 8; u++ {
			cu := 1.0
			if u == 0 {
				cu = math.Sqrt2 / 2
			}
			idctTab[x][u] = float32(cu / 2 * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16))
		}
	}
}

// idct transforms one dequantized block into level-shifted samples.
func idct(in *[64]int32, out *[64]uint8) {
	var tmp [64]float32

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			var s float32
			for u := 0; u < 8; u++ {
				s += idctTab[x][u] * float32(in[y*8+u])
			}
			tmp[y*8+x] = s
		}
	}
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			s := float32(128.5) // level shift plus round-to-nearest
			for v := 0; v < 8; v++ {
				s += idctTab[y][v] * tmp[v*8+x]
			}
			if s < 0 {
				s = 0
			} else if s > 255 {
				s = 255
			}
			out[y*8+x] = uint8(s)
		}
	}
}

func clamp8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ycc2rgb converts one YCbCr sample to RGB888 with the usual JFIF fixed
// point coefficients.
func ycc2rgb(y, cb, cr uint8) (r, g, b uint8) {
	yy := int32(y) << 16
	cb1 := int32(cb) - 128
	cr1 := int32(cr) - 128

	r = clamp8((yy + 91881*cr1 + 1<<15) >> 16)
	g = clamp8((yy - 22554*cb1 - 46802*cr1 + 1<<15) >> 16)
	b = clamp8((yy + 116130*cb1 + 1<<15) >> 16)
	return
}
