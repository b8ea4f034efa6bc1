package tjpg

import "fmt"

// huffTable is a canonical Huffman table decoded bit-serially, the way the
// ROM decoders do it: no lookup acceleration, a few hundred bytes per
// table.
type huffTable struct {
	counts [16]uint8 // codes of length 1..16
	vals   [256]uint8

	mincode [16]int32
	maxcode [16]int32 // -1 where no codes of that length exist
	valptr  [16]int32
}

func (t *huffTable) build() {
	code := int32(0)
	k := int32(0)
	for l := 0; l < 16; l++ {
		t.valptr[l] = k
		t.mincode[l] = code
		n := int32(t.counts[l])
		if n == 0 {
			t.maxcode[l] = -1
		} else {
			code += n
			k += n
			t.maxcode[l] = code - 1
		}
		code <<= 1
	}
}

// bit returns the next entropy-coded bit, unstuffing 0xFF00 and latching
// any real marker it runs into.
func (d *Decoder) bit() (int32, error) {
	if d.nbits == 0 {
		if d.marker != 0 {
			return 0, fmt.Errorf("%w: entropy data ends at marker 0xff%02x", ErrFormat, d.marker)
		}
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b == 0xFF {
			b2, err := d.readByte()
			if err != nil {
				return 0, err
			}
			if b2 != 0x00 {
				d.marker = b2
				return 0, fmt.Errorf("%w: entropy data ends at marker 0xff%02x", ErrFormat, b2)
			}
		}
		d.bits = uint32(b)
		d.nbits = 8
	}
	d.nbits--
	return int32(d.bits>>uint(d.nbits)) & 1, nil
}

func (d *Decoder) receive(n int) (int32, error) {
	v := int32(0)
	for i := 0; i < n; i++ {
		b, err := d.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// extend maps an n-bit magnitude to its signed value (JPEG F.12).
func extend(v int32, n int) int32 {
	if n == 0 {
		return 0
	}
	if v < 1<<(n-1) {
		return v - (1 << n) + 1
	}
	return v
}

func (d *Decoder) huffDecode(t *huffTable) (uint8, error) {
	code, err := d.bit()
	if err != nil {
		return 0, err
	}
	for l := 0; l < 16; l++ {
		if t.maxcode[l] >= 0 && code <= t.maxcode[l] {
			return t.vals[t.valptr[l]+code-t.mincode[l]], nil
		}
		b, err := d.bit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | b
	}
	return 0, fmt.Errorf("%w: invalid huffman code", ErrFormat)
}

// decodeBlock entropy-decodes and dequantizes one 8x8 block into d.blk in
// natural order.
func (d *Decoder) decodeBlock(c *component) error {
	qt := &d.qt[c.tq]
	for i := range d.blk {
		d.blk[i] = 0
	}

	// DC.
	s, err := d.huffDecode(&d.huff[0][c.td])
	if err != nil {
		return err
	}
	if s > 11 {
		return fmt.Errorf("%w: DC magnitude %d", ErrFormat, s)
	}
	diff := int32(0)
	if s > 0 {
		v, err := d.receive(int(s))
		if err != nil {
			return err
		}
		diff = extend(v, int(s))
	}
	c.dcPred += diff
	d.blk[0] = c.dcPred * qt[0]

	// AC, run/size coded.
	for k := 1; k < 64; {
		rs, err := d.huffDecode(&d.huff[1][c.ta])
		if err != nil {
			return err
		}
		r, sz := int(rs>>4), int(rs&0x0F)
		if sz == 0 {
			if r != 15 {
				break // EOB
			}
			k += 16 // ZRL
			continue
		}
		k += r
		if k > 63 {
			return fmt.Errorf("%w: AC run past block end", ErrFormat)
		}
		v, err := d.receive(sz)
		if err != nil {
			return err
		}
		d.blk[unzig[k]] = extend(v, sz) * qt[k]
		k++
	}
	return nil
}

// restart consumes an RSTn marker and resets entropy state between
// restart intervals.
func (d *Decoder) restart(n int) error {
	d.nbits = 0
	if d.marker == 0 {
		b0, err := d.readByte()
		if err != nil {
			return err
		}
		b1, err := d.readByte()
		if err != nil {
			return err
		}
		if b0 != 0xFF {
			return fmt.Errorf("%w: expected restart marker", ErrFormat)
		}
		d.marker = b1
	}
	want := byte(0xD0 + n&7)
	if d.marker != want {
		return fmt.Errorf("%w: restart marker 0xff%02x, want 0xff%02x", ErrFormat, d.marker, want)
	}
	d.marker = 0
	for i := range d.comp {
		d.comp[i].dcPred = 0
	}
	return nil
}

// unzig maps zigzag coefficient order to natural block order.
var unzig = [64]uint8{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}
