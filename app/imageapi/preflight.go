package imageapi

import (
	"errors"
	"fmt"
)

// The strip decoder handles only a subset of baseline JPEG. These checks
// scan the header segments and fail fast with a reason a caller can act
// on, instead of letting the decoder chew on data it will mangle. They run
// in O(header) and never touch entropy-coded data.

var errNotJPEG = errors.New("not a JPEG (missing SOI marker)")

// PreflightFull validates a full-frame JPEG against exact panel
// dimensions.
func PreflightFull(data []byte, wantWidth, wantHeight int) error {
	w, h, err := scanHeader(data)
	if err != nil {
		return err
	}
	if w != wantWidth || h != wantHeight {
		return fmt.Errorf("image is %dx%d, panel needs exactly %dx%d", w, h, wantWidth, wantHeight)
	}
	return nil
}

// PreflightFragment validates one fragment: exact width, height within
// both the remaining image extent and the panel.
func PreflightFragment(data []byte, wantWidth, maxHeight, panelMaxHeight int) error {
	w, h, err := scanHeader(data)
	if err != nil {
		return err
	}
	if w != wantWidth {
		return fmt.Errorf("fragment is %dpx wide, expected %dpx", w, wantWidth)
	}
	if h > panelMaxHeight {
		return fmt.Errorf("fragment is %dpx tall, panel is only %dpx", h, panelMaxHeight)
	}
	if h > maxHeight {
		return fmt.Errorf("fragment is %dpx tall, only %dpx remain in the image", h, maxHeight)
	}
	return nil
}

// scanHeader walks marker segments up to the start of scan and rejects
// anything outside the decoder's envelope.
func scanHeader(data []byte) (width, height int, err error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, errNotJPEG
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0, 0, errors.New("corrupt JPEG header (lost marker sync)")
		}
		marker := data[pos+1]
		if marker == 0xFF { // fill byte
			pos++
			continue
		}
		segLen := int(data[pos+2])<<8 | int(data[pos+3])
		if segLen < 2 || pos+2+segLen > len(data) {
			return 0, 0, errors.New("corrupt JPEG header (truncated segment)")
		}
		seg := data[pos+4 : pos+2+segLen]

		switch marker {
		case 0xC0: // baseline SOF
			return scanSOF(seg)
		case 0xC2:
			return 0, 0, errors.New("progressive JPEG not supported (re-encode as baseline)")
		case 0xC4, 0xC8: // DHT / reserved, not frame headers
		case 0xDB:
			// 16-bit quantization tables are outside the envelope.
			if len(seg) > 0 && seg[0]>>4 != 0 {
				return 0, 0, errors.New("16-bit quantization tables not supported")
			}
		case 0xDA:
			return 0, 0, errors.New("corrupt JPEG header (scan before frame header)")
		default:
			if marker >= 0xC1 && marker <= 0xCF {
				return 0, 0, fmt.Errorf("unsupported JPEG encoding (SOF 0x%02x, baseline only)", marker)
			}
		}
		pos += 2 + segLen
	}
	return 0, 0, errors.New("corrupt JPEG header (no frame header found)")
}

func scanSOF(seg []byte) (width, height int, err error) {
	if len(seg) < 6 {
		return 0, 0, errors.New("corrupt JPEG header (truncated frame header)")
	}
	if seg[0] != 8 {
		return 0, 0, fmt.Errorf("%d-bit samples not supported", seg[0])
	}
	height = int(seg[1])<<8 | int(seg[2])
	width = int(seg[3])<<8 | int(seg[4])
	ncomp := int(seg[5])
	if ncomp != 1 && ncomp != 3 {
		return 0, 0, fmt.Errorf("%d-component JPEG not supported", ncomp)
	}
	if len(seg) < 6+3*ncomp {
		return 0, 0, errors.New("corrupt JPEG header (truncated frame header)")
	}

	h0 := int(seg[7] >> 4)
	v0 := int(seg[7] & 0x0F)
	if ncomp == 1 {
		h0, v0 = 1, 1
	}
	lumaOK := (h0 == 1 && v0 == 1) || (h0 == 2 && v0 == 1) || (h0 == 2 && v0 == 2)
	if !lumaOK {
		return 0, 0, fmt.Errorf("chroma subsampling %dx%d not supported (use 4:4:4, 4:2:2 or 4:2:0)", h0, v0)
	}
	for i := 1; i < ncomp; i++ {
		hv := seg[6+3*i+1]
		if hv != 0x11 {
			return 0, 0, fmt.Errorf("chroma sampling factor 0x%02x not supported", hv)
		}
	}
	if width == 0 || height == 0 {
		return 0, 0, errors.New("corrupt JPEG header (zero dimension)")
	}
	return width, height, nil
}
