package hal

// PackRGB565 packs 8-bit channels as rrrrrggggggbbbbb. Channels are
// truncated to the panel bit depth by right-shift, no rounding.
func PackRGB565(r, g, b uint8) uint16 {
	return uint16(r&0xF8)<<8 | uint16(g&0xFC)<<3 | uint16(b)>>3
}

// PackBGR565 packs 8-bit channels as bbbbbggggggrrrrr, the ST7789V2's
// native channel order.
func PackBGR565(r, g, b uint8) uint16 {
	return uint16(b&0xF8)<<8 | uint16(g&0xFC)<<3 | uint16(r)>>3
}

// RGB888From565 expands an RGB565 pixel back to 8-bit channels.
func RGB888From565(p uint16) (r, g, b uint8) {
	rr := (p >> 11) & 0x1F
	gg := (p >> 5) & 0x3F
	bb := p & 0x1F

	r = uint8((rr * 255) / 31)
	g = uint8((gg * 255) / 63)
	b = uint8((bb * 255) / 31)
	return r, g, b
}
