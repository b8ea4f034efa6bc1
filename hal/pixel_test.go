package hal

import "testing"

func TestPackRGB565(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		want    uint16
	}{
		{255, 0, 0, 0xF800},
		{0, 255, 0, 0x07E0},
		{0, 0, 255, 0x001F},
		{255, 255, 255, 0xFFFF},
		{0, 0, 0, 0x0000},
		// 5-6-5 truncation drops low bits, no rounding.
		{7, 3, 7, 0x0000},
		{8, 4, 8, 0x0821},
	}
	for _, c := range cases {
		if got := PackRGB565(c.r, c.g, c.b); got != c.want {
			t.Fatalf("PackRGB565(%d,%d,%d) = %#04x, want %#04x", c.r, c.g, c.b, got, c.want)
		}
	}
}

func TestPackBGR565(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		want    uint16
	}{
		{255, 0, 0, 0x001F},
		{0, 255, 0, 0x07E0},
		{0, 0, 255, 0xF800},
		{255, 255, 255, 0xFFFF},
	}
	for _, c := range cases {
		if got := PackBGR565(c.r, c.g, c.b); got != c.want {
			t.Fatalf("PackBGR565(%d,%d,%d) = %#04x, want %#04x", c.r, c.g, c.b, got, c.want)
		}
	}
}

func TestPackingsAreChannelSwaps(t *testing.T) {
	for _, px := range []struct{ r, g, b uint8 }{
		{200, 100, 50}, {1, 2, 3}, {255, 0, 128},
	} {
		if PackRGB565(px.r, px.g, px.b) != PackBGR565(px.b, px.g, px.r) {
			t.Fatalf("packings disagree for (%d,%d,%d)", px.r, px.g, px.b)
		}
	}
}
