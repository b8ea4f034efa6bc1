package display

import (
	"fmt"
	"image/color"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freemono"
	"tinygo.org/x/tinyfont/freesans"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/internal/buildinfo"
)

var (
	colText   = color.RGBA{R: 0xE8, G: 0xE8, B: 0xE8, A: 0xFF}
	colDim    = color.RGBA{R: 0x90, G: 0x98, B: 0xA8, A: 0xFF}
	colAccent = color.RGBA{R: 0x38, G: 0xC8, B: 0x60, A: 0xFF}
	colImport = color.RGBA{R: 0xE0, G: 0x60, B: 0x40, A: 0xFF}
)

// Callers hold m.mu.
func (m *Manager) drawSplash() {
	m.disp.FillScreen(color.RGBA{A: 0xFF})
	tinyfont.WriteLine(m.disp, &freesans.Bold12pt7b, 28, 110, "EnergyMon", colText)
	tinyfont.WriteLine(m.disp, &freemono.Regular9pt7b, 28, 140, buildinfo.Short(), colDim)
	if m.bootStatus != "" {
		tinyfont.WriteLine(m.disp, &freemono.Regular9pt7b, 28, 200, m.bootStatus, colDim)
	}
}

func (m *Manager) drawMetrics() {
	m.disp.FillScreen(color.RGBA{A: 0xFF})

	tinyfont.WriteLine(m.disp, &freemono.Regular9pt7b, 16, 40, "SOLAR", colDim)
	tinyfont.WriteLine(m.disp, &freesans.Bold18pt7b, 16, 84, kwText(m.metrics.SolarKW), colAccent)

	gridCol := colAccent
	if m.metrics.GridKW > 0 { // importing from the grid
		gridCol = colImport
	}
	tinyfont.WriteLine(m.disp, &freemono.Regular9pt7b, 16, 150, "GRID", colDim)
	tinyfont.WriteLine(m.disp, &freesans.Bold18pt7b, 16, 194, kwText(m.metrics.GridKW), gridCol)

	if !m.metrics.Updated.IsZero() {
		stamp := m.metrics.Updated.Format("15:04:05")
		tinyfont.WriteLine(m.disp, &freemono.Regular9pt7b, 16, 258, stamp, colDim)
	}
}

func kwText(kw float64) string {
	return fmt.Sprintf("%.2f kW", kw)
}
