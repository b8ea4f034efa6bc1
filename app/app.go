// Package app is the composition root: it loads config, builds the
// display manager and image API, starts the HTTP server and pumps HAL
// ticks into the render loop.
package app

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/config"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/display"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/imageapi"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

// renderDivider converts 1ms HAL ticks into render-loop steps.
const renderDivider = 16

type Options struct {
	HTTPAddr    string
	DemoMetrics bool
}

type system struct {
	h   hal.HAL
	mgr *display.Manager
	svc *imageapi.Service

	mu  sync.Mutex
	cfg config.DeviceConfig
}

// New initializes the firmware with default options.
func New(h hal.HAL) func() error {
	return NewWithOptions(h, Options{HTTPAddr: ":80"})
}

// Run starts the firmware and blocks forever (TinyGo/native entrypoint).
func Run(h hal.HAL) {
	_ = New(h)
	select {}
}

func NewWithOptions(h hal.HAL, opts Options) func() error {
	_ = newSystem(h, opts)
	return func() error { return nil }
}

func RunWithOptions(h hal.HAL, opts Options) {
	_ = NewWithOptions(h, opts)
	select {}
}

func newSystem(h hal.HAL, opts Options) *system {
	log := h.Logger()
	mgr := display.New(h.Display(), log, time.Now)
	mgr.SetBootStatus("loading config")

	cfg, err := config.Load(h.Flash())
	switch {
	case err == nil:
	case errors.Is(err, config.ErrNotPresent):
		log.WriteLineString("app: no stored config, using defaults")
	default:
		log.WriteLineString(fmt.Sprintf("app: config load failed (%v), using defaults", err))
	}
	_ = mgr.SetBrightness(cfg.Brightness)

	w, hgt := h.Display().Size()
	svc := imageapi.NewService(imageapi.Config{
		PanelWidth:          int(w),
		PanelHeight:         int(hgt),
		MaxImageBytes:       cfg.MaxImageBytes,
		DecodeHeadroomBytes: cfg.DecodeHeadroomBytes,
		DefaultTimeout:      cfg.DefaultImageTimeout,
		MaxTimeout:          cfg.MaxImageTimeout,
	}, mgr, log, h.FreeHeap)

	sys := &system{h: h, mgr: mgr, svc: svc, cfg: cfg}

	mgr.SetBootStatus("starting api")
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	sys.registerSystemRoutes(mux)
	go func() {
		if err := http.ListenAndServe(opts.HTTPAddr, mux); err != nil {
			log.WriteLineString(fmt.Sprintf("app: http server stopped: %v", err))
		}
	}()

	mgr.BootComplete()
	log.WriteLineString(fmt.Sprintf("app: up, panel %dx%d, api on %s", w, hgt, opts.HTTPAddr))

	if opts.DemoMetrics {
		go sys.demoMetrics()
	}

	if ht := h.Time(); ht != nil {
		if ch := ht.Ticks(); ch != nil {
			go func() {
				for seq := range ch {
					if seq%renderDivider != 0 {
						continue
					}
					svc.ProcessPending(mgr.Busy())
					mgr.Tick()
				}
			}()
		}
	}

	return sys
}

// demoMetrics feeds a synthetic solar/grid curve so the host simulator
// has something to show without a real energy meter.
func (s *system) demoMetrics() {
	start := time.Now()
	for {
		t := time.Since(start).Seconds()
		solar := 2.5 + 2.0*math.Sin(t/30)
		if solar < 0 {
			solar = 0
		}
		load := 1.8 + 0.6*math.Sin(t/13+1)
		s.mgr.UpdateMetrics(display.Metrics{
			SolarKW: solar,
			GridKW:  load - solar,
			Updated: time.Now(),
		})
		time.Sleep(2 * time.Second)
	}
}
