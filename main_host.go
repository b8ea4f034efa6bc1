//go:build !tinygo && !periph

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

func main() {
	var cfg hal.HeadlessConfig
	var opts app.Options
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.StringVar(&opts.HTTPAddr, "http", ":8080", "Image API listen address.")
	flag.BoolVar(&opts.DemoMetrics, "demo", false, "Feed synthetic energy metrics.")
	flag.Parse()

	newApp := func(h hal.HAL) func() error {
		return app.NewWithOptions(h, opts)
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, cfg); err != nil {
			if err == context.Canceled {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
