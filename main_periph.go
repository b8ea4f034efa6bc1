//go:build !tinygo && periph

package main

import (
	"flag"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

func main() {
	var opts app.Options
	flag.StringVar(&opts.HTTPAddr, "http", ":80", "Image API listen address.")
	flag.BoolVar(&opts.DemoMetrics, "demo", false, "Feed synthetic energy metrics.")
	flag.Parse()

	app.RunWithOptions(hal.New(), opts)
}
