//go:build tinygo

package main

import (
	"github.com/jantielens/esp32-energymon-169lcd-sub000/app"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

func main() {
	app.Run(hal.New())
}
