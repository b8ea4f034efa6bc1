//go:build !tinygo

// mkflash builds a device flash image: a fully erased NOR image with the
// configuration record written into the first erase block. Point the host
// simulator at it via ENERGYMON_FLASH_PATH, or flash it to the config
// partition of a real device.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/config"
)

const (
	defaultFlashPath = "energymon.flash"
	defaultFlashSize = 64 * 1024
	defaultEraseSize = 4096
)

func main() {
	var (
		outPath    = flag.String("out", defaultFlashPath, "Output flash image path.")
		size       = flag.Uint("size", defaultFlashSize, "Flash image size (bytes).")
		eraseSize  = flag.Uint("erase", defaultEraseSize, "Erase block size (bytes).")
		brightness = flag.Uint("brightness", 100, "Backlight percent 0..100.")
		defTimeout = flag.Uint("default-timeout", 10, "Default image timeout in seconds.")
		maxTimeout = flag.Uint("max-timeout", 86400, "Maximum image timeout in seconds.")
		maxImageKB = flag.Uint("max-image-kb", 100, "Maximum upload payload in KiB.")
		headroomKB = flag.Uint("headroom-kb", 50, "Decode memory headroom in KiB.")
	)
	flag.Parse()

	cfg := config.DeviceConfig{
		Brightness:          uint8(*brightness),
		DefaultImageTimeout: time.Duration(*defTimeout) * time.Second,
		MaxImageTimeout:     time.Duration(*maxTimeout) * time.Second,
		MaxImageBytes:       int(*maxImageKB) * 1024,
		DecodeHeadroomBytes: int(*headroomKB) * 1024,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := run(*outPath, uint32(*size), uint32(*eraseSize), cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s: %d bytes, brightness=%d%%, timeout %ds (max %ds), cap %dKiB + %dKiB headroom\n",
		*outPath, *size, cfg.Brightness, *defTimeout, *maxTimeout, *maxImageKB, *headroomKB)
}

func run(outPath string, flashSize, eraseSize uint32, cfg config.DeviceConfig) error {
	ff, err := openFlashFile(outPath, flashSize, eraseSize)
	if err != nil {
		return err
	}
	defer func() { _ = ff.Close() }()

	if err := config.Save(ff, cfg); err != nil {
		return fmt.Errorf("write config record: %w", err)
	}
	return nil
}

// flashFile is a NOR-semantics image on disk: erased bytes read 0xFF and
// writes may only clear bits. It satisfies hal.Flash.
type flashFile struct {
	f         *os.File
	size      uint32
	eraseSize uint32

	scratch []byte
}

func openFlashFile(path string, size uint32, eraseSize uint32) (*flashFile, error) {
	if eraseSize == 0 || eraseSize%256 != 0 {
		return nil, fmt.Errorf("flash: invalid erase size %d", eraseSize)
	}
	if size == 0 || size%eraseSize != 0 {
		return nil, fmt.Errorf("flash: size %d not multiple of erase size %d", size, eraseSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash file %q: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate flash file %q to %d: %w", path, size, err)
	}

	ff := &flashFile{
		f:         f,
		size:      size,
		eraseSize: eraseSize,
		scratch:   make([]byte, eraseSize),
	}
	for i := range ff.scratch {
		ff.scratch[i] = 0xFF
	}

	if err := ff.Erase(0, size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("erase flash file %q: %w", path, err)
	}

	return ff, nil
}

func (f *flashFile) Close() error { return f.f.Close() }

func (f *flashFile) SizeBytes() uint32       { return f.size }
func (f *flashFile) EraseBlockBytes() uint32 { return f.eraseSize }

func (f *flashFile) ReadAt(p []byte, off uint32) (int, error) {
	if off >= f.size {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	maxN := int(f.size - off)
	if len(p) > maxN {
		p = p[:maxN]
	}
	return f.f.ReadAt(p, int64(off))
}

func (f *flashFile) WriteAt(p []byte, off uint32) (int, error) {
	if off >= f.size {
		return 0, fmt.Errorf("flash write at %d: %w", off, os.ErrInvalid)
	}
	maxN := int(f.size - off)
	if len(p) > maxN {
		p = p[:maxN]
	}

	prev := make([]byte, len(p))
	if _, err := f.f.ReadAt(prev, int64(off)); err != nil {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if prev[i]&p[i] != p[i] {
			return 0, fmt.Errorf("flash write at %d sets erased bits", off+uint32(i))
		}
	}
	return f.f.WriteAt(p, int64(off))
}

func (f *flashFile) Erase(off, size uint32) error {
	if size == 0 {
		return nil
	}
	if off%f.eraseSize != 0 || size%f.eraseSize != 0 {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	if off >= f.size || off+size > f.size {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	for size > 0 {
		if _, err := f.f.WriteAt(f.scratch, int64(off)); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
		off += f.eraseSize
		size -= f.eraseSize
	}
	return nil
}
