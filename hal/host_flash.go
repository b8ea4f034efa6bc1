//go:build !tinygo

package hal

import (
	"errors"
	"io"
	"os"
	"sync"
)

const (
	hostFlashDefaultPath      = "energymon.flash"
	hostFlashDefaultSizeBytes = 64 * 1024
	hostFlashEraseBlockBytes  = 4096
)

var ErrFlashWriteRequiresErase = errors.New("flash write requires erase")

// hostFlash emulates the config flash partition in a file. Bytes erase to
// 0xFF and writes may only clear bits, like the real part.
type hostFlash struct {
	mu   sync.Mutex
	f    *os.File
	size uint32
}

func newHostFlash() *hostFlash {
	path := os.Getenv("ENERGYMON_FLASH_PATH")
	if path == "" {
		path = hostFlashDefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &hostFlash{f: nil}
	}

	size := uint32(hostFlashDefaultSizeBytes)
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		size = uint32(st.Size())
	} else if err := fillErased(f, size); err != nil {
		_ = f.Close()
		return &hostFlash{f: nil}
	}

	return &hostFlash{f: f, size: size}
}

func fillErased(f *os.File, size uint32) error {
	blank := make([]byte, hostFlashEraseBlockBytes)
	for i := range blank {
		blank[i] = 0xFF
	}
	for off := uint32(0); off < size; off += hostFlashEraseBlockBytes {
		if _, err := f.WriteAt(blank, int64(off)); err != nil {
			return err
		}
	}
	return nil
}

func (f *hostFlash) SizeBytes() uint32       { return f.size }
func (f *hostFlash) EraseBlockBytes() uint32 { return hostFlashEraseBlockBytes }

func (f *hostFlash) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, ErrNotImplemented
	}
	if off >= f.size {
		return 0, io.EOF
	}
	return f.f.ReadAt(p, int64(off))
}

func (f *hostFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, ErrNotImplemented
	}
	if off+uint32(len(p)) > f.size {
		return 0, io.ErrShortWrite
	}

	// Emulate NOR semantics: writes can only clear bits.
	cur := make([]byte, len(p))
	if _, err := f.f.ReadAt(cur, int64(off)); err != nil {
		return 0, err
	}
	for i := range p {
		if p[i]&^cur[i] != 0 {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	return f.f.WriteAt(p, int64(off))
}

func (f *hostFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return ErrNotImplemented
	}
	bs := uint32(hostFlashEraseBlockBytes)
	if off%bs != 0 || size%bs != 0 || off+size > f.size {
		return errors.New("unaligned flash erase")
	}
	blank := make([]byte, bs)
	for i := range blank {
		blank[i] = 0xFF
	}
	for b := off; b < off+size; b += bs {
		if _, err := f.f.WriteAt(blank, int64(b)); err != nil {
			return err
		}
	}
	return nil
}
