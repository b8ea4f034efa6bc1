// Package config holds device settings and persists them in the first
// flash erase block as a fixed-layout record.
package config

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"time"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/hal"
)

// Magic bytes "EMC1"
const Magic = 0x31434D45 // E=0x45, M=0x4D, C=0x43, 1=0x31, little-endian

const Version = 1

// recordSize is the serialized footprint: magic(4) version(2) pad(2)
// brightness(1) pad(3) defaultTimeout(4) maxTimeout(4) maxImage(4)
// headroom(4) crc(4).
const recordSize = 32

var (
	ErrNotPresent = errors.New("config: no record in flash")
	ErrCorrupt    = errors.New("config: record failed checksum")
)

// DeviceConfig is the runtime device configuration. Timeouts are viewing
// timeouts for uploaded images; zero means an image stays until
// dismissed.
type DeviceConfig struct {
	Brightness uint8

	DefaultImageTimeout time.Duration
	MaxImageTimeout     time.Duration

	MaxImageBytes       int
	DecodeHeadroomBytes int
}

// Default returns the factory configuration.
func Default() DeviceConfig {
	return DeviceConfig{
		Brightness:          100,
		DefaultImageTimeout: 10 * time.Second,
		MaxImageTimeout:     24 * time.Hour,
		MaxImageBytes:       100 * 1024,
		DecodeHeadroomBytes: 50 * 1024,
	}
}

// Validate checks the ranges a record must satisfy before use.
func (c DeviceConfig) Validate() error {
	if c.Brightness > 100 {
		return errors.New("config: brightness out of range")
	}
	if c.DefaultImageTimeout < 0 || c.MaxImageTimeout < 0 {
		return errors.New("config: negative timeout")
	}
	if c.DefaultImageTimeout > c.MaxImageTimeout {
		return errors.New("config: default timeout exceeds maximum")
	}
	if c.MaxImageBytes <= 0 || c.DecodeHeadroomBytes < 0 {
		return errors.New("config: invalid memory limits")
	}
	return nil
}

func (c DeviceConfig) marshal() []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	buf[8] = c.Brightness
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.DefaultImageTimeout/time.Second))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(c.MaxImageTimeout/time.Second))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(c.MaxImageBytes))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.DecodeHeadroomBytes))
	crc := crc32.ChecksumIEEE(buf[:recordSize-4])
	binary.LittleEndian.PutUint32(buf[recordSize-4:], crc)
	return buf
}

func unmarshal(buf []byte) (DeviceConfig, error) {
	var c DeviceConfig
	if len(buf) < recordSize {
		return c, ErrNotPresent
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		// An erased block reads back all 0xFF; treat both that and
		// foreign data as absence, not corruption.
		return c, ErrNotPresent
	}
	want := binary.LittleEndian.Uint32(buf[recordSize-4:])
	if crc32.ChecksumIEEE(buf[:recordSize-4]) != want {
		return c, ErrCorrupt
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != Version {
		return c, ErrCorrupt
	}
	c.Brightness = buf[8]
	c.DefaultImageTimeout = time.Duration(binary.LittleEndian.Uint32(buf[12:16])) * time.Second
	c.MaxImageTimeout = time.Duration(binary.LittleEndian.Uint32(buf[16:20])) * time.Second
	c.MaxImageBytes = int(binary.LittleEndian.Uint32(buf[20:24]))
	c.DecodeHeadroomBytes = int(binary.LittleEndian.Uint32(buf[24:28]))
	if err := c.Validate(); err != nil {
		return c, ErrCorrupt
	}
	return c, nil
}

// Load reads the config record from flash. A missing or damaged record
// yields the defaults along with the sentinel explaining why.
func Load(f hal.Flash) (DeviceConfig, error) {
	buf := make([]byte, recordSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Default(), err
	}
	c, err := unmarshal(buf)
	if err != nil {
		return Default(), err
	}
	return c, nil
}

// Save writes the config record to the first erase block. The block is
// erased first so the NOR write succeeds regardless of prior contents.
func Save(f hal.Flash, c DeviceConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := f.Erase(0, f.EraseBlockBytes()); err != nil {
		return err
	}
	_, err := f.WriteAt(c.marshal(), 0)
	return err
}
