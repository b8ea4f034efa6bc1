package imageapi

import (
	"fmt"
	"time"
)

// UploadSession tracks one image display cycle: the declared geometry, the
// vertical cursor for fragment uploads, and the viewing timeout. A zero
// session is Idle.
//
// The timeout clock starts at upload completion, not at first decoded
// pixel, so decode latency never eats into the requested viewing time.
type UploadSession struct {
	Width   int
	Height  int
	CursorY int

	// NextIndex is the only fragment index the session will accept next;
	// fragments must arrive in order.
	NextIndex int
	Count     int

	// Timeout of 0 means the image stays up until dismissed.
	Timeout time.Duration
	Start   time.Time

	Active bool
}

// Begin resets the session for a new upload cycle.
func (s *UploadSession) Begin(width, height, count int, timeout time.Duration) {
	*s = UploadSession{
		Width:   width,
		Height:  height,
		Count:   count,
		Timeout: timeout,
		Active:  true,
	}
}

// Advance moves the cursor down by the height a decode actually produced.
// Fragment height is self-describing; the cursor never moves by an
// assumed per-fragment constant.
func (s *UploadSession) Advance(decodedHeight int) error {
	if s.CursorY+decodedHeight > s.Height {
		return fmt.Errorf("cursor %d + fragment %d overruns image height %d", s.CursorY, decodedHeight, s.Height)
	}
	s.CursorY += decodedHeight
	s.NextIndex++
	return nil
}

// Finish marks the upload complete and starts the viewing clock.
func (s *UploadSession) Finish(now time.Time) {
	s.Start = now
}

// Remaining reports how many rows the session still expects.
func (s *UploadSession) Remaining() int { return s.Height - s.CursorY }

// Expired reports whether the viewing timeout has elapsed. A zero timeout
// never expires; that is a sentinel, not a zero-duration timer.
func (s *UploadSession) Expired(now time.Time) bool {
	if !s.Active || s.Timeout == 0 || s.Start.IsZero() {
		return false
	}
	return now.Sub(s.Start) >= s.Timeout
}

// End tears the session down.
func (s *UploadSession) End() {
	*s = UploadSession{}
}
