package core

import (
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond <= 0 {
		interval = time.Millisecond
	} else {
		interval = time.Second / (time.Duration)(cfg.FramesPerSecond)
	}

	return &Time{
		fps:       cfg.FramesPerSecond,
		fpsTicker: time.NewTicker(interval),
		now:       time.Now,
	}
}

// Time contains the frame ticker and measures the time between frames
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	now  func() time.Time
	last time.Time
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// Delta returns the time since the previous call. The first call
// returns zero.
func (t *Time) Delta() time.Duration {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		return 0
	}
	d := now.Sub(t.last)
	t.last = now
	return d
}

// Stop stops the ticker
func (t *Time) Stop() {
	t.fpsTicker.Stop()
}
