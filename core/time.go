// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"time"

	"github.com/loov/hrtime"
)

// DefaultEventPollDelay is used when the configuration sets no delay.
const DefaultEventPollDelay = 10 * time.Millisecond

// NewTime creates a new time service. The fps ticker only exists when
// the frame rate is capped.
func NewTime(cfg TimeConfiguration) *Time {
	t := &Time{
		fps:            cfg.FramesPerSecond,
		eventPollDelay: time.Duration(cfg.EventPollDelay) * time.Millisecond,
	}
	if t.eventPollDelay <= 0 {
		t.eventPollDelay = DefaultEventPollDelay
	}
	if cfg.FramesPerSecond > 0 {
		t.fpsTicker = time.NewTicker(time.Second / time.Duration(cfg.FramesPerSecond))
	}
	return t
}

// Time contains all the time services and tickers
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay time.Duration

	mu          sync.Mutex
	eventTicker *time.Ticker
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the fps ticker, nil when the frame rate is not capped.
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventPollDelay is the interval between window event polls.
func (t *Time) EventPollDelay() time.Duration {
	return t.eventPollDelay
}

// EventTicker gets the ticker for the event loop, started on first use.
func (t *Time) EventTicker() *time.Ticker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eventTicker == nil {
		t.eventTicker = time.NewTicker(t.eventPollDelay)
	}
	return t.eventTicker
}

// Stop stops both tickers
func (t *Time) Stop() {
	if t.fpsTicker != nil {
		t.fpsTicker.Stop()
	}
	t.mu.Lock()
	if t.eventTicker != nil {
		t.eventTicker.Stop()
	}
	t.mu.Unlock()
}

// FrameTimer measures time between frames with the high resolution clock.
type FrameTimer struct {
	last    time.Duration
	started bool
}

// Tick returns the time since the previous Tick, zero on the first call.
func (f *FrameTimer) Tick() time.Duration {
	now := hrtime.Now()
	if !f.started {
		f.started = true
		f.last = now
		return 0
	}
	dt := now - f.last
	f.last = now
	return dt
}
