// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"
	"time"

	"github.com/devblok/vkloop/core"
	qt "github.com/frankban/quicktest"
)

func TestTimeUncapped(t *testing.T) {
	c := qt.New(t)
	clock := core.NewTime(core.TimeConfiguration{})
	defer clock.Stop()

	c.Assert(clock.Fps(), qt.Equals, 0)
	c.Assert(clock.FpsTicker(), qt.IsNil)
	c.Assert(clock.EventPollDelay(), qt.Equals, core.DefaultEventPollDelay)
}

func TestTimeCapped(t *testing.T) {
	c := qt.New(t)
	clock := core.NewTime(core.TimeConfiguration{FramesPerSecond: 100, EventPollDelay: 5})
	defer clock.Stop()

	c.Assert(clock.Fps(), qt.Equals, 100)
	c.Assert(clock.FpsTicker(), qt.Not(qt.IsNil))
	c.Assert(clock.EventPollDelay(), qt.Equals, 5*time.Millisecond)

	select {
	case <-clock.FpsTicker().C:
	case <-time.After(time.Second):
		c.Fatal("fps ticker did not tick")
	}
}

func TestTimeEventTicker(t *testing.T) {
	c := qt.New(t)
	clock := core.NewTime(core.TimeConfiguration{EventPollDelay: 1})

	ticker := clock.EventTicker()
	c.Assert(clock.EventTicker(), qt.Equals, ticker)
	select {
	case <-ticker.C:
	case <-time.After(time.Second):
		c.Fatal("event ticker did not tick")
	}
	clock.Stop()
	clock.Stop()
}

func TestFrameTimer(t *testing.T) {
	c := qt.New(t)
	var timer core.FrameTimer
	c.Assert(timer.Tick(), qt.Equals, time.Duration(0))
	time.Sleep(time.Millisecond)
	c.Assert(timer.Tick() > 0, qt.IsTrue)
}
