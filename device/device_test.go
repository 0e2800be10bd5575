// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"testing"

	"github.com/devblok/vkloop/device"
	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func TestParsePresentMode(t *testing.T) {
	c := qt.New(t)
	for name, want := range map[string]device.PresentMode{
		"fifo":      device.PresentModeFifo,
		"FIFO":      device.PresentModeFifo,
		"mailbox":   device.PresentModeMailbox,
		" immediate": device.PresentModeImmediate,
	} {
		got, err := device.ParsePresentMode(name)
		c.Assert(err, qt.IsNil, qt.Commentf("%q", name))
		c.Assert(got, qt.Equals, want)
	}

	_, err := device.ParsePresentMode("triple")
	c.Assert(err, qt.ErrorMatches, `unknown present mode "triple".*`)
}

func TestPresentModeStringRoundTrip(t *testing.T) {
	c := qt.New(t)
	for _, mode := range []device.PresentMode{device.PresentModeFifo, device.PresentModeMailbox, device.PresentModeImmediate} {
		parsed, err := device.ParsePresentMode(mode.String())
		c.Assert(err, qt.IsNil)
		c.Assert(parsed, qt.Equals, mode)
	}
}

func TestExtentClamp(t *testing.T) {
	c := qt.New(t)
	min := device.Extent{Width: 64, Height: 64}
	max := device.Extent{Width: 1920, Height: 1080}

	c.Assert(device.Extent{Width: 800, Height: 600}.Clamp(min, max), qt.Equals, device.Extent{Width: 800, Height: 600})
	c.Assert(device.Extent{Width: 4000, Height: 10}.Clamp(min, max), qt.Equals, device.Extent{Width: 1920, Height: 64})
	c.Assert(device.Extent{Width: 0, Height: 600}.IsZero(), qt.IsTrue)
	c.Assert(device.Extent{Width: 1, Height: 1}.IsZero(), qt.IsFalse)
}

func TestResultError(t *testing.T) {
	c := qt.New(t)
	c.Assert(device.Success.Err(), qt.IsNil)

	err := errors.Wrap(device.ErrorDeviceLost.Err(), "queue submit")
	var res device.Result
	c.Assert(errors.As(err, &res), qt.IsTrue)
	c.Assert(res, qt.Equals, device.ErrorDeviceLost)
	c.Assert(err.Error(), qt.Equals, "queue submit: device: device lost")
	c.Assert(device.Suboptimal.IsError(), qt.IsFalse)
	c.Assert(device.ErrorOutOfDate.IsError(), qt.IsTrue)
}

func TestQueueFlags(t *testing.T) {
	c := qt.New(t)
	flags := device.QueueGraphics | device.QueueTransfer
	c.Assert(flags.Has(device.QueueGraphics), qt.IsTrue)
	c.Assert(flags.Has(device.QueueGraphics|device.QueueCompute), qt.IsFalse)
}
