// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func TestErrorIs(t *testing.T) {
	c := qt.New(t)

	err := errors.Wrap(&core.Error{Kind: core.InitializationError, Stage: core.StageAdapter}, "bringing up")
	c.Assert(errors.Is(err, core.ErrNoSuitableAdapter), qt.IsTrue)
	c.Assert(errors.Is(err, core.ErrInitialization), qt.IsTrue)
	c.Assert(errors.Is(err, core.ErrDeviceCreationFailed), qt.IsFalse)
	c.Assert(errors.Is(err, core.ErrDeviceLost), qt.IsFalse)

	lost := &core.Error{Kind: core.DeviceLostError, Stage: core.StageSubmit, Code: device.ErrorDeviceLost}
	c.Assert(errors.Is(lost, core.ErrDeviceLost), qt.IsTrue)
	c.Assert(errors.Is(lost, core.ErrFrameLoopFailure), qt.IsFalse)
}

func TestErrorMessage(t *testing.T) {
	c := qt.New(t)
	err := &core.Error{Kind: core.FrameLoopFailure, Stage: core.StagePresent, Code: device.ErrorOutOfHostMemory}
	c.Assert(err.Error(), qt.Equals, "present: frame loop failure: out of host memory")

	err = &core.Error{Kind: core.RecordingError, Stage: core.StageRecord, Err: errors.New("boom")}
	c.Assert(err.Error(), qt.Equals, "record: recording error: boom")
	c.Assert(errors.Cause(err.Unwrap()).Error(), qt.Equals, "boom")
}

func TestExitCode(t *testing.T) {
	c := qt.New(t)
	c.Assert(core.ExitCode(nil), qt.Equals, 0)
	c.Assert(core.ExitCode(core.ErrDeviceLost), qt.Equals, 1)
	c.Assert(core.ExitCode(errors.New("anything")), qt.Equals, 1)
}
