// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

// Kind classifies failures by how the caller must react to them.
type Kind int

// Failure kinds
const (
	// InitializationError is fatal and happens before the first frame.
	InitializationError Kind = iota + 1

	// SurfaceTransient covers out of date, suboptimal and zero sized
	// surfaces. It is resolved by swapchain recreation and never
	// returned from the frame loop.
	SurfaceTransient

	// RecordingError means a command buffer could not be recorded.
	RecordingError

	// DeviceLostError is unrecoverable.
	DeviceLostError

	// FrameLoopFailure is any other native failure during a frame.
	FrameLoopFailure
)

func (k Kind) String() string {
	switch k {
	case InitializationError:
		return "initialization error"
	case SurfaceTransient:
		return "transient surface condition"
	case RecordingError:
		return "recording error"
	case DeviceLostError:
		return "device lost"
	case FrameLoopFailure:
		return "frame loop failure"
	}
	return "unknown error"
}

// Stages where errors originate
const (
	StageAdapter   = "adapter selection"
	StageDevice    = "device creation"
	StageSurface   = "surface"
	StagePipeline  = "pipeline build"
	StageResources = "resource creation"
	StageRecord    = "record"
	StageFence     = "fence wait"
	StageAcquire   = "acquire"
	StageSubmit    = "submit"
	StagePresent   = "present"
	StageRecreate  = "swapchain recreation"
)

// Error is the error type returned by every component of the package.
type Error struct {
	Kind  Kind
	Stage string
	Code  device.Result
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	} else if e.Code != device.Success {
		msg = fmt.Sprintf("%s: %s", msg, e.Code.String())
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors. A sentinel with an empty Stage
// matches every stage of its Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Sentinels for errors.Is
var (
	ErrNoSuitableAdapter    = &Error{Kind: InitializationError, Stage: StageAdapter}
	ErrDeviceCreationFailed = &Error{Kind: InitializationError, Stage: StageDevice}
	ErrSurfaceIncompatible  = &Error{Kind: InitializationError, Stage: StageSurface}
	ErrPipelineBuildFailed  = &Error{Kind: InitializationError, Stage: StagePipeline}
	ErrInitialization       = &Error{Kind: InitializationError}
	ErrRecording            = &Error{Kind: RecordingError}
	ErrDeviceLost           = &Error{Kind: DeviceLostError}
	ErrFrameLoopFailure     = &Error{Kind: FrameLoopFailure}
)

// errSurfaceZeroExtent is returned by recreation while the surface has no area.
var errSurfaceZeroExtent = &Error{Kind: SurfaceTransient, Stage: StageSurface, Err: errors.New("surface has zero extent")}

func newError(kind Kind, stage string, err error) *Error {
	e := &Error{
		Kind:  kind,
		Stage: stage,
		Err:   err,
	}
	var res device.Result
	if errors.As(err, &res) {
		e.Code = res
		if res == device.ErrorDeviceLost {
			e.Kind = DeviceLostError
		}
	}
	return e
}

// frameError classifies a native result returned during a frame.
func frameError(stage string, res device.Result) *Error {
	kind := FrameLoopFailure
	if res == device.ErrorDeviceLost {
		kind = DeviceLostError
	}
	return &Error{
		Kind:  kind,
		Stage: stage,
		Code:  res,
	}
}

// ExitCode maps an error returned from the run loop to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
