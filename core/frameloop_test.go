// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/headless"
	"github.com/devblok/vkloop/model"
	"github.com/devblok/vkloop/shader"
	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func TestFramesWithoutEvents(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.drawFrames(10)
	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(10))
	c.Assert(stats.Recreations, qt.Equals, uint64(0))
	c.Assert(stats.Skipped, qt.Equals, uint64(0))
	c.Assert(f.driver.Stats().Presents, qt.Equals, 10)
	c.Assert(f.driver.Stats().Submits, qt.Equals, 10)
}

// The scenario from the run command: two frames in flight, fifo,
// the window is resized at frame 10 and rendering goes on to frame 20.
func TestResizeDuringRun(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	target := device.Extent{Width: 1024, Height: 768}
	for i := 0; i < 20; i++ {
		if i == 10 {
			f.window.Resize(target)
			f.renderer.NotifyResize()
		}
		c.Assert(f.draw(), qt.IsNil, qt.Commentf("frame %d", i))
	}

	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(20))
	c.Assert(stats.Recreations, qt.Equals, uint64(1))
	c.Assert(f.renderer.Swapchain().Extent, qt.Equals, target)
	c.Assert(f.driver.Violations(), qt.HasLen, 0)
}

// A resize the window system reports only through out of date results
// is handled the same way as a notified one.
func TestResizeWithoutNotification(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.drawFrames(3)
	target := device.Extent{Width: 640, Height: 480}
	f.window.Resize(target)
	f.drawFrames(2)

	c.Assert(f.renderer.Stats().Recreations, qt.Equals, uint64(1))
	c.Assert(f.renderer.Stats().Frames, qt.Equals, uint64(5))
	c.Assert(f.renderer.Swapchain().Extent, qt.Equals, target)
}

func TestInFlightBound(t *testing.T) {
	c := qt.New(t)
	for _, frames := range []int{1, 2, 3} {
		c.Run(fmt.Sprintf("%d frames", frames), func(c *qt.C) {
			f := newFixture(c, quietOptions(), func(cfg *core.Configuration) {
				cfg.Renderer.InFlightFrames = frames
			})
			defer f.close()

			f.drawFrames(4 * frames)
			f.window.Resize(device.Extent{Width: 1000, Height: 500})
			f.drawFrames(4 * frames)

			c.Assert(f.driver.Stats().MaxPending <= frames, qt.IsTrue, qt.Commentf("max pending %d", f.driver.Stats().MaxPending))
			c.Assert(f.renderer.Stats().MaxInFlight <= frames, qt.IsTrue)
			c.Assert(f.renderer.Stats().MaxInFlight, qt.Equals, frames)
		})
	}
}

func TestAcquireOutOfDate(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.drawFrames(2)
	f.driver.Inject(headless.OpAcquire, device.ErrorOutOfDate)
	f.drawFrames(1)

	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(3))
	c.Assert(stats.Recreations, qt.Equals, uint64(1))
	c.Assert(stats.Skipped, qt.Equals, uint64(0))
}

func TestAcquireKeepsGoingOutOfDate(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	for i := 0; i < 4; i++ {
		f.driver.Inject(headless.OpAcquire, device.ErrorOutOfDate)
	}
	c.Assert(f.draw(), qt.IsNil)
	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(0))
	c.Assert(stats.Skipped, qt.Equals, uint64(1))

	f.drawFrames(1)
	c.Assert(f.renderer.Stats().Frames, qt.Equals, uint64(1))
}

func TestAcquireSuboptimal(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpAcquire, device.Suboptimal)
	f.drawFrames(1)

	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(1))
	c.Assert(stats.Recreations, qt.Equals, uint64(1))
	c.Assert(f.driver.Stats().Presents, qt.Equals, 1)
}

func TestPresentOutOfDate(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpPresent, device.ErrorOutOfDate)
	f.drawFrames(3)

	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(3))
	c.Assert(stats.Recreations, qt.Equals, uint64(1))
}

func TestSurfaceLostOnce(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpAcquire, device.ErrorSurfaceLost)
	f.drawFrames(1)
	f.driver.Inject(headless.OpAcquire, device.ErrorSurfaceLost)
	f.drawFrames(1)

	c.Assert(f.renderer.Stats().Recreations, qt.Equals, uint64(2))
}

func TestSurfaceLostTwiceIsFatal(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpAcquire, device.ErrorSurfaceLost)
	f.driver.Inject(headless.OpAcquire, device.ErrorSurfaceLost)
	err := f.draw()
	c.Assert(errors.Is(err, core.ErrFrameLoopFailure), qt.IsTrue)

	var e *core.Error
	c.Assert(errors.As(err, &e), qt.IsTrue)
	c.Assert(e.Code, qt.Equals, device.ErrorSurfaceLost)
}

func TestDeviceLost(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer func() {
		// teardown of a lost device cannot wait for its fences
		f.renderer.Destroy()
		f.driver.Destroy()
	}()

	f.drawFrames(3)
	f.driver.LoseDevice()
	err := f.draw()
	c.Assert(errors.Is(err, core.ErrDeviceLost), qt.IsTrue)
	c.Assert(core.ExitCode(err), qt.Equals, 1)
}

func TestRecordFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpRecord, device.ErrorValidationFailed)
	err := f.draw()
	c.Assert(errors.Is(err, core.ErrRecording), qt.IsTrue)
	c.Assert(f.renderer.Stats().Frames, qt.Equals, uint64(0))
}

func TestSubmitFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpSubmit, device.ErrorOutOfDeviceMemory)
	err := f.draw()
	c.Assert(errors.Is(err, core.ErrFrameLoopFailure), qt.IsTrue)

	var e *core.Error
	c.Assert(errors.As(err, &e), qt.IsTrue)
	c.Assert(e.Stage, qt.Equals, core.StageSubmit)
}

func TestZeroExtentSkipsFrames(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.drawFrames(2)
	f.window.Resize(device.Extent{})
	f.renderer.NotifyResize()
	f.drawFrames(5)

	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(2))
	c.Assert(stats.Skipped, qt.Equals, uint64(5))

	restored := device.Extent{Width: 400, Height: 300}
	f.window.Resize(restored)
	f.drawFrames(2)
	c.Assert(f.renderer.Stats().Frames, qt.Equals, uint64(4))
	c.Assert(f.renderer.Stats().Recreations, qt.Equals, uint64(1))
	c.Assert(f.renderer.Swapchain().Extent, qt.Equals, restored)
}

func TestFormatChangeRebuildsPipeline(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.drawFrames(2)
	c.Assert(f.driver.Stats().PipelinesCreated, qt.Equals, 1)

	f.driver.SetSurfaceFormats([]device.SurfaceFormat{{Format: device.FormatR8G8B8A8Srgb}})
	f.renderer.NotifyResize()
	f.drawFrames(2)

	c.Assert(f.driver.Stats().PipelinesCreated, qt.Equals, 2)
	c.Assert(f.renderer.Swapchain().Format.Format, qt.Equals, device.FormatR8G8B8A8Srgb)
}

func TestSlowQueue(t *testing.T) {
	c := qt.New(t)
	opts := quietOptions()
	opts.Latency = 1
	f := newFixture(c, opts, func(cfg *core.Configuration) {
		cfg.Renderer.InFlightFrames = 3
	})
	defer f.close()

	f.drawFrames(12)
	c.Assert(f.driver.Stats().MaxPending, qt.Equals, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var extents []device.Extent
	err := f.renderer.Run(ctx, core.DrawFunc(func(frame uint64, extent device.Extent, dt time.Duration) core.DrawState {
		extents = append(extents, extent)
		if frame == 7 {
			cancel()
		}
		return core.DrawState{Mesh: model.Triangle(), Transform: model.Spin(float32(frame) / 10)}
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(f.renderer.Stats().Frames, qt.Equals, uint64(8))
	c.Assert(extents[0], qt.Equals, initialExtent)
}

func TestRunWaitsWhileMinimized(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), func(cfg *core.Configuration) {
		cfg.Time.EventPollDelay = 20
	})
	defer f.close()

	f.window.Resize(device.Extent{})
	f.renderer.NotifyResize()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.renderer.Run(ctx, core.DrawFunc(func(uint64, device.Extent, time.Duration) core.DrawState {
		return core.DrawState{Mesh: model.Triangle()}
	}))
	c.Assert(err, qt.IsNil)

	// one skip per poll interval, not one per loop iteration
	stats := f.renderer.Stats()
	c.Assert(stats.Frames, qt.Equals, uint64(0))
	c.Assert(stats.Skipped > 0, qt.IsTrue)
	c.Assert(stats.Skipped <= 10, qt.IsTrue, qt.Commentf("skipped %d frames in 100ms", stats.Skipped))
}

func TestRunResumesOnResize(t *testing.T) {
	c := qt.New(t)
	// only a resize notification can wake the loop
	f := newFixture(c, quietOptions(), func(cfg *core.Configuration) {
		cfg.Time.EventPollDelay = int(time.Hour / time.Millisecond)
	})
	defer f.close()

	f.window.Resize(device.Extent{})
	f.renderer.NotifyResize()

	restored := device.Extent{Width: 640, Height: 480}
	restore := time.AfterFunc(30*time.Millisecond, func() {
		f.window.Resize(restored)
		f.renderer.NotifyResize()
	})
	defer restore.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := f.renderer.Run(ctx, core.DrawFunc(func(frame uint64, extent device.Extent, dt time.Duration) core.DrawState {
		if frame == 5 {
			cancel()
		}
		return core.DrawState{Mesh: model.Triangle()}
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(ctx.Err(), qt.Equals, context.Canceled)

	c.Assert(f.renderer.FrameCounter(), qt.Equals, uint64(6))
	c.Assert(f.renderer.Stats().Skipped, qt.Equals, uint64(1))
	c.Assert(f.renderer.Swapchain().Extent, qt.Equals, restored)
}

func TestRunReturnsFatalError(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	f.driver.Inject(headless.OpRecord, device.ErrorValidationFailed)
	err := f.renderer.Run(context.Background(), core.DrawFunc(func(uint64, device.Extent, time.Duration) core.DrawState {
		return core.DrawState{Mesh: model.Triangle()}
	}))
	c.Assert(errors.Is(err, core.ErrRecording), qt.IsTrue)
}

func TestRendererLifecycle(t *testing.T) {
	c := qt.New(t)
	drv := headless.New(quietOptions())
	window := drv.NewWindow(initialExtent)

	_, err := core.NewFrameRenderer(drv, window, core.PipelineDescription{}, core.Configuration{}, quietLogger())
	c.Assert(errors.Is(err, core.ErrInitialization), qt.IsTrue)

	f := newFixture(c, quietOptions(), nil)
	c.Assert(f.renderer.Initialise(), qt.ErrorMatches, "renderer already initialised")
	f.close()

	// destroying twice is harmless
	f.renderer.Destroy()
	c.Assert(f.renderer.Draw(context.Background(), core.DrawState{}), qt.ErrorMatches, "renderer not initialised")
}

func TestInitialiseFailureCleansUp(t *testing.T) {
	c := qt.New(t)
	drv := headless.New(quietOptions())
	window := drv.NewWindow(initialExtent)
	drv.Inject(headless.OpCreatePipeline, device.ErrorOutOfDeviceMemory)

	r, err := core.NewFrameRenderer(drv, window, core.DefaultPipelineDescription(shader.Stub("triangle")), core.DefaultConfiguration(), quietLogger())
	c.Assert(err, qt.IsNil)
	err = r.Initialise()
	c.Assert(errors.Is(err, core.ErrPipelineBuildFailed), qt.IsTrue)
	c.Assert(drv.Stats().Live, qt.Equals, 0)
	c.Assert(drv.Violations(), qt.HasLen, 0)
}

func BenchmarkFrame(b *testing.B) {
	c := qt.New(b)
	f := newFixture(c, quietOptions(), nil)
	defer f.close()

	state := core.DrawState{Mesh: model.Triangle()}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := f.renderer.Draw(ctx, state); err != nil {
			b.Fatal(err)
		}
	}
}
