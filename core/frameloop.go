// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblok/vkloop/device"
	"github.com/loov/hrtime"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FrameState is the position of a frame slot in the per frame protocol.
type FrameState int

// Frame states
const (
	FrameIdle FrameState = iota
	FrameAcquiring
	FrameRecording
	FrameSubmitted
	FramePresenting
	FrameInvalidated
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameAcquiring:
		return "acquiring"
	case FrameRecording:
		return "recording"
	case FrameSubmitted:
		return "submitted"
	case FramePresenting:
		return "presenting"
	case FrameInvalidated:
		return "invalidated"
	}
	return "unknown"
}

// AcquireTimeout waits for an image without a limit.
const AcquireTimeout = time.Duration(math.MaxInt64)

// maxFrameRestarts bounds how often one frame restarts after an
// out of date acquire before the frame is skipped.
const maxFrameRestarts = 3

// Stats are frame loop counters.
type Stats struct {
	Frames        uint64
	Recreations   uint64
	Skipped       uint64
	InFlight      int
	MaxInFlight   int
	LastFrameTime time.Duration
}

// DrawSource supplies the content of each frame.
type DrawSource interface {
	Next(frame uint64, extent device.Extent, dt time.Duration) DrawState
}

// DrawFunc adapts a function to DrawSource.
type DrawFunc func(frame uint64, extent device.Extent, dt time.Duration) DrawState

// Next implements DrawSource
func (f DrawFunc) Next(frame uint64, extent device.Extent, dt time.Duration) DrawState {
	return f(frame, extent, dt)
}

// FrameLoop drives acquire, record, submit and present over a ring
// of frame slots. All methods except NotifyResize and Stats must be
// called from one goroutine.
type FrameLoop struct {
	ctx       *Context
	swapchain *SwapchainManager
	resources *ResourceSet
	cfg       RendererConfiguration
	log       log.FieldLogger

	frameCounter uint64
	resize       int32
	resized      chan struct{}
	invalidated  bool
	minimized    bool // the surface has no area
	surfaceLost  bool
	timer        FrameTimer

	mu    sync.Mutex
	stats Stats
}

// NewFrameLoop creates a frame loop over created swapchain and resources.
func NewFrameLoop(ctx *Context, swapchain *SwapchainManager, resources *ResourceSet, cfg RendererConfiguration) *FrameLoop {
	return &FrameLoop{
		ctx:       ctx,
		swapchain: swapchain,
		resources: resources,
		cfg:       cfg,
		log:       ctx.Logger().WithField("component", "frameloop"),
		resized:   make(chan struct{}, 1),
	}
}

// NotifyResize marks the swapchain stale. Safe to call from any goroutine,
// typically the window event loop.
func (l *FrameLoop) NotifyResize() {
	atomic.StoreInt32(&l.resize, 1)
	select {
	case l.resized <- struct{}{}:
	default:
	}
}

// FrameCounter returns the number of presented frames.
func (l *FrameLoop) FrameCounter() uint64 {
	return l.frameCounter
}

// Stats returns a snapshot of the counters.
func (l *FrameLoop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Frame renders and presents one frame. Swapchain invalidation is
// handled internally, restarting the frame without advancing the
// counter. Returned errors are fatal.
func (l *FrameLoop) Frame(ctx context.Context, draw DrawState) error {
	start := hrtime.Now()
	drv, dev := l.ctx.Driver, l.ctx.Device

	for restarts := 0; ; restarts++ {
		if restarts > maxFrameRestarts {
			l.skip("swapchain keeps going out of date")
			return nil
		}

		resized := l.takeResize()
		if l.invalidated || resized {
			l.invalidated = true
			if err := l.recreate(); err != nil {
				if errors.Is(err, errSurfaceZeroExtent) {
					l.minimized = true
					l.skip("surface has no area")
					return nil
				}
				return err
			}
		}

		slot := &l.resources.Slots[l.frameCounter%uint64(len(l.resources.Slots))]
		if err := l.wait(ctx, slot); err != nil {
			return err
		}

		slot.State = FrameAcquiring
		image, status, err := l.swapchain.AcquireNextImage(AcquireTimeout, slot.ImageAvailable)
		if err != nil {
			return err
		}
		if status == SurfaceOutOfDate || status == SurfaceLost {
			// the fence was not reset, so waiting on it again after
			// recreation returns immediately
			if err := l.invalidate(status, StageAcquire); err != nil {
				return err
			}
			continue
		}
		suboptimal := status == SurfaceSuboptimal

		// an image may still be in use by an older frame
		if owner := l.swapchain.ImageOwner(image); owner >= 0 && owner != slot.Index {
			if err := l.wait(ctx, &l.resources.Slots[owner]); err != nil {
				return err
			}
		}
		l.swapchain.SetImageOwner(image, slot.Index)

		if res := drv.ResetFence(dev, slot.InFlight); res != device.Success {
			return frameError(StageFence, res)
		}

		slot.State = FrameRecording
		if err := l.resources.Record(slot, image, draw); err != nil {
			return err
		}

		if res := drv.QueueSubmit(l.ctx.Queues.Graphics, device.Submission{
			Command: slot.Command,
			Wait:    slot.ImageAvailable,
			Signal:  slot.RenderFinished,
			Fence:   slot.InFlight,
		}); res != device.Success {
			return frameError(StageSubmit, res)
		}
		slot.submitted = true
		slot.State = FrameSubmitted
		l.trackInFlight(1)

		slot.State = FramePresenting
		status, err = l.swapchain.Present(image, slot.RenderFinished)
		if err != nil {
			return err
		}
		slot.State = FrameIdle
		l.frameCounter++

		l.mu.Lock()
		l.stats.Frames++
		l.stats.LastFrameTime = hrtime.Since(start)
		l.mu.Unlock()

		if status.Invalidates() || suboptimal || l.takeResize() {
			if err := l.invalidate(status, StagePresent); err != nil {
				return err
			}
			if err := l.recreate(); err != nil {
				if !errors.Is(err, errSurfaceZeroExtent) {
					return err
				}
				l.minimized = true
			}
		} else {
			l.surfaceLost = false
		}
		return nil
	}
}

// Run renders frames pulled from source until ctx is done or a frame
// fails. Frames are paced by t when it caps the frame rate.
func (l *FrameLoop) Run(ctx context.Context, source DrawSource, t *Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if t != nil && t.Fps() > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-t.FpsTicker().C:
			}
		}

		state := source.Next(l.frameCounter, l.swapchain.Current().Extent, l.timer.Tick())
		if err := l.Frame(ctx, state); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			l.log.WithError(err).Error("frame loop stopped")
			return err
		}
		if l.minimized {
			l.waitForResize(ctx, t)
		}
	}
}

// waitForResize blocks while the surface has no area, until a resize
// is notified or an event poll interval passes.
func (l *FrameLoop) waitForResize(ctx context.Context, t *Time) {
	delay := DefaultEventPollDelay
	if t != nil {
		delay = t.EventPollDelay()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-l.resized:
	case <-timer.C:
	}
}

// Drain waits until no frame slot is in flight.
func (l *FrameLoop) Drain(ctx context.Context) error {
	for i := range l.resources.Slots {
		if err := l.wait(ctx, &l.resources.Slots[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *FrameLoop) wait(ctx context.Context, slot *FrameSlot) error {
	if !slot.submitted {
		return nil
	}
	for {
		switch res := l.ctx.Driver.WaitForFence(l.ctx.Device, slot.InFlight, l.cfg.FenceTimeout); res {
		case device.Success:
			slot.submitted = false
			l.trackInFlight(-1)
			return nil
		case device.Timeout:
			if err := ctx.Err(); err != nil {
				return err
			}
		default:
			return frameError(StageFence, res)
		}
	}
}

// invalidate marks the swapchain stale. A lost surface gets one
// recreation, losing it again is fatal.
func (l *FrameLoop) invalidate(status SurfaceStatus, stage string) error {
	if status == SurfaceLost {
		if l.surfaceLost {
			return frameError(stage, device.ErrorSurfaceLost)
		}
		l.surfaceLost = true
	}
	l.invalidated = true
	l.log.WithFields(log.Fields{
		"status": status.String(),
		"stage":  stage,
		"frame":  l.frameCounter,
	}).Debug("swapchain invalidated")
	return nil
}

// recreate waits for the device, then replaces framebuffers, image
// views and the swapchain. The pipeline is rebuilt only for a new format.
func (l *FrameLoop) recreate() error {
	for i := range l.resources.Slots {
		l.resources.Slots[i].State = FrameInvalidated
	}
	if err := l.ctx.WaitIdle(); err != nil {
		return err
	}
	// an idle device has signaled every fence
	for i := range l.resources.Slots {
		l.resources.Slots[i].submitted = false
	}
	l.mu.Lock()
	l.stats.InFlight = 0
	l.mu.Unlock()

	l.resources.DestroyFramebuffers()
	result, err := l.swapchain.Recreate()
	if err != nil {
		return err
	}
	if err := l.resources.Rebuild(l.swapchain.Current(), result.FormatChanged); err != nil {
		return err
	}
	for i := range l.resources.Slots {
		l.resources.Slots[i].State = FrameIdle
	}
	l.invalidated = false
	l.minimized = false

	l.mu.Lock()
	l.stats.Recreations++
	l.mu.Unlock()
	return nil
}

// takeResize consumes a pending resize notification.
func (l *FrameLoop) takeResize() bool {
	select {
	case <-l.resized:
	default:
	}
	return atomic.SwapInt32(&l.resize, 0) == 1
}

func (l *FrameLoop) skip(reason string) {
	l.mu.Lock()
	l.stats.Skipped++
	l.mu.Unlock()
	l.log.WithField("frame", l.frameCounter).Debug("frame skipped: " + reason)
}

func (l *FrameLoop) trackInFlight(delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.InFlight += delta
	if l.stats.InFlight > l.stats.MaxInFlight {
		l.stats.MaxInFlight = l.stats.InFlight
	}
}
