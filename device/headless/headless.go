// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless implements device.Driver without a GPU. It keeps
// every object in an arena, enforces the synchronization rules a real
// driver relies on (fence and semaphore states, command buffer states,
// image acquisition) and records every rule that was broken, so the
// frame loop can be exercised deterministically in tests and CI.
package headless

import (
	"fmt"
	"sync"

	"github.com/devblok/vkloop/device"
	log "github.com/sirupsen/logrus"
)

// Op identifies a driver call that faults can be injected into.
type Op int

// Injectable operations
const (
	OpAcquire Op = iota
	OpPresent
	OpSubmit
	OpWaitFence
	OpCreateDevice
	OpCreateSwapchain
	OpCreatePipeline
	OpRecord
)

// Options configure the simulated hardware.
type Options struct {
	Adapters       []device.Adapter
	SurfaceFormats []device.SurfaceFormat
	PresentModes   []device.PresentMode

	MinImageCount uint32
	MaxImageCount uint32

	// UndefinedExtent makes the surface report device.UndefinedExtent
	// so the swapchain has to pick its own size.
	UndefinedExtent bool

	// Latency is the number of submissions the simulated queue keeps
	// in flight before it retires the oldest one. Zero keeps them until
	// they are waited on.
	Latency int

	Logger log.FieldLogger
}

// DefaultAdapter is a discrete adapter with one universal queue family.
func DefaultAdapter() device.Adapter {
	return device.Adapter{
		Name:          "Headless Discrete",
		Type:          device.AdapterDiscrete,
		VendorID:      0x10de,
		DeviceID:      0x1,
		DriverVersion: 1,
		MemorySize:    4 << 30,
		QueueFamilies: []device.QueueFamily{{
			Index:           0,
			Flags:           device.QueueGraphics | device.QueueCompute | device.QueueTransfer,
			Count:           1,
			SupportsPresent: true,
		}},
		Extensions: []string{device.SwapchainExtension},
	}
}

// DefaultOptions describe one discrete adapter, a bgra srgb surface
// and fifo plus mailbox present modes.
func DefaultOptions() Options {
	return Options{
		Adapters: []device.Adapter{DefaultAdapter()},
		SurfaceFormats: []device.SurfaceFormat{
			{Format: device.FormatB8G8R8A8Srgb, ColorSpace: device.ColorSpaceSrgbNonlinear},
			{Format: device.FormatB8G8R8A8Unorm, ColorSpace: device.ColorSpaceSrgbNonlinear},
		},
		PresentModes:  []device.PresentMode{device.PresentModeFifo, device.PresentModeMailbox},
		MinImageCount: 2,
		MaxImageCount: 8,
	}
}

// Stats are counters over the lifetime of a Driver.
type Stats struct {
	Acquires          int
	Submits           int
	Presents          int
	SwapchainsCreated int
	PipelinesCreated  int
	Pending           int
	MaxPending        int
	Live              int
}

// Driver is the simulated device.Driver. It is safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	opts     Options
	log      log.FieldLogger
	next     device.Handle
	objects  map[device.Handle]*object
	adapters []device.Adapter
	windows  map[device.Handle]*Window

	pending    []submission
	maxPending int

	faults     map[Op][]device.Result
	lost       bool
	violations []string

	acquires          int
	submits           int
	presents          int
	swapchainsCreated int
	pipelinesCreated  int
}

// New creates a Driver simulating the hardware described by opts.
func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if len(opts.Adapters) == 0 {
		opts.Adapters = []device.Adapter{DefaultAdapter()}
	}
	if opts.MinImageCount == 0 {
		opts.MinImageCount = 2
	}

	d := &Driver{
		opts:    opts,
		log:     opts.Logger.WithField("driver", "headless"),
		objects: make(map[device.Handle]*object),
		faults:  make(map[Op][]device.Result),
	}
	for _, a := range opts.Adapters {
		a.ID = d.add(&object{kind: kindAdapter})
		d.adapters = append(d.adapters, a)
	}
	return d
}

// Inject makes the next call of op return res. Injections queue up
// and are consumed in order.
func (d *Driver) Inject(op Op, res device.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], res)
}

// LoseDevice makes every following device call fail with ErrorDeviceLost.
func (d *Driver) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Violations returns the usage rules broken so far.
func (d *Driver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Acquires:          d.acquires,
		Submits:           d.submits,
		Presents:          d.presents,
		SwapchainsCreated: d.swapchainsCreated,
		PipelinesCreated:  d.pipelinesCreated,
		Pending:           len(d.pending),
		MaxPending:        d.maxPending,
		Live:              d.live(),
	}
}

// Destroy implements device.Driver
func (d *Driver) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.live(); n > 0 {
		d.violate("driver destroyed with %d live objects", n)
	}
	d.objects = make(map[device.Handle]*object)
}

func (d *Driver) fault(op Op) (device.Result, bool) {
	queued := d.faults[op]
	if len(queued) == 0 {
		return device.Success, false
	}
	d.faults[op] = queued[1:]
	return queued[0], true
}

func (d *Driver) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
	d.log.Warn(msg)
}

// live counts objects that have to be destroyed by the application.
func (d *Driver) live() int {
	var n int
	for _, o := range d.objects {
		switch o.kind {
		case kindAdapter, kindWindow, kindQueue, kindImage:
			continue
		}
		n++
	}
	return n
}
