// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/devblok/vkloop/device"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Context owns the selected adapter and the logical device created on
// it. It outlives every other object of the renderer and is destroyed last.
type Context struct {
	Driver  device.Driver
	Adapter device.Adapter
	Device  device.Handle
	Queues  device.Queues
	Surface device.Handle

	log log.FieldLogger
}

// NewContext selects an adapter able to render to surface and creates
// a logical device on it with the configured device extensions.
func NewContext(drv device.Driver, surface device.Handle, cfg Configuration, logger log.FieldLogger) (*Context, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	adapters, err := drv.Adapters(surface)
	if err != nil {
		return nil, newError(InitializationError, StageAdapter, errors.Wrap(err, "enumerate adapters"))
	}

	req := DefaultRequirements()
	req.Extensions = appendMissing(req.Extensions, cfg.Renderer.DeviceExtensions...)
	adapter, err := SelectAdapter(adapters, req)
	if err != nil {
		return nil, err
	}

	graphics, present, _ := FindQueueFamilies(adapter, req)
	families := []uint32{graphics}
	if present != graphics {
		families = append(families, present)
	}

	dev, queues, err := drv.CreateDevice(adapter.ID, device.DeviceInfo{
		QueueFamilies: families,
		Extensions:    req.Extensions,
		Validation:    cfg.Instance.EnableValidation,
	})
	if err != nil {
		return nil, newError(InitializationError, StageDevice, err)
	}

	logger = logger.WithField("adapter", adapter.Name)
	logger.WithFields(log.Fields{
		"type":       adapter.Type.String(),
		"memory":     units.BytesSize(float64(adapter.MemorySize)),
		"graphics":   queues.GraphicsFamily,
		"present":    queues.PresentFamily,
		"validation": cfg.Instance.EnableValidation,
	}).Info("device created")

	return &Context{
		Driver:  drv,
		Adapter: adapter,
		Device:  dev,
		Queues:  queues,
		Surface: surface,
		log:     logger,
	}, nil
}

// Logger returns the logger annotated with the adapter name.
func (c *Context) Logger() log.FieldLogger {
	return c.log
}

// WaitIdle blocks until the device finished all submitted work.
func (c *Context) WaitIdle() error {
	if res := c.Driver.DeviceWaitIdle(c.Device); res != device.Success {
		return frameError(StageRecreate, res)
	}
	return nil
}

// Destroy waits for the device and destroys it.
func (c *Context) Destroy() {
	if c.Device == device.NullHandle {
		return
	}
	c.Driver.DeviceWaitIdle(c.Device)
	c.Driver.DestroyDevice(c.Device)
	c.Device = device.NullHandle
	c.log.Debug("device destroyed")
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		var found bool
		for _, have := range list {
			if have == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
