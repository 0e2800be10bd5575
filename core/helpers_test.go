// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"context"
	"io/ioutil"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/headless"
	"github.com/devblok/vkloop/model"
	"github.com/devblok/vkloop/shader"
	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"
)

var initialExtent = device.Extent{Width: 800, Height: 600}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.Out = ioutil.Discard
	return logger
}

func quietOptions() headless.Options {
	opts := headless.DefaultOptions()
	opts.Logger = quietLogger()
	return opts
}

type fixture struct {
	c        *qt.C
	driver   *headless.Driver
	window   *headless.Window
	renderer *core.FrameRenderer
}

// newFixture brings up an initialised renderer on a headless device.
func newFixture(c *qt.C, opts headless.Options, configure func(*core.Configuration)) *fixture {
	drv := headless.New(opts)
	window := drv.NewWindow(initialExtent)

	cfg := core.DefaultConfiguration()
	if configure != nil {
		configure(&cfg)
	}
	r, err := core.NewFrameRenderer(drv, window, core.DefaultPipelineDescription(shader.Stub("triangle")), cfg, quietLogger())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Initialise(), qt.IsNil)

	return &fixture{
		c:        c,
		driver:   drv,
		window:   window,
		renderer: r,
	}
}

func (f *fixture) draw() error {
	return f.renderer.Draw(context.Background(), core.DrawState{Mesh: model.Triangle()})
}

func (f *fixture) drawFrames(n int) {
	for i := 0; i < n; i++ {
		f.c.Assert(f.draw(), qt.IsNil, qt.Commentf("frame %d", i))
	}
}

// close tears down the renderer and checks that nothing leaked
// and no synchronization rule was broken.
func (f *fixture) close() {
	f.renderer.Destroy()
	f.c.Check(f.driver.Stats().Live, qt.Equals, 0)
	f.c.Check(f.driver.Violations(), qt.HasLen, 0)
	f.driver.Destroy()
}
