// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

var srgb = device.SurfaceFormat{Format: device.FormatB8G8R8A8Srgb, ColorSpace: device.ColorSpaceSrgbNonlinear}

func adapter(name string, typ device.AdapterType, families ...device.QueueFamily) device.Adapter {
	return device.Adapter{
		ID:             device.Handle(len(name)),
		Name:           name,
		Type:           typ,
		MemorySize:     2 << 30,
		QueueFamilies:  families,
		Extensions:     []string{device.SwapchainExtension},
		SurfaceFormats: []device.SurfaceFormat{srgb},
		PresentModes:   []device.PresentMode{device.PresentModeFifo},
	}
}

func TestSelectAdapterPrefersDiscrete(t *testing.T) {
	c := qt.New(t)
	universal := device.QueueFamily{Flags: device.QueueGraphics, Count: 1, SupportsPresent: true}

	got, err := core.SelectAdapter([]device.Adapter{
		adapter("integrated", device.AdapterIntegrated, universal),
		adapter("discrete", device.AdapterDiscrete, universal),
		adapter("cpu", device.AdapterCPU, universal),
	}, core.DefaultRequirements())
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, "discrete")
}

func TestSelectAdapterSkipsUnsuitable(t *testing.T) {
	c := qt.New(t)
	computeOnly := adapter("compute", device.AdapterDiscrete, device.QueueFamily{Flags: device.QueueCompute, Count: 1, SupportsPresent: true})
	noSwapchain := adapter("headless", device.AdapterDiscrete, device.QueueFamily{Flags: device.QueueGraphics, Count: 1, SupportsPresent: true})
	noSwapchain.Extensions = nil
	fine := adapter("fine", device.AdapterIntegrated, device.QueueFamily{Flags: device.QueueGraphics, Count: 1, SupportsPresent: true})

	got, err := core.SelectAdapter([]device.Adapter{computeOnly, noSwapchain, fine}, core.DefaultRequirements())
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, "fine")

	_, err = core.SelectAdapter([]device.Adapter{computeOnly, noSwapchain}, core.DefaultRequirements())
	c.Assert(errors.Is(err, core.ErrNoSuitableAdapter), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `.*compute: no queue family.*`)

	_, err = core.SelectAdapter(nil, core.DefaultRequirements())
	c.Assert(errors.Is(err, core.ErrNoSuitableAdapter), qt.IsTrue)
}

func TestSelectAdapterRequiredFormat(t *testing.T) {
	c := qt.New(t)
	req := core.DefaultRequirements()
	req.SurfaceFormats = []device.SurfaceFormat{{Format: device.FormatR8G8B8A8Unorm}}

	ok, reason := core.Suitable(adapter("a", device.AdapterDiscrete, device.QueueFamily{Flags: device.QueueGraphics, Count: 1, SupportsPresent: true}), req)
	c.Assert(ok, qt.IsFalse)
	c.Assert(reason, qt.Equals, "none of the required surface formats is supported")
}

func TestFindQueueFamiliesSplit(t *testing.T) {
	c := qt.New(t)
	a := adapter("split", device.AdapterDiscrete,
		device.QueueFamily{Index: 0, Flags: device.QueueTransfer, Count: 2, SupportsPresent: true},
		device.QueueFamily{Index: 1, Flags: device.QueueGraphics | device.QueueCompute, Count: 1},
		device.QueueFamily{Index: 2, Flags: device.QueueGraphics, Count: 1, SupportsPresent: true},
	)
	graphics, present, ok := core.FindQueueFamilies(a, core.DefaultRequirements())
	c.Assert(ok, qt.IsTrue)
	c.Assert(graphics, qt.Equals, uint32(2))
	c.Assert(present, qt.Equals, uint32(2))

	a.QueueFamilies[2].Flags = device.QueueCompute
	graphics, present, ok = core.FindQueueFamilies(a, core.DefaultRequirements())
	c.Assert(ok, qt.IsTrue)
	c.Assert(graphics, qt.Equals, uint32(1))
	c.Assert(present, qt.Equals, uint32(0))
}

// Whatever the adapters look like, the selected one always has a
// family with the required queue capability.
func TestSelectAdapterNeverLacksQueue(t *testing.T) {
	c := qt.New(t)
	rnd := rand.New(rand.NewSource(42))
	req := core.DefaultRequirements()

	for round := 0; round < 500; round++ {
		var adapters []device.Adapter
		count := 1 + rnd.Intn(4)
		for i := 0; i < count; i++ {
			var families []device.QueueFamily
			familyCount := rnd.Intn(4)
			for f := 0; f < familyCount; f++ {
				families = append(families, device.QueueFamily{
					Index:           uint32(f),
					Flags:           device.QueueFlags(rnd.Intn(8)),
					Count:           uint32(rnd.Intn(3)),
					SupportsPresent: rnd.Intn(2) == 0,
				})
			}
			a := adapter(fmt.Sprintf("adapter-%d", i), device.AdapterType(rnd.Intn(5)), families...)
			a.MemorySize = uint64(rnd.Intn(8)) << 30
			adapters = append(adapters, a)
		}

		got, err := core.SelectAdapter(adapters, req)
		if err != nil {
			c.Assert(errors.Is(err, core.ErrNoSuitableAdapter), qt.IsTrue)
			continue
		}
		var graphics, present bool
		for _, f := range got.QueueFamilies {
			if f.Count > 0 && f.Flags.Has(device.QueueGraphics) {
				graphics = true
			}
			if f.Count > 0 && f.SupportsPresent {
				present = true
			}
		}
		c.Assert(graphics, qt.IsTrue, qt.Commentf("round %d picked %s", round, got.Name))
		c.Assert(present, qt.IsTrue, qt.Commentf("round %d picked %s", round, got.Name))
	}
}

func TestScore(t *testing.T) {
	c := qt.New(t)
	small := device.Adapter{Type: device.AdapterDiscrete, MemorySize: 1 << 30}
	big := device.Adapter{Type: device.AdapterDiscrete, MemorySize: 8 << 30}
	integrated := device.Adapter{Type: device.AdapterIntegrated, MemorySize: 64 << 30}

	c.Assert(core.Score(big) > core.Score(small), qt.IsTrue)
	c.Assert(core.Score(small) > core.Score(integrated), qt.IsTrue)
}
