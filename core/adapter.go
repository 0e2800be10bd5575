// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"sort"

	"github.com/devblok/vkloop/device"
)

// Requirements is what an adapter must offer to be selected.
type Requirements struct {
	Queue      device.QueueFlags
	Present    bool
	Extensions []string

	// SurfaceFormats, when not empty, requires at least one of them.
	SurfaceFormats []device.SurfaceFormat
}

// DefaultRequirements ask for a graphics queue, presentation
// and the swapchain extension.
func DefaultRequirements() Requirements {
	return Requirements{
		Queue:      device.QueueGraphics,
		Present:    true,
		Extensions: []string{device.SwapchainExtension},
	}
}

// Suitable checks if the adapter meets req. If not suitable
// the string contains the reason.
func Suitable(adapter device.Adapter, req Requirements) (bool, string) {
	if _, _, ok := FindQueueFamilies(adapter, req); !ok {
		if req.Present {
			return false, fmt.Sprintf("no queue family with %s and presentation support", queueFlagsString(req.Queue))
		}
		return false, fmt.Sprintf("no queue family with %s", queueFlagsString(req.Queue))
	}
	for _, ext := range req.Extensions {
		if !adapter.HasExtension(ext) {
			return false, "missing device extension " + ext
		}
	}
	if req.Present && (len(adapter.SurfaceFormats) == 0 || len(adapter.PresentModes) == 0) {
		return false, "surface advertises no formats or present modes"
	}
	if len(req.SurfaceFormats) > 0 {
		var found bool
		for _, want := range req.SurfaceFormats {
			for _, have := range adapter.SurfaceFormats {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false, "none of the required surface formats is supported"
		}
	}
	return true, ""
}

// Score ranks adapters, discrete devices first and
// more memory breaking ties.
func Score(adapter device.Adapter) uint64 {
	var score uint64
	switch adapter.Type {
	case device.AdapterDiscrete:
		score = 1000
	case device.AdapterIntegrated:
		score = 100
	case device.AdapterVirtual:
		score = 10
	default:
		score = 1
	}
	return score*1000 + adapter.MemorySize>>30
}

// SelectAdapter picks the best scoring suitable adapter.
func SelectAdapter(adapters []device.Adapter, req Requirements) (device.Adapter, error) {
	var (
		candidates []device.Adapter
		reasons    []string
	)
	for _, a := range adapters {
		if ok, reason := Suitable(a, req); ok {
			candidates = append(candidates, a)
		} else {
			reasons = append(reasons, fmt.Sprintf("%s: %s", a.Name, reason))
		}
	}
	if len(candidates) == 0 {
		err := fmt.Errorf("%d adapters enumerated, none suitable %v", len(adapters), reasons)
		return device.Adapter{}, newError(InitializationError, StageAdapter, err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return Score(candidates[i]) > Score(candidates[j])
	})
	return candidates[0], nil
}

// FindQueueFamilies finds a queue family for rendering and one for
// presentation, preferring a single family that can do both.
func FindQueueFamilies(adapter device.Adapter, req Requirements) (graphics, present uint32, ok bool) {
	var graphicsFound, presentFound bool
	for _, family := range adapter.QueueFamilies {
		if family.Count == 0 || !family.Flags.Has(req.Queue) {
			continue
		}
		if !req.Present || family.SupportsPresent {
			return family.Index, family.Index, true
		}
		if !graphicsFound {
			graphics, graphicsFound = family.Index, true
		}
	}
	if !graphicsFound {
		return 0, 0, false
	}
	for _, family := range adapter.QueueFamilies {
		if family.Count > 0 && family.SupportsPresent {
			present, presentFound = family.Index, true
			break
		}
	}
	return graphics, present, presentFound
}

func queueFlagsString(flags device.QueueFlags) string {
	var names []string
	if flags.Has(device.QueueGraphics) {
		names = append(names, "graphics")
	}
	if flags.Has(device.QueueCompute) {
		names = append(names, "compute")
	}
	if flags.Has(device.QueueTransfer) {
		names = append(names, "transfer")
	}
	if len(names) == 0 {
		return "any capability"
	}
	return fmt.Sprint(names)
}
