// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device describes the native graphics layer the frame loop is
// built on. Objects are referred to by opaque Handles handed out by a
// Driver, the records in this package are plain data copied out of the
// native API so that selection and negotiation logic never touches
// native memory.
package device

import (
	"fmt"
	"math"
	"strings"
)

// Handle identifies a native object owned by a Driver.
type Handle uint64

// NullHandle is never handed out by a Driver.
const NullHandle Handle = 0

// UndefinedExtent is reported as the current surface width when
// the window system lets the swapchain decide the size.
const UndefinedExtent = math.MaxUint32

// Extent is a two dimensional size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero, which happens
// for minimized windows.
func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// Clamp fits e into the [min, max] box.
func (e Extent) Clamp(min, max Extent) Extent {
	return Extent{
		Width:  clamp(e.Width, min.Width, max.Width),
		Height: clamp(e.Height, min.Height, max.Height),
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

func clamp(v, min, max uint32) uint32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Format is a pixel or vertex attribute format. Values match VkFormat.
type Format int32

// Formats the frame loop knows about
const (
	FormatUndefined       Format = 0
	FormatR8G8B8A8Unorm   Format = 37
	FormatR8G8B8A8Srgb    Format = 43
	FormatB8G8R8A8Unorm   Format = 44
	FormatB8G8R8A8Srgb    Format = 50
	FormatR32G32Sfloat    Format = 103
	FormatR32G32B32Sfloat Format = 106
	FormatD16Unorm        Format = 124
)

var formatNames = map[Format]string{
	FormatUndefined:       "undefined",
	FormatR8G8B8A8Unorm:   "r8g8b8a8-unorm",
	FormatR8G8B8A8Srgb:    "r8g8b8a8-srgb",
	FormatB8G8R8A8Unorm:   "b8g8r8a8-unorm",
	FormatB8G8R8A8Srgb:    "b8g8r8a8-srgb",
	FormatR32G32Sfloat:    "r32g32-sfloat",
	FormatR32G32B32Sfloat: "r32g32b32-sfloat",
	FormatD16Unorm:        "d16-unorm",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int32(f))
}

// Size returns the byte size of a vertex attribute format,
// zero for formats that are not vertex formats.
func (f Format) Size() uint32 {
	switch f {
	case FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb:
		return 4
	}
	return 0
}

// ColorSpace of a presentable surface. Values match VkColorSpaceKHR.
type ColorSpace int32

// ColorSpaceSrgbNonlinear is the only color space every surface supports.
const ColorSpaceSrgbNonlinear ColorSpace = 0

// SurfaceFormat pairs a pixel format with its color space.
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode controls how presented images are queued. Values match VkPresentModeKHR.
type PresentMode int32

// Present modes
const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (p PresentMode) String() string {
	switch p {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo-relaxed"
	}
	return fmt.Sprintf("present-mode(%d)", int32(p))
}

// ParsePresentMode parses the configuration name of a present mode.
func ParsePresentMode(s string) (PresentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fifo", "vsync":
		return PresentModeFifo, nil
	case "mailbox":
		return PresentModeMailbox, nil
	case "immediate":
		return PresentModeImmediate, nil
	}
	return PresentModeFifo, fmt.Errorf("unknown present mode %q, expected fifo, mailbox or immediate", s)
}

// CompositeAlpha flags. Values match VkCompositeAlphaFlagBitsKHR.
type CompositeAlpha uint32

// Composite alpha modes in order of preference
const (
	CompositeAlphaOpaque         CompositeAlpha = 0x1
	CompositeAlphaPreMultiplied  CompositeAlpha = 0x2
	CompositeAlphaPostMultiplied CompositeAlpha = 0x4
	CompositeAlphaInherit        CompositeAlpha = 0x8
)

// SurfaceCapabilities is a snapshot of what the surface allows right now.
// MaxImageCount of zero means there is no upper limit.
type SurfaceCapabilities struct {
	MinImageCount           uint32
	MaxImageCount           uint32
	CurrentExtent           Extent
	MinImageExtent          Extent
	MaxImageExtent          Extent
	SupportedCompositeAlpha CompositeAlpha

	Formats      []SurfaceFormat
	PresentModes []PresentMode
}

// QueueFlags describe what a queue family can execute. Values match VkQueueFlagBits.
type QueueFlags uint32

// Queue capabilities
const (
	QueueGraphics QueueFlags = 0x1
	QueueCompute  QueueFlags = 0x2
	QueueTransfer QueueFlags = 0x4
)

// Has reports whether all bits of want are set.
func (q QueueFlags) Has(want QueueFlags) bool {
	return q&want == want
}

// QueueFamily describes one queue family of an adapter. SupportsPresent
// is relative to the surface the adapters were enumerated for.
type QueueFamily struct {
	Index           uint32
	Flags           QueueFlags
	Count           uint32
	SupportsPresent bool
}

// AdapterType values match VkPhysicalDeviceType.
type AdapterType int32

// Adapter types
const (
	AdapterOther AdapterType = iota
	AdapterIntegrated
	AdapterDiscrete
	AdapterVirtual
	AdapterCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterIntegrated:
		return "integrated"
	case AdapterDiscrete:
		return "discrete"
	case AdapterVirtual:
		return "virtual"
	case AdapterCPU:
		return "cpu"
	}
	return "other"
}

// Adapter describes a physical device and its capabilities
// relative to one surface.
type Adapter struct {
	ID            Handle
	Name          string
	Type          AdapterType
	VendorID      uint32
	DeviceID      uint32
	DriverVersion uint32
	MemorySize    uint64

	QueueFamilies  []QueueFamily
	Extensions     []string
	SurfaceFormats []SurfaceFormat
	PresentModes   []PresentMode
}

// HasExtension checks if the adapter advertises the named device extension.
func (a Adapter) HasExtension(name string) bool {
	for _, ext := range a.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// SupportsPresentMode checks if mode is advertised for the surface.
func (a Adapter) SupportsPresentMode(mode PresentMode) bool {
	for _, m := range a.PresentModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Queues are the device queues resolved at device creation.
// Graphics and Present may be the same queue.
type Queues struct {
	Graphics       Handle
	Present        Handle
	GraphicsFamily uint32
	PresentFamily  uint32
}

// SwapchainExtension is the device extension required for presentation.
const SwapchainExtension = "VK_KHR_swapchain"
