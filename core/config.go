// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"strconv"
	"time"

	"github.com/devblok/vkloop/device"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment variables read by LoadEnvironment
const (
	EnvInFlightFrames = "VKLOOP_IN_FLIGHT_FRAMES"
	EnvValidation     = "VKLOOP_VALIDATION"
	EnvPresentMode    = "VKLOOP_PRESENT_MODE"
	EnvScreenWidth    = "VKLOOP_SCREEN_WIDTH"
	EnvScreenHeight   = "VKLOOP_SCREEN_HEIGHT"
	EnvSwapchainSize  = "VKLOOP_SWAPCHAIN_SIZE"
	EnvShaderSource   = "VKLOOP_SHADERS"
	EnvFramesPerSec   = "VKLOOP_FPS"
)

// MaxInFlightFrames bounds the number of frame slots.
const MaxInFlightFrames = 8

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Instance InstanceConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the window event polling interval in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// InFlightFrames is the number of frames the host may
	// record ahead of the device.
	InFlightFrames int
	PresentMode    device.PresentMode

	// SwapchainSize is the preferred number of swapchain images,
	// the surface limits always win.
	SwapchainSize    uint32
	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// ShaderSource is a directory or a kar archive with compiled shaders
	ShaderSource string

	// FenceTimeout is how long a single fence wait blocks before
	// cancellation is checked again.
	FenceTimeout time.Duration
	ClearColor   [4]float32
}

// InstanceConfiguration configures the native instance
type InstanceConfiguration struct {
	ApplicationName  string
	EnableValidation bool
	Extensions       []string
	Layers           []string
}

// DefaultConfiguration returns the configuration used when nothing is overridden.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 0,
			EventPollDelay:  10,
		},
		Renderer: RendererConfiguration{
			InFlightFrames:   2,
			PresentMode:      device.PresentModeFifo,
			SwapchainSize:    3,
			DeviceExtensions: []string{device.SwapchainExtension},
			ScreenWidth:      800,
			ScreenHeight:     600,
			ShaderSource:     "./shaders",
			FenceTimeout:     100 * time.Millisecond,
			ClearColor:       [4]float32{0.005, 0.005, 0.005, 1},
		},
		Instance: InstanceConfiguration{
			ApplicationName: "Vulkan",
		},
	}
}

// Validate checks the configuration for values the renderer cannot work with.
func (c Configuration) Validate() error {
	r := c.Renderer
	if r.InFlightFrames < 1 || r.InFlightFrames > MaxInFlightFrames {
		return errors.Errorf("in flight frame count %d out of range [1, %d]", r.InFlightFrames, MaxInFlightFrames)
	}
	switch r.PresentMode {
	case device.PresentModeFifo, device.PresentModeMailbox, device.PresentModeImmediate:
	default:
		return errors.Errorf("unsupported present mode %s", r.PresentMode)
	}
	if r.ScreenWidth == 0 || r.ScreenHeight == 0 {
		return errors.Errorf("screen size %dx%d has no area", r.ScreenWidth, r.ScreenHeight)
	}
	if r.FenceTimeout <= 0 {
		return errors.New("fence timeout must be positive")
	}
	if c.Time.FramesPerSecond < 0 {
		return errors.New("frames per second cannot be negative")
	}
	return nil
}

// LoadEnvironment loads dotenv files that exist and applies
// VKLOOP_* environment variables on top of cfg.
func LoadEnvironment(cfg *Configuration, files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return errors.Wrap(err, "godotenv.Load()")
		}
	}
	envy.Reload()

	var err error
	if v := envy.Get(EnvInFlightFrames, ""); v != "" {
		if cfg.Renderer.InFlightFrames, err = strconv.Atoi(v); err != nil {
			return errors.Wrap(err, EnvInFlightFrames)
		}
	}
	if v := envy.Get(EnvValidation, ""); v != "" {
		if cfg.Instance.EnableValidation, err = strconv.ParseBool(v); err != nil {
			return errors.Wrap(err, EnvValidation)
		}
	}
	if v := envy.Get(EnvPresentMode, ""); v != "" {
		if cfg.Renderer.PresentMode, err = device.ParsePresentMode(v); err != nil {
			return errors.Wrap(err, EnvPresentMode)
		}
	}
	if v := envy.Get(EnvScreenWidth, ""); v != "" {
		if cfg.Renderer.ScreenWidth, err = parseUint32(v); err != nil {
			return errors.Wrap(err, EnvScreenWidth)
		}
	}
	if v := envy.Get(EnvScreenHeight, ""); v != "" {
		if cfg.Renderer.ScreenHeight, err = parseUint32(v); err != nil {
			return errors.Wrap(err, EnvScreenHeight)
		}
	}
	if v := envy.Get(EnvSwapchainSize, ""); v != "" {
		if cfg.Renderer.SwapchainSize, err = parseUint32(v); err != nil {
			return errors.Wrap(err, EnvSwapchainSize)
		}
	}
	if v := envy.Get(EnvFramesPerSec, ""); v != "" {
		if cfg.Time.FramesPerSecond, err = strconv.Atoi(v); err != nil {
			return errors.Wrap(err, EnvFramesPerSec)
		}
	}
	cfg.Renderer.ShaderSource = envy.Get(EnvShaderSource, cfg.Renderer.ShaderSource)
	return nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
