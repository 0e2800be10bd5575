// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command vkloop opens a window and renders a spinning triangle until
// the window is closed or the process is interrupted. With -headless
// it drives the software driver instead, for smoke runs without a GPU.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/headless"
	"github.com/devblok/vkloop/device/vkdevice"
	"github.com/devblok/vkloop/model"
	"github.com/devblok/vkloop/shader"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/sync/errgroup"
)

func init() {
	runtime.LockOSThread()
}

type options struct {
	headless    bool
	frames      int
	resizeAt    int
	envFile     string
	validation  bool
	presentMode string
	inFlight    int
	shaders     string
	fps         int
	verbose     bool
	cpuProfile  string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.BoolVar(&o.headless, "headless", false, "render with the software driver, no window")
	fs.IntVar(&o.frames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	fs.IntVar(&o.resizeAt, "resize-at", 0, "headless only, resize the surface before this frame")
	fs.StringVar(&o.envFile, "env", ".env", "dotenv file with VKLOOP_* settings")
	fs.BoolVar(&o.validation, "validation", false, "enable the Vulkan validation layer")
	fs.StringVar(&o.presentMode, "present-mode", "", "fifo, mailbox or immediate")
	fs.IntVar(&o.inFlight, "in-flight", 0, "frames recorded ahead of the device")
	fs.StringVar(&o.shaders, "shaders", "", "shader directory or kar archive")
	fs.IntVar(&o.fps, "fps", -1, "frame rate cap, 0 is uncapped")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	fs.StringVar(&o.cpuProfile, "cpuprofile", "", "write a cpu profile to this file")
	return o, fs.Parse(args)
}

// configure layers defaults, environment and flags, in that order.
func configure(o options) (core.Configuration, error) {
	cfg := core.DefaultConfiguration()
	cfg.Instance.ApplicationName = "vkloop"
	if err := core.LoadEnvironment(&cfg, o.envFile); err != nil {
		return cfg, err
	}
	if o.validation {
		cfg.Instance.EnableValidation = true
	}
	if o.presentMode != "" {
		mode, err := device.ParsePresentMode(o.presentMode)
		if err != nil {
			return cfg, err
		}
		cfg.Renderer.PresentMode = mode
	}
	if o.inFlight > 0 {
		cfg.Renderer.InFlightFrames = o.inFlight
	}
	if o.shaders != "" {
		cfg.Renderer.ShaderSource = o.shaders
	}
	if o.fps >= 0 {
		cfg.Time.FramesPerSecond = o.fps
	}
	return cfg, cfg.Validate()
}

func loadShaders(path string) ([]device.ShaderStage, error) {
	src, closer, err := shader.Open(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return shader.Load(src)
}

// spinner draws the triangle rotating at one radian per second.
func spinner() core.DrawSource {
	mesh := model.Triangle()
	var angle float32
	return core.DrawFunc(func(frame uint64, extent device.Extent, dt time.Duration) core.DrawState {
		angle += float32(dt.Seconds())
		return core.DrawState{
			Mesh:      mesh,
			Transform: model.Fit(extent).Mul4(model.Spin(angle)),
		}
	})
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseFlags(flag.NewFlagSet("vkloop", flag.ExitOnError), args)
	if err != nil {
		log.WithError(err).Error("invalid arguments")
		return 2
	}
	logger := log.New()
	if o.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			logger.WithError(err).Error("could not create cpu profile")
			return 1
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.WithError(err).Error("could not start cpu profile")
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := configure(o)
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.headless {
		err = runHeadless(ctx, o, cfg, logger)
	} else {
		err = runWindowed(ctx, o, cfg, logger)
	}
	if err != nil {
		logger.WithError(err).Error("vkloop failed")
	}
	return core.ExitCode(err)
}

func runHeadless(ctx context.Context, o options, cfg core.Configuration, logger *log.Logger) error {
	shaders, err := loadShaders(cfg.Renderer.ShaderSource)
	if err != nil {
		logger.WithError(err).Debug("using stub shaders")
		shaders = shader.Stub("triangle")
	}

	opts := headless.DefaultOptions()
	opts.Latency = cfg.Renderer.InFlightFrames
	opts.Logger = logger
	drv := headless.New(opts)
	defer drv.Destroy()

	extent := device.Extent{Width: cfg.Renderer.ScreenWidth, Height: cfg.Renderer.ScreenHeight}
	win := drv.NewWindow(extent)

	renderer, err := core.NewFrameRenderer(drv, win, core.DefaultPipelineDescription(shaders), cfg, logger)
	if err != nil {
		return err
	}
	if err := renderer.Initialise(); err != nil {
		return err
	}
	defer renderer.Destroy()

	if o.frames <= 0 {
		err = renderer.Run(ctx, spinner())
	} else {
		// halve the surface ahead of frame resizeAt
		err = drawFrames(ctx, renderer, win, o.frames, spinner(), func(frame int) {
			if o.resizeAt > 0 && frame == o.resizeAt {
				extent := win.FramebufferExtent()
				win.Resize(device.Extent{Width: extent.Width / 2, Height: extent.Height / 2})
				renderer.NotifyResize()
			}
		})
	}

	stats := renderer.Stats()
	logger.WithFields(log.Fields{
		"frames":        stats.Frames,
		"recreations":   stats.Recreations,
		"skipped":       stats.Skipped,
		"max-in-flight": stats.MaxInFlight,
		"extent":        win.FramebufferExtent(),
		"violations":    len(drv.Violations()),
	}).Info("headless run finished")
	for _, v := range drv.Violations() {
		logger.Warn(v)
	}
	return err
}

// drawFrames draws a fixed number of frames. before, if set, runs
// ahead of every frame.
func drawFrames(ctx context.Context, renderer core.Renderer, win core.Window, frames int, source core.DrawSource, before func(frame int)) error {
	var timer core.FrameTimer
	for frame := 0; frame < frames; frame++ {
		if ctx.Err() != nil {
			return nil
		}
		if before != nil {
			before(frame)
		}
		state := source.Next(uint64(frame), win.FramebufferExtent(), timer.Tick())
		if err := renderer.Draw(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

func runWindowed(ctx context.Context, o options, cfg core.Configuration, logger *log.Logger) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: "window", Err: errors.Wrap(err, "sdl.Init()")}
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: "window", Err: errors.Wrap(err, "sdl.VulkanLoadLibrary()")}
	}
	defer sdl.VulkanUnloadLibrary()

	win, err := newWindow(cfg.Instance.ApplicationName, cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight)
	if err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: "window", Err: err}
	}
	defer win.destroy()

	drv, err := vkdevice.New(vkdevice.Options{
		ApplicationName: cfg.Instance.ApplicationName,
		Extensions:      append(win.window.VulkanGetInstanceExtensions(), cfg.Instance.Extensions...),
		Layers:          cfg.Instance.Layers,
		Validation:      cfg.Instance.EnableValidation,
		ProcAddr:        sdl.VulkanGetVkGetInstanceProcAddr(),
		Logger:          logger,
	})
	if err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: "instance", Err: err}
	}
	defer drv.Destroy()
	if err := win.createSurface(drv); err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: core.StageSurface, Err: err}
	}

	shaders, err := loadShaders(cfg.Renderer.ShaderSource)
	if err != nil {
		return &core.Error{Kind: core.InitializationError, Stage: "shaders", Err: err}
	}
	renderer, err := core.NewFrameRenderer(drv, win, core.DefaultPipelineDescription(shaders), cfg, logger)
	if err != nil {
		return err
	}
	if err := renderer.Initialise(); err != nil {
		return err
	}
	defer renderer.Destroy()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if o.frames > 0 {
			return drawFrames(ctx, renderer, win, o.frames, spinner(), nil)
		}
		return renderer.Run(ctx, spinner())
	})

	// SDL events have to be pumped on the thread that created the window.
	ticker := renderer.Time().EventTicker()
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-ticker.C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						cancel()
					}
				case *sdl.WindowEvent:
					switch et.Event {
					case sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_RESTORED:
						logger.WithField("extent", win.updateExtent()).Debug("window resized")
						renderer.NotifyResize()
					}
				case *sdl.QuitEvent:
					cancel()
				}
			}
		}
	}
	return g.Wait()
}
