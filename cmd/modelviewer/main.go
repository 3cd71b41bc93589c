package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/camera"
	"github.com/vkngwrapper/modelviewer/config"
	"github.com/vkngwrapper/modelviewer/frame"
	"github.com/vkngwrapper/modelviewer/gpu"
	"github.com/vkngwrapper/modelviewer/model"
	"github.com/vkngwrapper/modelviewer/render"
	"github.com/vkngwrapper/modelviewer/swapchain"
	"github.com/vkngwrapper/modelviewer/window"
	"golang.org/x/exp/slog"
)

const titleInterval = time.Second

type ModelViewerApplication struct {
	cfg    config.Config
	logger *slog.Logger

	window    *window.Window
	ctx       *gpu.Context
	swapchain *swapchain.Manager
	renderer  *render.Renderer
	presenter *frame.Presenter
	scheduler *frame.Scheduler

	model  *model.Model
	camera *camera.Orbit
}

func (app *ModelViewerApplication) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}

	err = app.initVulkan()
	if err != nil {
		return err
	}

	defer app.cleanup()
	return app.mainLoop()
}

func (app *ModelViewerApplication) initWindow() error {
	var err error
	app.window, err = window.New(app.cfg.Title, app.cfg.Width, app.cfg.Height)
	return err
}

func (app *ModelViewerApplication) initVulkan() error {
	initSteps := []func() error{
		app.createContext,
		app.loadModel,
		app.createSwapchain,
		app.createRenderer,
		app.createPresenter,
	}

	for _, step := range initSteps {
		err := step()
		if err != nil {
			app.cleanup()
			return err
		}
	}

	return nil
}

func (app *ModelViewerApplication) createContext() error {
	var err error
	app.ctx, err = gpu.NewContext(app.window, gpu.ContextOptions{
		ApplicationName:  app.cfg.Title,
		EnableValidation: app.cfg.Validation,
		AllowIntegrated:  app.cfg.AllowIntegrated,
		Logger:           app.logger,
	})
	return err
}

func (app *ModelViewerApplication) loadModel() error {
	start := hrtime.Now()

	var err error
	app.model, err = model.LoadOBJ(app.cfg.ModelPath)
	if err != nil {
		return err
	}

	lo, hi := app.model.Bounds()
	app.camera = camera.NewOrbit()
	app.camera.Frame(lo.Add(hi).Mul(0.5), hi.Sub(lo).Len()/2)

	app.logger.Info("model loaded",
		slog.String("path", app.cfg.ModelPath),
		slog.Int("meshes", len(app.model.Meshes())),
		slog.Int("vertices", app.model.VertexCount()),
		slog.Int("triangles", app.model.TriangleCount()),
		slog.Duration("elapsed", hrtime.Since(start)),
	)
	return nil
}

func (app *ModelViewerApplication) createSwapchain() error {
	var err error
	app.swapchain, err = swapchain.New(app.ctx, app.window, swapchain.Options{
		VSync:  app.cfg.VSync,
		Logger: app.logger,
	})
	if err != nil {
		return err
	}

	extent := app.swapchain.Extent()
	app.camera.SetViewport(extent.Width, extent.Height)
	return nil
}

func (app *ModelViewerApplication) createRenderer() error {
	paths := app.model.TexturePaths()
	decoder, err := model.PreloadTextures(context.Background(), model.FileDecoder{}, paths, app.cfg.PreloadWorkers)
	if err != nil {
		return err
	}
	app.logger.Debug("textures decoded", slog.Int("requested", len(paths)), slog.Int("decoded", decoder.Len()))

	app.renderer, err = render.New(app.ctx, app.swapchain.ImageCount(), app.swapchain.RenderPass(), render.Options{
		MaxVertices:        app.cfg.MaxVertices,
		MaxIndices:         app.cfg.MaxIndices,
		MaxObjects:         app.cfg.MaxObjects,
		MaxTextures:        app.cfg.MaxTextures,
		VertexShaderPath:   app.cfg.VertexShaderPath,
		FragmentShaderPath: app.cfg.FragmentShaderPath,
		PipelineCachePath:  app.cfg.PipelineCachePath,
		Decoder:            decoder,
		Logger:             app.logger,
	})
	return err
}

func (app *ModelViewerApplication) createPresenter() error {
	var err error
	app.presenter, err = frame.NewPresenter(app.ctx, app.swapchain, app.recordFrame)
	if err != nil {
		return err
	}
	app.presenter.OnRebuild = app.swapchainRebuilt

	app.scheduler = frame.NewScheduler(app.presenter, app.logger)
	return nil
}

func (app *ModelViewerApplication) recordFrame(cmd core1_0.CommandBuffer, imageIndex int) error {
	return app.renderer.RecordDraws(cmd, imageIndex, app.camera.View(), app.camera.Projection())
}

func (app *ModelViewerApplication) swapchainRebuilt(imageCount int, renderPass core1_0.RenderPass) error {
	extent := app.swapchain.Extent()
	app.camera.SetViewport(extent.Width, extent.Height)
	return app.renderer.Rebuild(imageCount, renderPass)
}

func (app *ModelViewerApplication) mainLoop() error {
	last := hrtime.Now()
	titleUpdated := last
	frames := 0

	for !app.window.ShouldClose() {
		app.window.PollEvents()
		if app.window.TakeResized() {
			app.scheduler.Invalidate()
		}

		now := hrtime.Now()
		app.camera.Update(app.window.Input().Snapshot(), now-last)
		last = now

		err := app.drawFrame()
		if errors.Is(err, swapchain.ErrClosed) {
			app.logger.Debug("window closed while minimized")
			break
		}
		if errors.Is(err, frame.ErrFatal) {
			app.logger.Error("stopping after fatal frame error", slog.Any("error", err))
		}
		if err != nil {
			return err
		}
		frames++

		if elapsed := now - titleUpdated; elapsed >= titleInterval {
			fps := float64(frames) / elapsed.Seconds()
			app.window.SetTitle(fmt.Sprintf("%s (%.0f fps)", app.cfg.Title, fps))
			titleUpdated = now
			frames = 0
		}
	}

	stats := app.scheduler.Stats()
	renderStats := app.renderer.Stats()
	app.logger.Info("shutting down",
		slog.Int("framesPresented", stats.FramesPresented),
		slog.Int("framesSkipped", stats.FramesSkipped),
		slog.Int("rebuilds", stats.Rebuilds),
		slog.Int("pipelineBuilds", renderStats.PipelineBuilds),
		slog.Int("textureFailures", renderStats.TextureFailures),
	)
	return nil
}

func (app *ModelViewerApplication) drawFrame() error {
	err := app.renderer.BeginBatch()
	if err != nil {
		return err
	}

	err = app.renderer.Submit(app.model)
	if err != nil {
		return err
	}

	err = app.renderer.EndBatch()
	if err != nil {
		return err
	}

	outcome, err := app.scheduler.DrawFrame()
	if err != nil {
		return err
	}
	if outcome == frame.FrameRebuilt {
		app.logger.Debug("swapchain rebuilt", slog.Any("extent", app.swapchain.Extent()))
	}

	return nil
}

func (app *ModelViewerApplication) cleanup() {
	app.presenter.Destroy()
	app.presenter = nil

	app.renderer.Destroy()
	app.renderer = nil

	app.swapchain.Destroy()
	app.swapchain = nil

	app.ctx.Destroy()
	app.ctx = nil

	app.window.Destroy()
	app.window = nil
}

func main() {
	runtime.LockOSThread()

	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	level, err := cfg.Level()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	app := &ModelViewerApplication{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	err = app.Run()
	if err != nil {
		if hints := errors.FlattenHints(err); hints != "" {
			log.Printf("hint: %s", hints)
		}
		log.Fatalf("%+v\n", err)
	}
}
