package engine

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const defaultTickRate = 16 * time.Millisecond

type Options struct {
	ApplicationName    string
	Validation         bool
	RequireDiscreteGPU bool
	// LoaderGLFW initializes GLFW and loads Vulkan through it.
	LoaderGLFW bool
	// TickRate is how often Run polls for asset changes.
	TickRate time.Duration
}

// Engine hosts the device, one command queue per queue class and the
// pipelines found in the shader directory. Everything it owns is used from
// the goroutine that calls Run.
type Engine struct {
	currentStage  Stage
	config        *core.Config
	options       Options
	context       *vulkan.Context
	renderPass    *vulkan.VulkanRenderPass
	systemManager *systems.SystemManager
	queues        map[renderer.QueueFlags]*renderer.CommandQueue
	clock         *core.Clock
	metrics       *core.FrameMetrics

	stop     chan struct{}
	stopOnce sync.Once
}

func New(config *core.Config, options Options) (*Engine, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if options.TickRate <= 0 {
		options.TickRate = defaultTickRate
	}
	core.SetLogLevel(config.Log.Level)

	return &Engine{
		currentStage: EngineStageUninitialized,
		config:       config,
		options:      options,
		queues:       make(map[renderer.QueueFlags]*renderer.CommandQueue),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		stop:         make(chan struct{}),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		err := fmt.Errorf("engine already initialized: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	if err := e.initialize(); err != nil {
		_ = e.teardown()
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) initialize() error {
	if e.options.LoaderGLFW {
		if err := glfw.Init(); err != nil {
			err = fmt.Errorf("failed to initialize glfw: %v: %w", err, core.ErrConfiguration)
			core.LogError(err.Error())
			return err
		}
	}

	ctx, err := vulkan.NewContext(vulkan.ContextConfig{
		ApplicationName:    e.options.ApplicationName,
		Validation:         e.options.Validation,
		LoaderGLFW:         e.options.LoaderGLFW,
		RequireDiscreteGPU: e.options.RequireDiscreteGPU,
	})
	if err != nil {
		return err
	}
	e.context = ctx

	rp, err := ctx.NewRenderPass(vulkan.RenderPassConfig{Depth: true})
	if err != nil {
		return err
	}
	e.renderPass = rp

	timeout, err := e.config.Renderer.Timeout()
	if err != nil {
		return err
	}
	for _, flags := range []renderer.QueueFlags{renderer.QueueGraphics, renderer.QueueCompute, renderer.QueueTransfer} {
		q, err := renderer.NewCommandQueue(ctx, renderer.CommandQueueConfig{
			Flags:          flags,
			CommandListCap: e.config.Renderer.CommandListCap,
			FenceTimeout:   timeout,
		})
		if err != nil {
			return err
		}
		e.queues[flags] = q
	}

	sm, err := systems.NewSystemManager(e.config, ctx, rp)
	if err != nil {
		return err
	}
	e.systemManager = sm

	return e.loadPipelines()
}

// loadPipelines creates a pipeline for every config file in the shader
// directory. A broken config is logged and skipped.
func (e *Engine) loadPipelines() error {
	dir := e.config.Assets.ShaderDir
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			core.LogWarn("skipping %s: %s", path, err.Error())
			return nil
		}
		if d.IsDir() || assets.DetermineAssetType(path) != metadata.ResourceTypePipelineConfig {
			return nil
		}
		if _, _, err := e.systemManager.Pipelines().CreateFromFile(path); err != nil {
			core.LogWarn("pipeline config %s was not loaded: %s", path, err.Error())
		}
		return nil
	})
}

// Queue returns the command queue for a single queue class.
func (e *Engine) Queue(flags renderer.QueueFlags) *renderer.CommandQueue {
	return e.queues[flags]
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

// Run ticks until Shutdown is called, then releases everything on the
// calling goroutine.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		err := fmt.Errorf("engine must be initialized before running: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	e.currentStage = EngineStageRunning

	ticker := time.NewTicker(e.options.TickRate)
	defer ticker.Stop()

	e.clock.Start()
	last := e.clock.Elapsed()
	for {
		select {
		case <-e.stop:
			return e.teardown()
		case <-ticker.C:
			if e.options.LoaderGLFW {
				glfw.PollEvents()
			}
			e.clock.Update()
			now := e.clock.Elapsed()
			e.systemManager.Update()
			e.metrics.Update(now - last)
			last = now
		}
	}
}

// Shutdown asks Run to stop. It is safe to call from any goroutine.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

func (e *Engine) teardown() error {
	e.currentStage = EngineStageShuttingDown
	e.clock.Stop()
	core.LogInfo("shutting down after %s (%.1f fps, %.2f ms/frame)", e.clock.Elapsed(), e.metrics.FPS(), e.metrics.FrameTime())

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.context != nil {
		keep(e.context.WaitIdle())
	}
	for flags, q := range e.queues {
		keep(q.Destroy())
		delete(e.queues, flags)
	}
	if e.systemManager != nil {
		keep(e.systemManager.Shutdown())
	}
	if e.renderPass != nil {
		e.renderPass.Destroy()
	}
	if e.context != nil {
		e.context.Destroy()
	}
	if e.options.LoaderGLFW {
		glfw.Terminate()
	}
	e.currentStage = EngineStageUninitialized
	return firstErr
}
