package systems

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/** @brief Configuration for the pipeline system. */
type PipelineSystemConfig struct {
	/** @brief The maximum number of pipelines held in the system. */
	MaxPipelineCount uint32
	/** @brief Relative stage paths are resolved against this directory. */
	ShaderDir string
	/** @brief Frames in flight for pipelines whose config does not override it. */
	FramesInFlight uint32
}

// AssetSource loads stage bytecode and pipeline configs. *assets.AssetManager
// satisfies it.
type AssetSource interface {
	Load(path string, params interface{}) (*metadata.Resource, error)
}

// PipelineSystem owns every pipeline of the application, keyed by name and by
// a small integer ID. It is not safe for concurrent use.
type PipelineSystem struct {
	// This system's configuration.
	Config *PipelineSystemConfig

	device     renderer.Device
	assets     AssetSource
	reflect    renderer.ReflectFunc
	renderPass renderer.RenderPass

	ids *core.Identifiers
	// A lookup table for pipeline name->id
	lookup map[string]uint32
	// absolute stage path -> names of the pipelines using it
	stageFiles map[string]map[string]struct{}

	events <-chan assets.AssetEvent
}

func NewPipelineSystem(config *PipelineSystemConfig, device renderer.Device, source AssetSource, reflect renderer.ReflectFunc, renderPass renderer.RenderPass) (*PipelineSystem, error) {
	if config == nil || config.MaxPipelineCount == 0 {
		err := fmt.Errorf("NewPipelineSystem - config.MaxPipelineCount must be greater than 0: %w", core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	if device == nil || source == nil || reflect == nil {
		err := fmt.Errorf("NewPipelineSystem - device, asset source and reflection are required: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}

	return &PipelineSystem{
		Config:     config,
		device:     device,
		assets:     source,
		reflect:    reflect,
		renderPass: renderPass,
		ids:        core.NewIdentifiers(int(config.MaxPipelineCount)),
		lookup:     make(map[string]uint32),
		stageFiles: make(map[string]map[string]struct{}),
	}, nil
}

// Watch subscribes to asset changes. Events are consumed by Poll.
func (ps *PipelineSystem) Watch(events <-chan assets.AssetEvent) {
	ps.events = events
}

// Create builds and loads a pipeline from cfg and registers it under a new ID.
func (ps *PipelineSystem) Create(cfg *metadata.PipelineConfig) (*renderer.Pipeline, uint32, error) {
	if cfg == nil {
		err := fmt.Errorf("pipeline config is nil: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, 0, err
	}
	if _, ok := ps.lookup[cfg.Name]; ok {
		err := fmt.Errorf("pipeline `%s` already exists: %w", cfg.Name, core.ErrDuplicateResource)
		core.LogError(err.Error())
		return nil, 0, err
	}
	if uint32(len(ps.lookup)) >= ps.Config.MaxPipelineCount {
		err := fmt.Errorf("unable to create pipeline `%s`, the limit of %d pipelines is reached: %w", cfg.Name, ps.Config.MaxPipelineCount, core.ErrRange)
		core.LogError(err.Error())
		return nil, 0, err
	}

	pipeline, err := renderer.NewPipeline(ps.device, renderer.PipelineDesc{
		Config:         cfg,
		FramesInFlight: ps.Config.FramesInFlight,
		RenderPass:     ps.renderPass,
		Reflect:        ps.reflect,
	})
	if err != nil {
		return nil, 0, err
	}

	stages, files, err := ps.loadStages(cfg)
	if err != nil {
		pipeline.Destroy()
		return nil, 0, err
	}
	if err := pipeline.Load(stages); err != nil {
		pipeline.Destroy()
		return nil, 0, err
	}

	id := ps.ids.Acquire(pipeline)
	ps.lookup[cfg.Name] = id
	for _, file := range files {
		users, ok := ps.stageFiles[file]
		if !ok {
			users = make(map[string]struct{})
			ps.stageFiles[file] = users
		}
		users[cfg.Name] = struct{}{}
	}
	core.LogInfo("pipeline `%s` created with id %d", cfg.Name, id)
	return pipeline, id, nil
}

// CreateFromFile loads a .pipelinecfg file and creates the pipeline it
// describes.
func (ps *PipelineSystem) CreateFromFile(path string) (*renderer.Pipeline, uint32, error) {
	res, err := ps.assets.Load(ps.resolve(path), nil)
	if err != nil {
		return nil, 0, err
	}
	cfg, ok := res.Data.(*metadata.PipelineConfig)
	if !ok {
		err := fmt.Errorf("`%s` is not a pipeline config: %w", path, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, 0, err
	}
	return ps.Create(cfg)
}

// Get returns the pipeline registered under id, or nil.
func (ps *PipelineSystem) Get(id uint32) *renderer.Pipeline {
	pipeline, _ := ps.ids.Owner(id).(*renderer.Pipeline)
	return pipeline
}

// Lookup returns the ID of the named pipeline or renderer.NotFound.
func (ps *PipelineSystem) Lookup(name string) int {
	id, ok := ps.lookup[name]
	if !ok {
		core.LogDebug("pipeline `%s` not found", name)
		return renderer.NotFound
	}
	return int(id)
}

// Reload rereads the stages of the named pipeline and loads it again. On
// failure the pipeline stays registered but unloaded.
func (ps *PipelineSystem) Reload(name string) error {
	id, ok := ps.lookup[name]
	if !ok {
		err := fmt.Errorf("pipeline `%s` does not exist: %w", name, core.ErrResourceNotFound)
		core.LogError(err.Error())
		return err
	}
	pipeline := ps.Get(id)
	cfg := pipeline.Config()

	stages, _, err := ps.loadStages(&cfg)
	if err != nil {
		pipeline.Unload()
		return err
	}
	if err := pipeline.Load(stages); err != nil {
		return err
	}
	core.LogInfo("pipeline `%s` reloaded", name)
	return nil
}

// Destroy unloads the pipeline, releases its native objects and frees its ID.
func (ps *PipelineSystem) Destroy(id uint32) error {
	pipeline := ps.Get(id)
	if pipeline == nil {
		err := fmt.Errorf("no pipeline with id %d: %w", id, core.ErrResourceNotFound)
		core.LogError(err.Error())
		return err
	}

	name := pipeline.Name()
	pipeline.Destroy()
	if err := ps.ids.Release(id); err != nil {
		core.LogError(err.Error())
		return err
	}
	delete(ps.lookup, name)
	for file, users := range ps.stageFiles {
		delete(users, name)
		if len(users) == 0 {
			delete(ps.stageFiles, file)
		}
	}
	return nil
}

// Poll drains pending asset events and reloads every pipeline whose stage
// files changed. It returns the number of pipelines reloaded successfully.
// Failures are logged and leave the pipeline unloaded.
func (ps *PipelineSystem) Poll() int {
	if ps.events == nil {
		return 0
	}

	dirty := make(map[string]struct{})
drain:
	for {
		select {
		case e, ok := <-ps.events:
			if !ok {
				ps.events = nil
				break drain
			}
			if e.Op == assets.AssetRemoved {
				continue
			}
			for name := range ps.stageFiles[e.Path] {
				dirty[name] = struct{}{}
			}
		default:
			break drain
		}
	}

	names := make([]string, 0, len(dirty))
	for name := range dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	reloaded := 0
	for _, name := range names {
		if err := ps.Reload(name); err != nil {
			core.LogWarn("pipeline `%s` failed to reload and stays unloaded: %s", name, err.Error())
			continue
		}
		reloaded++
	}
	return reloaded
}

// Shutdown destroys every pipeline still registered.
func (ps *PipelineSystem) Shutdown() error {
	var ids []uint32
	ps.ids.Each(func(id uint32, owner interface{}) {
		ids = append(ids, id)
	})
	for _, id := range ids {
		if err := ps.Destroy(id); err != nil {
			return err
		}
	}
	return nil
}

// loadStages reads every stage file of cfg and returns the modules with the
// absolute paths they came from.
func (ps *PipelineSystem) loadStages(cfg *metadata.PipelineConfig) (map[metadata.ShaderStage]metadata.ShaderModule, []string, error) {
	files, order, err := cfg.StageFiles()
	if err != nil {
		err = fmt.Errorf("pipeline `%s`: %v: %w", cfg.Name, err, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, nil, err
	}

	stages := make(map[metadata.ShaderStage]metadata.ShaderModule, len(order))
	paths := make([]string, 0, len(order))
	for _, stage := range order {
		path := ps.resolve(files[stage])
		res, err := ps.assets.Load(path, map[string]string{"name": fmt.Sprintf("%s.%s", cfg.Name, stage)})
		if err != nil {
			return nil, nil, err
		}
		words, ok := res.Data.([]uint32)
		if !ok {
			err := fmt.Errorf("%s stage of pipeline `%s` at `%s` is not shader bytecode: %w", stage, cfg.Name, path, core.ErrConfiguration)
			core.LogError(err.Error())
			return nil, nil, err
		}
		stages[stage] = metadata.ShaderModule{
			Stage: stage,
			Name:  res.Name,
			Code:  words,
		}
		paths = append(paths, path)
	}
	return stages, paths, nil
}

func (ps *PipelineSystem) resolve(path string) string {
	if !filepath.IsAbs(path) && ps.Config.ShaderDir != "" {
		path = filepath.Join(ps.Config.ShaderDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
