package systems

import (
	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/spirv"
)

const defaultMaxPipelineCount = 256

type SystemManager struct {
	assetManager   *assets.AssetManager
	pipelineSystem *PipelineSystem
}

// NewSystemManager wires the asset manager to a pipeline system using SPIR-V
// reflection. renderPass may be nil when only compute pipelines are created.
func NewSystemManager(config *core.Config, device renderer.Device, renderPass renderer.RenderPass) (*SystemManager, error) {
	if config == nil {
		config = core.DefaultConfig()
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		return nil, err
	}
	if err := am.Initialize(config.Assets.ShaderDir, config.Assets.Watch); err != nil {
		am.Close()
		return nil, err
	}

	ps, err := NewPipelineSystem(&PipelineSystemConfig{
		MaxPipelineCount: defaultMaxPipelineCount,
		ShaderDir:        config.Assets.ShaderDir,
		FramesInFlight:   config.Renderer.FramesInFlight,
	}, device, am, spirv.Reflector, renderPass)
	if err != nil {
		am.Close()
		return nil, err
	}
	if config.Assets.Watch {
		ps.Watch(am.Events())
	}

	return &SystemManager{
		assetManager:   am,
		pipelineSystem: ps,
	}, nil
}

func (sm *SystemManager) Assets() *assets.AssetManager {
	return sm.assetManager
}

func (sm *SystemManager) Pipelines() *PipelineSystem {
	return sm.pipelineSystem
}

// Update runs once per frame on the thread that owns the pipelines.
func (sm *SystemManager) Update() {
	if n := sm.pipelineSystem.Poll(); n > 0 {
		core.LogDebug("hot reloaded %d pipeline(s)", n)
	}
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.pipelineSystem.Shutdown(); err != nil {
		return err
	}
	return sm.assetManager.Close()
}
