package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const eventBufferSize = 64

type AssetOp int

const (
	AssetCreated AssetOp = iota
	AssetModified
	AssetRemoved
)

func (op AssetOp) String() string {
	switch op {
	case AssetCreated:
		return "created"
	case AssetModified:
		return "modified"
	case AssetRemoved:
		return "removed"
	}
	return fmt.Sprintf("AssetOp(%d)", int(op))
}

// AssetEvent reports a change to a known asset. Path is absolute.
type AssetEvent struct {
	Path string
	Type metadata.ResourceType
	Op   AssetOp
}

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

// AssetManager indexes the asset directory, dispatches loads to the loader
// registered for each file type and, when watching, reports changes on
// Events.
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	done      chan struct{}
	stopped   chan struct{}
	fsnotify  *fsnotify.Watcher
	isClosed  bool
	watching  bool
	closeOnce sync.Once
	events    chan AssetEvent
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		err = fmt.Errorf("unable to create file watcher: %v: %w", err, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		fsnotify: fsWatch,
		events:   make(chan AssetEvent, eventBufferSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	am.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	am.registerLoader(metadata.ResourceTypeWGSL, &loaders.WGSLLoader{})
	am.registerLoader(metadata.ResourceTypePipelineConfig, &loaders.PipelineConfigLoader{})
	am.registerLoader(metadata.ResourceTypeTexture, &loaders.ImageLoader{})

	return am, nil
}

// Initialize indexes assetsDir. With watch set the directory tree is also
// watched and changes are published on Events.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	if am.isClosed {
		return fmt.Errorf("asset manager already closed: %w", core.ErrStateMisuse)
	}
	if !watch {
		return am.index(assetsDir)
	}
	if am.watching {
		err := fmt.Errorf("asset manager is already watching: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}

	am.watching = true
	go am.start()

	if err := am.watchRecursive(assetsDir, false); err != nil {
		err = fmt.Errorf("unable to watch `%s`: %v: %w", assetsDir, err, core.ErrConfiguration)
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("watching assets in %s", assetsDir)
	return nil
}

// Events delivers asset changes. It is closed by Close.
func (am *AssetManager) Events() <-chan AssetEvent {
	return am.events
}

func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Load reads path with the loader registered for its extension.
func (am *AssetManager) Load(path string, params interface{}) (*metadata.Resource, error) {
	assetType := DetermineAssetType(path)
	loader, ok := am.loaders[assetType]
	if !ok {
		err := fmt.Errorf("no loader registered for `%s`: %w", path, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}

	res, err := loader.Load(path, assetType, params)
	if err != nil {
		return nil, err
	}

	abs := absPath(path)
	am.mutex.Lock()
	am.assets[abs] = AssetInfo{Path: abs, Type: assetType, LastLoaded: time.Now()}
	am.mutex.Unlock()
	return res, nil
}

func (am *AssetManager) Unload(res *metadata.Resource) error {
	if res == nil {
		return nil
	}
	loader, ok := am.loaders[res.Type]
	if !ok {
		return nil
	}
	return loader.Unload(res)
}

// Lookup reports the index entry for path.
func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[absPath(path)]
	return info, ok
}

// Close stops watching and closes Events.
func (am *AssetManager) Close() error {
	var err error
	am.closeOnce.Do(func() {
		am.isClosed = true
		close(am.done)
		if am.watching {
			<-am.stopped
		}
		err = am.fsnotify.Close()
		close(am.events)
	})
	return err
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handle(e)

		case e, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handle(e fsnotify.Event) {
	name := absPath(e.Name)

	s, err := os.Stat(name)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(name, false); err != nil {
				core.LogWarn("unable to watch new directory %s: %s", name, err.Error())
			}
		}
		return
	}

	switch {
	case e.Op&fsnotify.Create != 0:
		am.handleFileEvent(name, AssetCreated)
	case e.Op&fsnotify.Write != 0:
		am.handleFileEvent(name, AssetModified)
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// Can't stat a deleted path, so try to drop it from the watch list too.
		_ = am.fsnotify.Remove(name)
		am.removeAsset(name)
	}
}

// watchRecursive adds or removes every directory under path and indexes the
// files it finds.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.indexFile(absPath(walkPath))
		return nil
	})
}

func (am *AssetManager) index(path string) error {
	err := filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			am.indexFile(absPath(walkPath))
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("unable to index `%s`: %v: %w", path, err, core.ErrConfiguration)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (am *AssetManager) indexFile(path string) metadata.ResourceType {
	assetType := DetermineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return assetType
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if _, ok := am.assets[path]; !ok {
		am.assets[path] = AssetInfo{Path: path, Type: assetType}
	}
	return assetType
}

func (am *AssetManager) handleFileEvent(path string, op AssetOp) {
	assetType := am.indexFile(path)
	if assetType == metadata.ResourceTypeNone {
		return
	}
	am.publish(AssetEvent{Path: path, Type: assetType, Op: op})
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	info, ok := am.assets[path]
	delete(am.assets, path)
	am.mutex.Unlock()
	if ok {
		am.publish(AssetEvent{Path: path, Type: info.Type, Op: AssetRemoved})
	}
}

// publish never blocks the watcher goroutine; a full buffer drops the event.
func (am *AssetManager) publish(e AssetEvent) {
	select {
	case am.events <- e:
	default:
		core.LogWarn("asset event buffer full, dropping %s of %s", e.Op, e.Path)
	}
}

func DetermineAssetType(path string) metadata.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return metadata.ResourceTypeBinary
	case ".wgsl":
		return metadata.ResourceTypeWGSL
	case ".pipelinecfg":
		return metadata.ResourceTypePipelineConfig
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return metadata.ResourceTypeTexture
	default:
		return metadata.ResourceTypeNone
	}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
