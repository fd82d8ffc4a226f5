package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var spirvHeader = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, metadata.ResourceTypeBinary, DetermineAssetType("shaders/a.vert.spv"))
	assert.Equal(t, metadata.ResourceTypeWGSL, DetermineAssetType("a.wgsl"))
	assert.Equal(t, metadata.ResourceTypePipelineConfig, DetermineAssetType("world.pipelinecfg"))
	assert.Equal(t, metadata.ResourceTypeTexture, DetermineAssetType("t.jpeg"))
	assert.Equal(t, metadata.ResourceTypeNone, DetermineAssetType("readme.md"))
}

func TestLoadDispatchesByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.spv")
	require.NoError(t, os.WriteFile(path, spirvHeader, 0o644))

	am, err := NewAssetManager()
	require.NoError(t, err)
	defer am.Close()
	require.NoError(t, am.Initialize(dir, false))

	info, ok := am.Lookup(path)
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeBinary, info.Type)
	assert.True(t, info.LastLoaded.IsZero())

	res, err := am.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceTypeBinary, res.Type)
	assert.Len(t, res.Data, 2)

	info, _ = am.Lookup(path)
	assert.False(t, info.LastLoaded.IsZero())
	require.NoError(t, am.Unload(res))

	_, err = am.Load(filepath.Join(dir, "notes.txt"), nil)
	assert.ErrorIs(t, err, core.ErrArgument)
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()

	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir, true))

	path := filepath.Join(dir, "b.spv")
	require.NoError(t, os.WriteFile(path, spirvHeader, 0o644))

	want, err := filepath.Abs(path)
	require.NoError(t, err)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-am.Events():
			if e.Path != want {
				continue
			}
			assert.Equal(t, metadata.ResourceTypeBinary, e.Type)
			assert.NotEqual(t, AssetRemoved, e.Op)
			require.NoError(t, am.Close())
			_, open := <-am.Events()
			for open {
				_, open = <-am.Events()
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for asset event")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Close())
	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Initialize(t.TempDir(), false), core.ErrStateMisuse)
}

func TestInitializeWatchesOnce(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, am.Initialize(dir, true))
	assert.ErrorIs(t, am.Initialize(dir, true), core.ErrStateMisuse)
	// indexing again is still allowed
	require.NoError(t, am.Initialize(dir, false))

	// a single watcher goroutine exits, so Close does not panic
	require.NoError(t, am.Close())
}
