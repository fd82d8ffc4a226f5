package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func TestParseFieldExpression(t *testing.T) {
	accesses, err := parseFieldExpression("lights[2].color")
	require.NoError(t, err)
	assert.Equal(t, []fieldAccess{
		{name: "lights", indices: []uint32{2}},
		{name: "color"},
	}, accesses)

	accesses, err = parseFieldExpression("bones[1][ 2 ]")
	require.NoError(t, err)
	assert.Equal(t, []fieldAccess{{name: "bones", indices: []uint32{1, 2}}}, accesses)

	for _, bad := range []string{"lights[", "lights[x]", "lights[1]x", ".color", "lights..color", "[1]"} {
		_, err := parseFieldExpression(bad)
		assert.ErrorIs(t, err, core.ErrArgument, bad)
	}
}

func TestGetBufferOffset(t *testing.T) {
	_, p := loadedWorldPipeline(t)

	cases := map[string]int{
		"ambient":            0,
		"lights":             16,
		"lights[0]":          16,
		"lights[2]":          16 + 2*32,
		"lights[3].position": 16 + 3*32 + 16,
		"bones[0][0]":        144,
		"bones[1][2]":        144 + (1*3+2)*64,
		"bones[0][1]":        144 + 64,
	}
	for expr, want := range cases {
		got, err := p.GetBufferOffset("Lights", expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}

	size, err := p.GetBufferSize("Lights")
	require.NoError(t, err)
	assert.Equal(t, 528, size)
}

func TestGetBufferOffsetRange(t *testing.T) {
	_, p := loadedWorldPipeline(t)

	_, err := p.GetBufferOffset("Lights", "lights[4]")
	assert.ErrorIs(t, err, core.ErrRange)
	_, err = p.GetBufferOffset("Lights", "bones[2][0]")
	assert.ErrorIs(t, err, core.ErrRange)
	_, err = p.GetBufferOffset("Lights", "bones[0][3]")
	assert.ErrorIs(t, err, core.ErrRange)
}

func TestGetBufferOffsetMisses(t *testing.T) {
	_, p := loadedWorldPipeline(t)

	for _, c := range []struct{ name, expr string }{
		{"Missing", "ambient"},
		{"Lights", "unknown"},
		{"Lights", "lights[1].unknown"},
		{"Lights", "ambient.x"},
		{"diffuse", "anything"},
	} {
		got, err := p.GetBufferOffset(c.name, c.expr)
		require.NoError(t, err, c.expr)
		assert.Equal(t, NotFound, got, c.expr)
	}

	size, err := p.GetBufferSize("diffuse")
	require.NoError(t, err)
	assert.Equal(t, NotFound, size)
}

func TestGetBufferOffsetMalformed(t *testing.T) {
	_, p := loadedWorldPipeline(t)

	_, err := p.GetBufferOffset("Lights", "ambient[0]")
	assert.ErrorIs(t, err, core.ErrArgument)
	_, err = p.GetBufferOffset("Lights", "lights.color")
	assert.ErrorIs(t, err, core.ErrArgument)
}
