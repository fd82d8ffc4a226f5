package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(256), AlignUp[uint32](200, 256))
	assert.Equal(t, uint64(512), AlignUp[uint64](512, 256))
	assert.Equal(t, uint64(7), AlignUp[uint64](7, 0))
	assert.Equal(t, uint32(64), AlignUp[uint32](52, 16))
}
