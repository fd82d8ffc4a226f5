package spirv

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// CompileWGSL compiles WGSL source into SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	data, err := naga.Compile(source)
	if err != nil {
		err = fmt.Errorf("failed to compile WGSL: %v: %w", err, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	return BytesToWords(data)
}
