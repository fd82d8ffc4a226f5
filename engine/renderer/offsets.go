package renderer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// fieldAccess is one dotted segment of an offset expression, e.g. `lights[2][1]`.
type fieldAccess struct {
	name    string
	indices []uint32
}

// parseFieldExpression splits `a.b[2].c` into its segments.
func parseFieldExpression(expr string) ([]fieldAccess, error) {
	var accesses []fieldAccess
	for _, part := range strings.Split(expr, ".") {
		name := part
		var indices []uint32
		if open := strings.IndexByte(part, '['); open >= 0 {
			name = part[:open]
			rest := part[open:]
			for len(rest) > 0 {
				if rest[0] != '[' {
					return nil, fmt.Errorf("unexpected `%s` in `%s`: %w", rest, expr, core.ErrArgument)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("unterminated index in `%s`: %w", expr, core.ErrArgument)
				}
				idx, err := strconv.ParseUint(strings.TrimSpace(rest[1:end]), 10, 32)
				if err != nil {
					return nil, fmt.Errorf("bad index `%s` in `%s`: %w", rest[1:end], expr, core.ErrArgument)
				}
				indices = append(indices, uint32(idx))
				rest = rest[end+1:]
			}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty field name in `%s`: %w", expr, core.ErrArgument)
		}
		accesses = append(accesses, fieldAccess{name: name, indices: indices})
	}
	return accesses, nil
}

// structOf resolves a named resource to its struct type.
func (p *Pipeline) structOf(name string) (*metadata.ReflectionResult, *metadata.TypeDescriptor, bool) {
	_, refl, res, ok := p.findResource(name)
	if !ok {
		return nil, nil, false
	}
	t, ok := refl.Type(res.TypeID)
	if !ok || t.Class != metadata.TypeClassStruct {
		return nil, nil, false
	}
	return refl, t, true
}

// GetBufferSize returns the byte size of the buffer block named name, or
// NotFound when no struct resource has that name.
func (p *Pipeline) GetBufferSize(name string) (int, error) {
	if err := p.requireLoaded("query buffer size of `" + name + "`"); err != nil {
		return NotFound, err
	}
	_, t, ok := p.structOf(name)
	if !ok {
		core.LogDebug("pipeline `%s` has no buffer named `%s`", p.config.Name, name)
		return NotFound, nil
	}
	return int(t.Size), nil
}

// GetBufferOffset resolves a field expression such as `lights[2].color`
// inside the buffer named name to a byte offset. Unknown names and fields
// report NotFound; an index past a declared bound is a range error.
func (p *Pipeline) GetBufferOffset(name, expression string) (int, error) {
	if err := p.requireLoaded("query buffer offset of `" + name + "`"); err != nil {
		return NotFound, err
	}
	refl, t, ok := p.structOf(name)
	if !ok {
		core.LogDebug("pipeline `%s` has no buffer named `%s`", p.config.Name, name)
		return NotFound, nil
	}
	if strings.TrimSpace(expression) == "" {
		return NotFound, nil
	}

	accesses, err := parseFieldExpression(expression)
	if err != nil {
		core.LogError(err.Error())
		return NotFound, err
	}

	offset := uint64(0)
	current := t
	for i, access := range accesses {
		if current.Class != metadata.TypeClassStruct {
			core.LogDebug("`%s` in `%s` is not a struct", access.name, expression)
			return NotFound, nil
		}
		field, ok := current.Fields[access.name]
		if !ok {
			core.LogDebug("buffer `%s` has no field `%s`", name, access.name)
			return NotFound, nil
		}
		fieldType, ok := refl.Type(field.TypeID)
		if !ok {
			return NotFound, nil
		}
		offset += uint64(field.Offset)

		if len(access.indices) > len(fieldType.ArrayDims) {
			err := fmt.Errorf("`%s` has %d dimension(s) but is indexed %d time(s): %w",
				access.name, len(fieldType.ArrayDims), len(access.indices), core.ErrArgument)
			core.LogError(err.Error())
			return NotFound, err
		}
		last := i == len(accesses)-1
		if !last && len(access.indices) < len(fieldType.ArrayDims) {
			err := fmt.Errorf("`%s` must be fully indexed before accessing a member: %w", access.name, core.ErrArgument)
			core.LogError(err.Error())
			return NotFound, err
		}

		stride := elementStride(field, fieldType)
		for k, idx := range access.indices {
			bound := fieldType.ArrayDims[k]
			if bound != 0 && idx >= bound {
				err := fmt.Errorf("index %d of `%s` is outside its bound %d: %w", idx, access.name, bound, core.ErrRange)
				core.LogError(err.Error())
				return NotFound, err
			}
			dimStride := stride
			for _, inner := range fieldType.ArrayDims[k+1:] {
				dimStride *= uint64(inner)
			}
			offset += uint64(idx) * dimStride
		}
		current = fieldType
	}
	return int(offset), nil
}

// elementStride is the byte distance between innermost array elements.
func elementStride(field metadata.Field, t *metadata.TypeDescriptor) uint64 {
	if field.ArrayStride != 0 {
		return uint64(field.ArrayStride)
	}
	if t.IsArray() && t.Size != 0 {
		return uint64(t.Size / t.ElementCount())
	}
	return 0
}
