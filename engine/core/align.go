package core

import "golang.org/x/exp/constraints"

// AlignUp rounds value up to the next multiple of alignment, which must be a
// power of two. A zero alignment leaves value unchanged.
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}
