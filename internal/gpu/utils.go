package gpu

import (
	"fmt"
	"math"
)

// ElementSize is the size of a float32 element in bytes
const ElementSize = 4

// ByteOffset converts an element count to bytes. Counts that do not fit
// saturate at math.MaxUint64 instead of wrapping.
func ByteOffset(elements int) uint64 {
	if uint64(elements) > math.MaxUint64/ElementSize {
		return math.MaxUint64
	}
	return uint64(elements) * ElementSize
}

// ElementOffset converts a byte offset to an element offset, rejecting
// offsets that fall inside an element
func ElementOffset(bytes uint64) (int, error) {
	if bytes%ElementSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMisalignedOffset, bytes)
	}
	return int(bytes / ElementSize), nil
}

// transposeFlags works out how a kernel must read a (rows x cols) operand
// from its last two strides. Row-major needs (cols, 1) and a transposed
// operand needs (1, rows).
func transposeFlags(strides []int, rows, cols int) (bool, error) {
	if len(strides) < 2 {
		return false, fmt.Errorf("%w: need at least 2 strides, got %d", ErrNonContiguous, len(strides))
	}
	inner := strides[len(strides)-1]
	outer := strides[len(strides)-2]
	switch {
	case inner == 1 && outer == cols:
		return false, nil
	case inner == rows && outer == 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: strides %v for a %dx%d operand", ErrNonContiguous, strides, rows, cols)
	}
}
