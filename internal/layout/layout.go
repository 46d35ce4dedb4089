// Package layout translates logical tensor indices into positions in a flat
// float32 buffer. Views are descriptors only; the buffer they describe is
// always owned by the caller.
package layout

import (
	"errors"
	"fmt"
	"math"
)

// Rank is the number of logical axes of every view: (batch, dim1, dim2).
const Rank = 3

var (
	// ErrOutOfBounds is returned when a view would address past the end of its buffer.
	ErrOutOfBounds = errors.New("view addresses outside buffer")
	// ErrInvalidView is returned for malformed shapes, strides or offsets.
	ErrInvalidView = errors.New("invalid view")
	// ErrTooLarge is returned when the output size overflows int.
	ErrTooLarge = errors.New("dimensions too large")
)

// elementSize is the size of a float32 in bytes. Output sizes must fit in
// an int when counted in bytes.
const elementSize = 4

// Params holds the GEMM dimensions: batch count, lhs rows, rhs columns and
// the shared contraction dimension.
type Params struct {
	B int `json:"b" yaml:"b"`
	M int `json:"m" yaml:"m"`
	N int `json:"n" yaml:"n"`
	K int `json:"k" yaml:"k"`
}

// LHSShape returns the logical shape of the left operand, (b, m, k).
func (p Params) LHSShape() [Rank]int { return [Rank]int{p.B, p.M, p.K} }

// RHSShape returns the logical shape of the right operand, (b, k, n).
func (p Params) RHSShape() [Rank]int { return [Rank]int{p.B, p.K, p.N} }

// OutputShape returns the shape of the dense output, (b, m, n).
func (p Params) OutputShape() [Rank]int { return [Rank]int{p.B, p.M, p.N} }

// OutputLen is the number of elements in the output buffer.
func (p Params) OutputLen() int { return p.B * p.M * p.N }

// Flops is the number of floating point operations of the product.
func (p Params) Flops() float64 { return 2 * float64(p.B) * float64(p.M) * float64(p.N) * float64(p.K) }

// Validate rejects negative dimensions and outputs whose size in bytes does
// not fit in an int. Zero-sized dimensions are allowed.
func (p Params) Validate() error {
	if p.B < 0 || p.M < 0 || p.N < 0 || p.K < 0 {
		return fmt.Errorf("%w: negative dimension in %v", ErrInvalidView, p)
	}
	if p.B == 0 || p.M == 0 || p.N == 0 {
		return nil
	}
	n := elementSize
	for _, d := range []int{p.B, p.M, p.N} {
		if n > math.MaxInt/d {
			return fmt.Errorf("%w: output of %v overflows", ErrTooLarge, p)
		}
		n *= d
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("(b=%d, m=%d, n=%d, k=%d)", p.B, p.M, p.N, p.K)
}

// RowMajorStrides returns the contiguous strides of a (d0, d1, d2) tensor.
func RowMajorStrides(shape [Rank]int) []int {
	return []int{shape[1] * shape[2], shape[2], 1}
}

// Address returns offset + Σ indices[a]*strides[a]. No bounds checking is
// done; callers must keep indices inside the declared shape.
func Address(strides []int, offset int, indices ...int) int {
	addr := offset
	for a, idx := range indices {
		addr += idx * strides[a]
	}
	return addr
}

// View is a strided window over a flat buffer.
type View struct {
	Shape   [Rank]int
	Strides []int
	Offset  int
}

// At returns the buffer position of element (i, j, k).
func (v View) At(i, j, k int) int {
	return v.Offset + i*v.Strides[0] + j*v.Strides[1] + k*v.Strides[2]
}

// Empty reports whether the view covers no elements.
func (v View) Empty() bool {
	return v.Shape[0] == 0 || v.Shape[1] == 0 || v.Shape[2] == 0
}

// Span returns one past the largest address the view can touch, or 0 for an
// empty view. A span that does not fit in an int saturates at math.MaxInt.
func (v View) Span() int {
	if v.Empty() {
		return 0
	}
	last := v.Offset
	for a := 0; a < Rank; a++ {
		if v.Strides[a] > 0 && v.Shape[a]-1 > (math.MaxInt-1-last)/v.Strides[a] {
			return math.MaxInt
		}
		last += (v.Shape[a] - 1) * v.Strides[a]
	}
	return last + 1
}

// Validate checks that every element of the view lies inside a buffer of
// bufLen elements.
func (v View) Validate(bufLen int) error {
	if len(v.Strides) != Rank {
		return &BoundsError{View: v, BufLen: bufLen, Err: fmt.Errorf("%w: expected %d strides, got %d", ErrInvalidView, Rank, len(v.Strides))}
	}
	if v.Offset < 0 {
		return &BoundsError{View: v, BufLen: bufLen, Err: fmt.Errorf("%w: negative offset %d", ErrInvalidView, v.Offset)}
	}
	for a := 0; a < Rank; a++ {
		if v.Shape[a] < 0 || v.Strides[a] < 0 {
			return &BoundsError{View: v, BufLen: bufLen, Err: fmt.Errorf("%w: negative shape or stride on axis %d", ErrInvalidView, a)}
		}
	}
	if v.Empty() {
		return nil
	}

	// last never exceeds bufLen-1, so the sum cannot overflow.
	last := v.Offset
	if last >= bufLen {
		return &BoundsError{View: v, BufLen: bufLen, Err: fmt.Errorf("%w: offset %d at or past length %d", ErrOutOfBounds, last, bufLen)}
	}
	for a := 0; a < Rank; a++ {
		if v.Strides[a] > 0 && v.Shape[a]-1 > (bufLen-1-last)/v.Strides[a] {
			return &BoundsError{View: v, BufLen: bufLen, Err: fmt.Errorf("%w: axis %d reaches past length %d", ErrOutOfBounds, a, bufLen)}
		}
		last += (v.Shape[a] - 1) * v.Strides[a]
	}
	return nil
}

// BoundsError describes a view that failed validation against its buffer.
type BoundsError struct {
	View   View
	BufLen int
	Err    error
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("shape=%v strides=%v offset=%d len=%d: %v", e.View.Shape, e.View.Strides, e.View.Offset, e.BufLen, e.Err)
}

func (e *BoundsError) Unwrap() error { return e.Err }
