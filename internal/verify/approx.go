// Package verify makes kernel output comparable with literal expected values
// and reports exactly which values diverged.
package verify

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultDigits is the precision used by every built-in check.
const DefaultDigits = 4

// MaxDigits is the largest precision Approx accepts. float32 carries fewer
// significant digits than that, and 10^39 is already out of its range.
const MaxDigits = 9

var ErrDigitsOutOfRange = errors.New("digits out of range")

// ValidateDigits rejects precisions Approx cannot represent.
func ValidateDigits(digits int) error {
	if digits < 0 || digits > MaxDigits {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrDigitsOutOfRange, digits, MaxDigits)
	}
	return nil
}

// Approx rounds every value to digits decimal places: v*10^digits is rounded
// half away from zero in float32 and divided back. The result is meant for
// exact comparison, not as a tolerance.
func Approx(values []float32, digits int) []float32 {
	scale := float32(math.Pow10(digits))
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(math.Round(float64(v*scale))) / scale
	}
	return out
}

// Diff is one diverging position.
type Diff struct {
	Index    int     `json:"index"`
	Actual   float32 `json:"actual"`
	Expected float32 `json:"expected"`
}

// MismatchError lists every position where two canonical sequences differ,
// along with both sequences.
type MismatchError struct {
	Actual   []float32 `json:"actual"`
	Expected []float32 `json:"expected"`
	Diffs    []Diff    `json:"diffs"`
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	if len(e.Actual) != len(e.Expected) {
		fmt.Fprintf(&b, "length %d, expected %d", len(e.Actual), len(e.Expected))
	} else {
		fmt.Fprintf(&b, "%d of %d values differ", len(e.Diffs), len(e.Expected))
	}
	for i, d := range e.Diffs {
		if i == 8 {
			fmt.Fprintf(&b, " ...")
			break
		}
		fmt.Fprintf(&b, "; [%d]=%v want %v", d.Index, d.Actual, d.Expected)
	}
	fmt.Fprintf(&b, "; actual=%v expected=%v", e.Actual, e.Expected)
	return b.String()
}

// Compare requires actual and expected to be exactly equal.
func Compare(actual, expected []float32) error {
	n := min(len(actual), len(expected))
	var diffs []Diff
	for i := 0; i < n; i++ {
		if actual[i] != expected[i] {
			diffs = append(diffs, Diff{Index: i, Actual: actual[i], Expected: expected[i]})
		}
	}
	if len(diffs) == 0 && len(actual) == len(expected) {
		return nil
	}
	return &MismatchError{Actual: actual, Expected: expected, Diffs: diffs}
}

// Check canonicalises both sequences to digits places and compares them.
func Check(actual, expected []float32, digits int) error {
	return Compare(Approx(actual, digits), Approx(expected, digits))
}
