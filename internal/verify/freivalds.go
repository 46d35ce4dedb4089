package verify

import (
	"math"
	"math/rand"

	"github.com/fxnlabs/gemmcheck/internal/layout"
)

// Tensor pairs a flat buffer with the view it is read through.
type Tensor struct {
	Data []float32
	View layout.View
}

// At returns element (i, j, k) of the view.
func (t Tensor) At(i, j, k int) float32 {
	return t.Data[t.View.At(i, j, k)]
}

// Freivalds probabilistically verifies that out holds the batched product of
// lhs (b,m,k) and rhs (b,k,n). Each iteration draws a random 0/1 vector r and
// checks lhs·(rhs·r) against out·r for every batch. A wrong product
// survives all iterations with probability at most 2^-iterations.
func Freivalds(p layout.Params, lhs, rhs Tensor, out []float32, iterations int, rng *rand.Rand) bool {
	if len(out) != p.OutputLen() {
		return false
	}

	r := make([]float64, p.N)
	br := make([]float64, p.K)
	for it := 0; it < iterations; it++ {
		for j := range r {
			r[j] = float64(rng.Intn(2))
		}
		for bi := 0; bi < p.B; bi++ {
			// rhs·r
			for l := 0; l < p.K; l++ {
				sum := 0.0
				for j := 0; j < p.N; j++ {
					sum += float64(rhs.At(bi, l, j)) * r[j]
				}
				br[l] = sum
			}
			block := out[bi*p.M*p.N:]
			for i := 0; i < p.M; i++ {
				abr := 0.0
				for l := 0; l < p.K; l++ {
					abr += float64(lhs.At(bi, i, l)) * br[l]
				}
				cr := 0.0
				for j := 0; j < p.N; j++ {
					cr += float64(block[i*p.N+j]) * r[j]
				}
				if !closeEnough(abr, cr) {
					return false
				}
			}
		}
	}
	return true
}

func closeEnough(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-4*scale
}
