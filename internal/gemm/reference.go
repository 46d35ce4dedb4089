package gemm

import (
	"github.com/fxnlabs/gemmcheck/internal/layout"
	"gonum.org/v1/gonum/mat"
)

// Reference computes the batched product on the host without any device.
// Every batch slice is gathered element by element through its view into a
// dense matrix and multiplied with gonum, so it shares no code with the
// kernels it is used to check.
func Reference(p layout.Params, lhs, rhs Operand) ([]float32, error) {
	req := Request{Params: p, LHS: lhs, RHS: rhs}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := make([]float32, p.OutputLen())
	if len(out) == 0 || p.K == 0 {
		return out, nil
	}

	lv := lhs.View(p.LHSShape())
	rv := rhs.View(p.RHSShape())
	a := mat.NewDense(p.M, p.K, nil)
	b := mat.NewDense(p.K, p.N, nil)
	var c mat.Dense
	for bi := 0; bi < p.B; bi++ {
		for i := 0; i < p.M; i++ {
			for l := 0; l < p.K; l++ {
				a.Set(i, l, float64(lhs.Data[lv.At(bi, i, l)]))
			}
		}
		for l := 0; l < p.K; l++ {
			for j := 0; j < p.N; j++ {
				b.Set(l, j, float64(rhs.Data[rv.At(bi, l, j)]))
			}
		}
		c.Reset()
		c.Mul(a, b)
		block := out[bi*p.M*p.N:]
		for i := 0; i < p.M; i++ {
			for j := 0; j < p.N; j++ {
				block[i*p.N+j] = float32(c.At(i, j))
			}
		}
	}
	return out, nil
}
