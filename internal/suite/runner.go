package suite

import (
	"context"
	"errors"
	"time"

	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/metrics"
	"github.com/fxnlabs/gemmcheck/internal/verify"
	"go.uber.org/zap"
)

// Result is the outcome of one scenario.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Output   []float32     `json:"output,omitempty"`
	Expected []float32     `json:"expected,omitempty"`
	Digest   string        `json:"digest,omitempty"`
	Kernel   string        `json:"kernel"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// Runner executes scenarios and verifies their canonicalised outputs.
type Runner struct {
	exec   *gemm.Executor
	digits int
	log    *zap.Logger
}

// NewRunner creates a runner comparing outputs to digits decimal places.
func NewRunner(exec *gemm.Executor, digits int, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{exec: exec, digits: digits, log: log}
}

// Run executes scenarios one after another. A failing scenario never stops
// the run; inspect each Result.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, s := range scenarios {
		res := r.runOne(ctx, s)
		outcome := "pass"
		if !res.Passed {
			outcome = "fail"
			var mismatch *verify.MismatchError
			if errors.As(res.Err, &mismatch) {
				outcome = "mismatch"
			}
		}
		metrics.Verifications.WithLabelValues(outcome).Inc()
		results = append(results, res)
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, s Scenario) Result {
	log := r.log.With(zap.String("scenario", s.Name), zap.Stringer("params", s.Params))
	res := Result{Name: s.Name, Kernel: r.exec.Kernel()}
	fail := func(err error) Result {
		res.Err = err
		res.Error = err.Error()
		log.Error("scenario failed", zap.Error(err))
		return res
	}

	lhs, rhs := s.Operands()
	start := time.Now()
	out, err := r.exec.Execute(ctx, s.Params, lhs, rhs)
	res.Duration = time.Since(start)
	if err != nil {
		return fail(err)
	}
	res.Digest = verify.Digest(out)
	res.Output = verify.Approx(out, r.digits)

	reference, err := gemm.Reference(s.Params, lhs, rhs)
	if err != nil {
		return fail(err)
	}
	expected := s.Expected
	if len(expected) == 0 {
		expected = reference
	} else if err := verify.Check(reference, expected, r.digits); err != nil {
		log.Warn("literal expectation disagrees with host reference", zap.Error(err))
	}
	res.Expected = verify.Approx(expected, r.digits)

	if err := verify.Compare(res.Output, res.Expected); err != nil {
		return fail(err)
	}
	res.Passed = true
	log.Info("scenario passed",
		zap.String("digest", res.Digest),
		zap.Duration("duration", res.Duration))
	return res
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, res := range results {
		if !res.Passed {
			return false
		}
	}
	return true
}
