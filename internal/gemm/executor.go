// Package gemm stages strided operands on a device backend, dispatches the
// batched GEMM kernel and reads the dense result back.
//
// For every batch index bi the output block is
//
//	out[bi*m*n + i*n + j] = Σ_p lhs(bi, i, p) * rhs(bi, p, j)
//
// where lhs is viewed as (b, m, k) and rhs as (b, k, n), each through its own
// strides and a single element offset shared by all batches. Selecting a
// sub-batch is done by lowering b and advancing the offset by one batch
// stride.
package gemm

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/fxnlabs/gemmcheck/internal/gpu"
	"github.com/fxnlabs/gemmcheck/internal/layout"
	"github.com/fxnlabs/gemmcheck/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultKernel is dispatched when no kernel is configured.
const DefaultKernel = gpu.KernelSGEMM

// Operand is a host-side input: a flat buffer plus the strides and element
// offset through which it is read.
type Operand struct {
	Data    []float32 `json:"data"`
	Strides []int     `json:"strides"`
	Offset  int       `json:"offset"`
}

// View returns the operand's view for the given logical shape.
func (o Operand) View(shape [layout.Rank]int) layout.View {
	return layout.View{Shape: shape, Strides: o.Strides, Offset: o.Offset}
}

// Request is one independent batched GEMM invocation.
type Request struct {
	Params layout.Params `json:"params"`
	LHS    Operand       `json:"lhs"`
	RHS    Operand       `json:"rhs"`
}

// Validate checks the request against its buffers. It is the only bounds
// check between the caller and the device.
func (r Request) Validate() error {
	if err := r.Params.Validate(); err != nil {
		return &ContractError{Err: err}
	}
	if err := r.LHS.View(r.Params.LHSShape()).Validate(len(r.LHS.Data)); err != nil {
		return &ContractError{Operand: "lhs", Err: err}
	}
	if err := r.RHS.View(r.Params.RHSShape()).Validate(len(r.RHS.Data)); err != nil {
		return &ContractError{Operand: "rhs", Err: err}
	}
	return nil
}

// Executor runs batched GEMM requests on a backend. Each call allocates and
// releases its own buffers; nothing is shared between calls.
type Executor struct {
	backend gpu.GPUBackend
	kernel  string
	log     *zap.Logger
}

// NewExecutor creates an executor dispatching kernel on backend.
func NewExecutor(backend gpu.GPUBackend, kernel string, log *zap.Logger) *Executor {
	if kernel == "" {
		kernel = DefaultKernel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{backend: backend, kernel: kernel, log: log}
}

// Kernel returns the name of the dispatched kernel.
func (e *Executor) Kernel() string { return e.kernel }

// Backend returns the device backend.
func (e *Executor) Backend() gpu.GPUBackend { return e.backend }

// Execute validates the request, stages both operands, dispatches the kernel
// and blocks until the output can be read. ctx is only checked before
// staging; once dispatched the wait is unconditional.
func (e *Executor) Execute(ctx context.Context, p layout.Params, lhs, rhs Operand) ([]float32, error) {
	return e.execute(ctx, Request{Params: p, LHS: lhs, RHS: rhs})
}

func (e *Executor) execute(ctx context.Context, req Request) ([]float32, error) {
	start := time.Now()
	out, err := e.run(ctx, req)
	elapsed := time.Since(start)

	status := "ok"
	switch err.(type) {
	case nil:
	case *ContractError:
		status = "contract_error"
	default:
		status = "dispatch_error"
	}
	metrics.GemmDispatches.WithLabelValues(e.kernel, status).Inc()
	if err != nil {
		e.log.Error("batched gemm failed",
			zap.String("kernel", e.kernel),
			zap.Stringer("params", req.Params),
			zap.Error(err))
		return nil, err
	}

	metrics.GemmDispatchDuration.WithLabelValues(e.kernel).Observe(float64(elapsed.Microseconds()) / 1000)
	metrics.GemmBatchSize.Set(float64(req.Params.B))
	if secs := elapsed.Seconds(); secs > 0 {
		metrics.GemmGFLOPS.Set(req.Params.Flops() / secs / 1e9)
	}
	e.log.Debug("batched gemm completed",
		zap.String("kernel", e.kernel),
		zap.Stringer("params", req.Params),
		zap.Int("lhs_offset", req.LHS.Offset),
		zap.Int("rhs_offset", req.RHS.Offset),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

func (e *Executor) run(ctx context.Context, req Request) ([]float32, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &DispatchError{Kernel: e.kernel, Stage: "submit", Err: err}
	}

	var staged []*gpu.Buffer
	defer func() {
		for _, buf := range staged {
			e.backend.Release(buf)
		}
	}()
	stage := func(data []float32) (*gpu.Buffer, error) {
		buf, err := e.backend.NewBufferWithData(data)
		if err != nil {
			return nil, &DispatchError{Kernel: e.kernel, Stage: "allocate", Err: err}
		}
		staged = append(staged, buf)
		return buf, nil
	}

	lhsBuf, err := stage(req.LHS.Data)
	if err != nil {
		return nil, err
	}
	rhsBuf, err := stage(req.RHS.Data)
	if err != nil {
		return nil, err
	}
	length := req.Params.OutputLen()
	outBuf, err := e.backend.NewBuffer(gpu.ByteOffset(length))
	if err != nil {
		return nil, &DispatchError{Kernel: e.kernel, Stage: "allocate", Err: err}
	}
	staged = append(staged, outBuf)
	metrics.DeviceMemoryUsedBytes.Set(float64(lhsBuf.Bytes() + rhsBuf.Bytes() + outBuf.Bytes()))

	done, err := e.backend.Dispatch(e.kernel, &gpu.GemmCall{
		Params: req.Params,
		LHS:    gpu.Operand{Strides: req.LHS.Strides, OffsetBytes: gpu.ByteOffset(req.LHS.Offset), Buffer: lhsBuf},
		RHS:    gpu.Operand{Strides: req.RHS.Strides, OffsetBytes: gpu.ByteOffset(req.RHS.Offset), Buffer: rhsBuf},
		Output: outBuf,
	})
	if err != nil {
		return nil, &DispatchError{Kernel: e.kernel, Stage: "dispatch", Err: err}
	}
	if err := e.backend.Wait(done); err != nil {
		return nil, &DispatchError{Kernel: e.kernel, Stage: "execute", Err: err}
	}

	out, err := e.backend.Read(outBuf, length)
	if err != nil {
		return nil, &DispatchError{Kernel: e.kernel, Stage: "read", Err: err}
	}
	return out, nil
}

// ExecuteAll runs independent requests and returns their outputs in order.
// Requests are dispatched concurrently only when the backend accepts
// concurrent submission; the first failure cancels requests not yet staged.
func (e *Executor) ExecuteAll(ctx context.Context, reqs []Request) ([][]float32, error) {
	results := make([][]float32, len(reqs))
	if !e.backend.ConcurrentSubmission() {
		for i, req := range reqs {
			out, err := e.execute(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = out
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, req := range reqs {
		g.Go(func() error {
			out, err := e.execute(gctx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
