package gpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/fxnlabs/gemmcheck/internal/layout"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MaxBufferBytes caps a single host-side buffer allocation.
const MaxBufferBytes uint64 = 1 << 36

// CPUBackend implements GPUBackend on the host. Dispatched kernels run on
// their own goroutine so the submit/wait protocol matches a real device.
type CPUBackend struct {
	logger      *slog.Logger
	mu          sync.Mutex
	initialized bool
	nextID      uint64
	live        map[uint64]*Buffer
	allocated   uint64
}

// NewCPUBackend creates a new CPU backend instance
func NewCPUBackend(logger *slog.Logger) *CPUBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUBackend{
		logger: logger,
		live:   make(map[uint64]*Buffer),
	}
}

// Initialize prepares the CPU backend for use
func (c *CPUBackend) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized", "arch", runtime.GOARCH, "cpus", runtime.NumCPU())
	return nil
}

// Cleanup releases every live buffer
func (c *CPUBackend) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, buf := range c.live {
		buf.released = true
		buf.data = nil
		delete(c.live, id)
	}
	if c.allocated != 0 {
		c.logger.Debug("released leaked buffers on cleanup", "bytes", c.allocated)
	}
	c.allocated = 0
	c.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend) IsAvailable() bool {
	return true
}

// ConcurrentSubmission is true: kernels only touch their own buffers.
func (c *CPUBackend) ConcurrentSubmission() bool {
	return true
}

// GetDeviceInfo returns device information for CPU
func (c *CPUBackend) GetDeviceInfo() DeviceInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	allocated := c.allocated
	c.mu.Unlock()

	total := int64(ms.Sys)
	return DeviceInfo{
		Name:              fmt.Sprintf("CPU (%s, %d cores)", runtime.GOARCH, runtime.NumCPU()),
		Backend:           "cpu",
		TotalMemory:       total,
		AvailableMemory:   total - int64(allocated),
		ComputeCapability: "N/A",
		DriverVersion:     runtime.Version(),
	}
}

// NewBuffer allocates a zeroed buffer of the given size in bytes
func (c *CPUBackend) NewBuffer(bytes uint64) (*Buffer, error) {
	if bytes > MaxBufferBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrBufferTooLarge, bytes, MaxBufferBytes)
	}
	n, err := ElementOffset(bytes)
	if err != nil {
		return nil, err
	}
	return c.register(make([]float32, n))
}

// NewBufferWithData copies data into a new buffer
func (c *CPUBackend) NewBufferWithData(data []float32) (*Buffer, error) {
	if bytes := ByteOffset(len(data)); bytes > MaxBufferBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrBufferTooLarge, bytes, MaxBufferBytes)
	}
	owned := make([]float32, len(data))
	copy(owned, data)
	return c.register(owned)
}

func (c *CPUBackend) register(data []float32) (*Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, fmt.Errorf("CPU backend: %w", ErrNotInitialized)
	}
	c.nextID++
	buf := &Buffer{id: c.nextID, data: data}
	c.live[buf.id] = buf
	c.allocated += buf.Bytes()
	return buf, nil
}

// Release frees a buffer
func (c *CPUBackend) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live[buf.id]; !ok {
		return
	}
	delete(c.live, buf.id)
	c.allocated -= buf.Bytes()
	buf.released = true
	buf.data = nil
}

// Read copies count elements of buf back to the host
func (c *CPUBackend) Read(buf *Buffer, count int) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkBuffer("read", buf); err != nil {
		return nil, err
	}
	if count < 0 || count > len(buf.data) {
		return nil, fmt.Errorf("read of %d elements from a buffer of %d", count, len(buf.data))
	}
	out := make([]float32, count)
	copy(out, buf.data[:count])
	return out, nil
}

// Dispatch submits a kernel. The returned completion is signalled when the
// kernel goroutine finishes.
func (c *CPUBackend) Dispatch(kernel string, call *GemmCall) (*Completion, error) {
	var run func(*GemmCall) error
	switch kernel {
	case KernelSGEMM:
		run = sgemm
	case KernelSGEMMStrided:
		run = sgemmStrided
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, kernel)
	}

	c.mu.Lock()
	initialized := c.initialized
	var err error
	if call == nil {
		err = fmt.Errorf("nil gemm call")
	} else {
		for _, b := range []struct {
			name string
			buf  *Buffer
		}{{"lhs", call.LHS.Buffer}, {"rhs", call.RHS.Buffer}, {"output", call.Output}} {
			if err = checkBuffer(b.name, b.buf); err != nil {
				break
			}
		}
	}
	c.mu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("CPU backend: %w", ErrNotInitialized)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("dispatching kernel", "kernel", kernel, "params", call.Params.String())
	done := newCompletion(kernel)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done.complete(fmt.Errorf("kernel %s panicked: %v", kernel, r))
			}
		}()
		done.complete(run(call))
	}()
	return done, nil
}

// Wait blocks until the completion is signalled
func (c *CPUBackend) Wait(done *Completion) error {
	if done == nil {
		return fmt.Errorf("nil completion")
	}
	<-done.done
	return done.err
}

// operandViews resolves byte offsets and re-checks both operands against
// their buffers before a kernel touches memory.
func operandViews(call *GemmCall) (layout.View, layout.View, error) {
	p := call.Params
	if err := p.Validate(); err != nil {
		return layout.View{}, layout.View{}, err
	}
	lhsOff, err := ElementOffset(call.LHS.OffsetBytes)
	if err != nil {
		return layout.View{}, layout.View{}, fmt.Errorf("lhs: %w", err)
	}
	rhsOff, err := ElementOffset(call.RHS.OffsetBytes)
	if err != nil {
		return layout.View{}, layout.View{}, fmt.Errorf("rhs: %w", err)
	}
	lv := layout.View{Shape: p.LHSShape(), Strides: call.LHS.Strides, Offset: lhsOff}
	rv := layout.View{Shape: p.RHSShape(), Strides: call.RHS.Strides, Offset: rhsOff}
	if err := lv.Validate(call.LHS.Buffer.Len()); err != nil {
		return layout.View{}, layout.View{}, fmt.Errorf("lhs: %w", err)
	}
	if err := rv.Validate(call.RHS.Buffer.Len()); err != nil {
		return layout.View{}, layout.View{}, fmt.Errorf("rhs: %w", err)
	}
	if call.Output.Len() < p.OutputLen() {
		return layout.View{}, layout.View{}, fmt.Errorf("output buffer holds %d elements, need %d", call.Output.Len(), p.OutputLen())
	}
	return lv, rv, nil
}

// sgemmStrided reads both operands through their views, so any stride
// ordering is accepted.
func sgemmStrided(call *GemmCall) error {
	lv, rv, err := operandViews(call)
	if err != nil {
		return err
	}
	p := call.Params
	lhs, rhs, out := call.LHS.Buffer.data, call.RHS.Buffer.data, call.Output.data
	for bi := 0; bi < p.B; bi++ {
		for i := 0; i < p.M; i++ {
			for j := 0; j < p.N; j++ {
				var sum float32
				for l := 0; l < p.K; l++ {
					sum += lhs[lv.At(bi, i, l)] * rhs[rv.At(bi, l, j)]
				}
				out[(bi*p.M+i)*p.N+j] = sum
			}
		}
	}
	return nil
}

// sgemm requires each batch slice to be row-major or transposed and runs
// one BLAS call per batch.
func sgemm(call *GemmCall) error {
	lv, rv, err := operandViews(call)
	if err != nil {
		return err
	}
	p := call.Params
	aTrans, err := transposeFlags(lv.Strides, p.M, p.K)
	if err != nil {
		return fmt.Errorf("lhs: %w", err)
	}
	bTrans, err := transposeFlags(rv.Strides, p.K, p.N)
	if err != nil {
		return fmt.Errorf("rhs: %w", err)
	}

	out := call.Output.data[:p.OutputLen()]
	if len(out) == 0 {
		return nil
	}
	if p.K == 0 {
		clear(out)
		return nil
	}

	for bi := 0; bi < p.B; bi++ {
		a, tA := general(call.LHS.Buffer.data[lv.At(bi, 0, 0):], p.M, p.K, aTrans)
		b, tB := general(call.RHS.Buffer.data[rv.At(bi, 0, 0):], p.K, p.N, bTrans)
		c := blas32.General{Rows: p.M, Cols: p.N, Stride: p.N, Data: out[bi*p.M*p.N : (bi+1)*p.M*p.N]}
		blas32.Gemm(tA, tB, 1, a, b, 0, c)
	}
	return nil
}

// general wraps a (rows x cols) slice for BLAS. A transposed operand is
// stored as (cols x rows) and read with blas.Trans.
func general(data []float32, rows, cols int, trans bool) (blas32.General, blas.Transpose) {
	if trans {
		return blas32.General{Rows: cols, Cols: rows, Stride: rows, Data: data}, blas.Trans
	}
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}, blas.NoTrans
}
