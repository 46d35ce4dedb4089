package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxnlabs/gemmcheck/internal/layout"
)

// Kernel names understood by the backends.
const (
	KernelSGEMM        = "sgemm"
	KernelSGEMMStrided = "sgemm_strided"
)

var (
	ErrNotInitialized   = errors.New("backend not initialized")
	ErrUnknownKernel    = errors.New("unknown kernel")
	ErrNonContiguous    = errors.New("matmul operand is not contiguous")
	ErrMisalignedOffset = errors.New("offset is not aligned to element size")
	ErrBufferReleased   = errors.New("buffer has been released")
	ErrBufferTooLarge   = errors.New("buffer exceeds the allocation limit")
)

// DeviceInfo contains information about the compute device
type DeviceInfo struct {
	Name              string `json:"name"`
	Backend           string `json:"backend"`
	TotalMemory       int64  `json:"totalMemory"`     // in bytes
	AvailableMemory   int64  `json:"availableMemory"` // in bytes
	ComputeCapability string `json:"computeCapability"`
	DriverVersion     string `json:"driverVersion"`
}

// Buffer is device-resident float32 storage. Buffers are created and owned by
// a backend; host data only ever reaches one by copy.
type Buffer struct {
	id       uint64
	data     []float32
	released bool
}

// Len returns the number of float32 elements in the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the size of the buffer in bytes.
func (b *Buffer) Bytes() uint64 { return ByteOffset(len(b.data)) }

// Operand describes one GEMM input as handed to a kernel. OffsetBytes is a
// byte offset into Buffer, matching the kernel calling convention.
type Operand struct {
	Strides     []int
	OffsetBytes uint64
	Buffer      *Buffer
}

// GemmCall is the full argument list of a batched GEMM dispatch.
type GemmCall struct {
	Params layout.Params
	LHS    Operand
	RHS    Operand
	Output *Buffer
}

// Completion is returned by Dispatch and signalled once the kernel finishes.
type Completion struct {
	kernel string
	done   chan struct{}
	once   sync.Once
	err    error
}

func newCompletion(kernel string) *Completion {
	return &Completion{kernel: kernel, done: make(chan struct{})}
}

func (c *Completion) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the dispatched work has finished.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Kernel returns the name of the dispatched kernel.
func (c *Completion) Kernel() string { return c.kernel }

// GPUBackend defines the interface for compute backends that execute the
// batched GEMM kernel.
//
// Implementation notes:
// - Buffers are allocated, owned and released by the backend
// - Dispatch only submits work; Wait blocks until it is complete
// - Wait has no timeout and cannot be cancelled
// - Resource cleanup is critical to prevent device memory leaks
type GPUBackend interface {
	// Initialize prepares the backend for use. Should be called once before
	// first use.
	Initialize() error

	// Cleanup releases any resources held by the backend, including buffers
	// that were never released.
	Cleanup() error

	// IsAvailable checks if the backend is available for use without heavy
	// initialization.
	IsAvailable() bool

	// GetDeviceInfo returns information about the device.
	GetDeviceInfo() DeviceInfo

	// ConcurrentSubmission reports whether independent dispatches with
	// disjoint buffers may be submitted from several goroutines at once.
	ConcurrentSubmission() bool

	// NewBuffer allocates a zeroed buffer of the given size in bytes.
	NewBuffer(bytes uint64) (*Buffer, error)

	// NewBufferWithData allocates a buffer holding a copy of data.
	NewBufferWithData(data []float32) (*Buffer, error)

	// Dispatch submits a kernel and returns its completion token.
	Dispatch(kernel string, call *GemmCall) (*Completion, error)

	// Wait blocks until the completion is signalled and returns the kernel
	// error, if any.
	Wait(c *Completion) error

	// Read copies the first count elements of buf back to the host.
	Read(buf *Buffer, count int) ([]float32, error)

	// Release frees a buffer. Releasing twice is a no-op.
	Release(buf *Buffer)
}

func checkBuffer(name string, buf *Buffer) error {
	if buf == nil {
		return fmt.Errorf("%s buffer is nil", name)
	}
	if buf.released {
		return fmt.Errorf("%s: %w", name, ErrBufferReleased)
	}
	return nil
}
