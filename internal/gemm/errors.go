package gemm

import "fmt"

// ContractError reports a request whose shape, strides or offsets would read
// or write outside the supplied buffers. It is a caller bug: the request is
// never dispatched and must not be retried.
type ContractError struct {
	Operand string
	Err     error
}

func (e *ContractError) Error() string {
	if e.Operand == "" {
		return fmt.Sprintf("gemm contract violation: %v", e.Err)
	}
	return fmt.Sprintf("gemm contract violation on %s: %v", e.Operand, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

// DispatchError reports a failure of the device collaborator. No part of the
// output is valid when it is returned.
type DispatchError struct {
	Kernel string
	Stage  string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("gemm dispatch of %s failed during %s: %v", e.Kernel, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
