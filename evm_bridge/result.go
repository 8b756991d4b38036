package evmbridge

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/moved-network/hostevm/core/vm"
)

// FrameState is the lifecycle state of a guest call frame. A frame starts
// Pending, moves to Executing once its overlay is open and ends in one of the
// terminal states.
type FrameState uint8

const (
	Pending FrameState = iota
	Executing
	Success
	Reverted
	OutOfGas
	StaticViolation
	DepthExceeded
)

func (s FrameState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Success:
		return "success"
	case Reverted:
		return "reverted"
	case OutOfGas:
		return "out of gas"
	case StaticViolation:
		return "static violation"
	case DepthExceeded:
		return "depth exceeded"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

// Terminal reports whether s is a final state.
func (s FrameState) Terminal() bool { return s >= Success }

// Failed reports whether s is a terminal failure.
func (s FrameState) Failed() bool { return s > Success }

// classify maps a guest execution error to the terminal state of its frame.
// Exceptional halts other than gas exhaustion, write protection and depth
// count as reverts.
func classify(err error) FrameState {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, vm.ErrOutOfGas), errors.Is(err, vm.ErrCodeStoreOutOfGas), errors.Is(err, vm.ErrGasUintOverflow):
		return OutOfGas
	case errors.Is(err, vm.ErrWriteProtection):
		return StaticViolation
	case errors.Is(err, vm.ErrDepth):
		return DepthExceeded
	default:
		return Reverted
	}
}

// Result is the outcome of a bridge call as seen by host code.
type Result struct {
	Success    bool
	ReturnData []byte
	// Logs are the guest logs of the call, in emission order. They reach the
	// host transaction only through EmitLogs.
	Logs []*types.Log
	// GasUsed is the host gas charged for the call.
	GasUsed uint64
	// GuestGasUsed is the guest gas consumed by the call.
	GuestGasUsed uint64

	// Outcome is the terminal state of the outermost frame. Cause is the state
	// of the innermost failed frame that led to it, equal to Outcome when the
	// failure originated in the outermost frame.
	Outcome FrameState
	Cause   FrameState
	// Err is the guest error of the outermost frame, nil on success.
	Err error

	// CreatedAddress is set by successful creations.
	CreatedAddress common.Address

	emitted bool
}

// IsSuccess reports whether r describes a successful call. A nil result is
// not successful.
func IsSuccess(r *Result) bool {
	return r != nil && r.Success
}

// Revert returns the revert reason of a reverted call, decoded from the
// standard Error(string) encoding when possible.
func (r *Result) Revert() string {
	if r == nil || r.Outcome != Reverted || len(r.ReturnData) == 0 {
		return ""
	}
	if reason, err := unpackRevert(r.ReturnData); err == nil {
		return reason
	}
	return common.Bytes2Hex(r.ReturnData)
}

func (r *Result) String() string {
	if r.Success {
		return fmt.Sprintf("success gas=%d logs=%d", r.GasUsed, len(r.Logs))
	}
	if r.Cause != r.Outcome {
		return fmt.Sprintf("%s (cause: %s) gas=%d", r.Outcome, r.Cause, r.GasUsed)
	}
	return fmt.Sprintf("%s gas=%d", r.Outcome, r.GasUsed)
}
