package vm

import (
	"errors"

	gethvm "github.com/ethereum/go-ethereum/core/vm"
)

// Guest execution errors share their values with go-ethereum so callers can
// classify results with errors.Is against either package.
var (
	ErrOutOfGas                 = gethvm.ErrOutOfGas
	ErrCodeStoreOutOfGas        = gethvm.ErrCodeStoreOutOfGas
	ErrDepth                    = gethvm.ErrDepth
	ErrInsufficientBalance      = gethvm.ErrInsufficientBalance
	ErrContractAddressCollision = gethvm.ErrContractAddressCollision
	ErrExecutionReverted        = gethvm.ErrExecutionReverted
	ErrMaxCodeSizeExceeded      = gethvm.ErrMaxCodeSizeExceeded
	ErrMaxInitCodeSizeExceeded  = gethvm.ErrMaxInitCodeSizeExceeded
	ErrInvalidJump              = gethvm.ErrInvalidJump
	ErrWriteProtection          = gethvm.ErrWriteProtection
	ErrReturnDataOutOfBounds    = gethvm.ErrReturnDataOutOfBounds
	ErrGasUintOverflow          = gethvm.ErrGasUintOverflow
	ErrInvalidCode              = gethvm.ErrInvalidCode
	ErrNonceUintOverflow        = gethvm.ErrNonceUintOverflow
)

// IsExceptionalHalt reports whether err consumed all gas of the frame, which
// is every error but a revert.
func IsExceptionalHalt(err error) bool {
	return err != nil && !errors.Is(err, ErrExecutionReverted)
}
