package core

import "errors"

// List of host transaction validation errors. A transaction failing one of
// these checks is rejected and leaves no trace in the block.
var (
	// ErrGasLimitReached is returned if the gas limit of a transaction is
	// higher than the gas left in the block.
	ErrGasLimitReached = errors.New("gas limit reached")

	// ErrIntrinsicGas is returned if the transaction gas limit does not
	// cover the base cost of a host transaction.
	ErrIntrinsicGas = errors.New("intrinsic gas too low")

	// ErrInsufficientFunds is returned if the sender cannot pay for the gas
	// limit at the given price.
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price")

	// ErrInvalidSender is returned if the sender cannot be mapped to a guest
	// account.
	ErrInvalidSender = errors.New("invalid sender")

	// ErrFeeCapTooLow is returned if the gas price is below the block base
	// fee.
	ErrFeeCapTooLow = errors.New("gas price less than block base fee")

	// ErrBadStepRef is returned for program steps referring to a step that
	// has not run yet.
	ErrBadStepRef = errors.New("program step refers to a later step")
)

// ErrProgramAborted is the abort reason of a host program stopped by a
// required step that failed.
var ErrProgramAborted = errors.New("required step failed")

// Block validation errors.
var (
	ErrUnknownParent  = errors.New("unknown parent")
	ErrInvalidNumber  = errors.New("invalid block number")
	ErrNoGenesis      = errors.New("genesis not found in chain")
	ErrGenesisMissing = errors.New("no genesis given for an empty database")
)
