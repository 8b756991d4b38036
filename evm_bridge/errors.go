package evmbridge

import (
	"errors"

	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/evm_bridge/gasbridge"
)

var (
	// ErrInvalidAddressMapping is returned when a host identifier cannot be
	// embedded as a guest address. No frame is opened.
	ErrInvalidAddressMapping = addrcodec.ErrInvalidAddressMapping

	// ErrInsufficientGas is returned when a call's gas limit cannot be funded
	// from the host budget. No guest code runs.
	ErrInsufficientGas = gasbridge.ErrInsufficientGas

	// ErrEncoding is returned for argument lists that cannot be ABI encoded
	// or return data that cannot be decoded.
	ErrEncoding = errors.New("abi encoding error")

	// ErrSessionClosed is returned by operations on a finished session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownOp is returned by Invoke for an undefined native operation.
	ErrUnknownOp = errors.New("unknown native operation")

	// ErrMissingResult is returned by result inspecting operations invoked
	// without a result.
	ErrMissingResult = errors.New("missing call result")

	// ErrHostFrame is returned when a session is used without an open host
	// frame in its state adapter.
	ErrHostFrame = errors.New("no host frame open")

	// ErrAlreadyEmitted is returned when the logs of a result are emitted a
	// second time.
	ErrAlreadyEmitted = errors.New("logs already emitted")

	// ErrDepositFailed is returned by a deposit whose guest call failed. The
	// minted funds are not kept.
	ErrDepositFailed = errors.New("deposit failed")

	// ErrStateBackend wraps a failure of the committed state store. It is
	// fatal to the block being built.
	ErrStateBackend = errors.New("state backend failure")
)
