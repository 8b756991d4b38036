package evmbridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
)

// NativeOp enumerates the operations host programs can invoke on the bridge.
type NativeOp uint8

const (
	OpCall NativeOp = iota
	OpStaticView
	OpCreate
	OpEncodeCallData
	OpIsSuccess
	OpEmitLogs
	OpDeposit
)

var nativeOpNames = [...]string{
	OpCall:           "call",
	OpStaticView:     "static_view",
	OpCreate:         "create",
	OpEncodeCallData: "encode_call_data",
	OpIsSuccess:      "is_success",
	OpEmitLogs:       "emit_logs",
	OpDeposit:        "deposit",
}

func (op NativeOp) String() string {
	if int(op) < len(nativeOpNames) {
		return nativeOpNames[op]
	}
	return fmt.Sprintf("NativeOp(%d)", uint8(op))
}

// ParseNativeOp returns the operation with the given name.
func ParseNativeOp(name string) (NativeOp, bool) {
	for i, n := range nativeOpNames {
		if n == name {
			return NativeOp(i), true
		}
	}
	return 0, false
}

// Invocation carries the arguments of one native operation. Fields an
// operation does not use are ignored.
type Invocation struct {
	Op NativeOp

	// OpCall, OpStaticView, OpCreate and OpDeposit. Input is the init code
	// of OpCreate, Value the minted amount of OpDeposit.
	Caller   addrcodec.HostID
	Target   common.Address
	Value    *uint256.Int
	Input    []byte
	GasLimit uint64

	// OpEncodeCallData. Selector and Args are used when Method is empty.
	Method   string
	Selector Selector
	Args     []Arg

	// OpIsSuccess and OpEmitLogs.
	Result *Result
}

// Output is the value produced by a native operation.
type Output struct {
	Result *Result // OpCall, OpStaticView, OpCreate, OpDeposit
	Data   []byte  // OpEncodeCallData
	Bool   bool    // OpIsSuccess
}

// Invoke dispatches one native operation.
func (s *Session) Invoke(inv *Invocation) (*Output, error) {
	switch inv.Op {
	case OpCall:
		res, err := s.Call(inv.Caller, inv.Target, inv.Value, inv.Input, inv.GasLimit)
		if err != nil {
			return nil, err
		}
		return &Output{Result: res}, nil

	case OpStaticView:
		res, err := s.StaticView(inv.Caller, inv.Target, inv.Input)
		if err != nil {
			return nil, err
		}
		return &Output{Result: res}, nil

	case OpCreate:
		res, err := s.Create(inv.Caller, inv.Input, inv.Value, inv.GasLimit)
		if err != nil {
			return nil, err
		}
		return &Output{Result: res}, nil

	case OpDeposit:
		res, err := s.Deposit(inv.Caller, inv.Target, inv.Value, inv.Input, inv.GasLimit)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return &Output{Result: res}, fmt.Errorf("%w: %v", ErrDepositFailed, res)
		}
		return &Output{Result: res}, nil

	case OpEncodeCallData:
		var (
			data []byte
			err  error
		)
		if inv.Method != "" {
			values := make([]interface{}, len(inv.Args))
			for i, arg := range inv.Args {
				values[i] = arg.Value
			}
			data, err = EncodeMethodCall(inv.Method, values...)
		} else {
			data, err = EncodeCallData(inv.Selector, inv.Args)
		}
		if err != nil {
			return nil, err
		}
		return &Output{Data: data}, nil

	case OpIsSuccess:
		if inv.Result == nil {
			return nil, ErrMissingResult
		}
		return &Output{Bool: IsSuccess(inv.Result)}, nil

	case OpEmitLogs:
		if err := s.EmitLogs(inv.Result); err != nil {
			return nil, err
		}
		return &Output{}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownOp, inv.Op)
}
