package evmbridge

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core/vm"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/evm_bridge/gasbridge"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
	"github.com/moved-network/hostevm/tracing"
)

// Session is the bridge as seen by one host transaction. It owns the guest
// frame stack above the host frame of the transaction. A session is not safe
// for concurrent use.
type Session struct {
	bridge *Bridge
	state  *stateadapter.Adapter
	budget *gasbridge.Budget
	env    *Env
	exec   vm.Executor
	evm    *vm.EVM

	origin   common.Address
	gasPrice *uint256.Int

	hostDepth      int
	frames         []*frameRecord
	inSelfDestruct bool
	outcome        frameOutcome
	logs           []*types.Log // detached logs of the last top-level frame
	onFrame        func(depth int, state FrameState)
	emitted        int
	closed         bool

	logger log.Logger
}

// SetFrameHook installs a callback observing every frame state transition.
func (s *Session) SetFrameHook(fn func(depth int, state FrameState)) { s.onFrame = fn }

// Budget returns the host gas meter of the session.
func (s *Session) Budget() *gasbridge.Budget { return s.budget }

// Origin returns the guest address of the transaction sender.
func (s *Session) Origin() common.Address { return s.origin }

// Env returns the block environment.
func (s *Session) Env() *Env { return s.env }

// Emitted returns the number of guest logs emitted into the host transaction.
func (s *Session) Emitted() int { return s.emitted }

// Close ends the session. Later operations fail with ErrSessionClosed.
func (s *Session) Close() { s.closed = true }

// Call runs target's code with the given input, transferring value from
// caller. gasLimit is in host gas units and is charged to the session budget
// according to the guest gas actually used.
func (s *Session) Call(caller addrcodec.HostID, target common.Address, value *uint256.Int, input []byte, gasLimit uint64) (*Result, error) {
	return s.enter(OpCall, caller, target, value, input, gasLimit)
}

// StaticView runs target's code read-only. Any attempted state change ends
// the call in StaticViolation. The call may use all remaining host gas.
func (s *Session) StaticView(caller addrcodec.HostID, target common.Address, input []byte) (*Result, error) {
	return s.enter(OpStaticView, caller, target, nil, input, s.budget.Remaining())
}

// Create deploys code as a new contract owned by caller. On success the
// return data holds the 20-byte address of the contract.
func (s *Session) Create(caller addrcodec.HostID, code []byte, value *uint256.Int, gasLimit uint64) (*Result, error) {
	return s.enter(OpCreate, caller, common.Address{}, value, code, gasLimit)
}

// Deposit mints amount to the guest account of caller and calls target with
// it. The mint and the call form one unit: if the call fails, the minted
// funds are dropped together with every change made by the call.
func (s *Session) Deposit(caller addrcodec.HostID, target common.Address, amount *uint256.Int, input []byte, gasLimit uint64) (*Result, error) {
	return s.enter(OpDeposit, caller, target, amount, input, gasLimit)
}

// EmitLogs appends the logs of a successful result to the host transaction,
// in the order they were produced. The logs are dropped again if the host
// frame is later discarded. Logs of failed results are never emitted, and a
// result can be emitted only once.
func (s *Session) EmitLogs(r *Result) error {
	if err := s.check(); err != nil {
		return err
	}
	if r == nil {
		return ErrMissingResult
	}
	if !r.Success {
		return nil
	}
	if r.emitted {
		return ErrAlreadyEmitted
	}
	for _, l := range r.Logs {
		s.state.AddLog(l)
	}
	r.emitted = true
	s.emitted += len(r.Logs)
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.state.Depth() != s.hostDepth {
		return fmt.Errorf("%w: adapter depth %d, want %d", ErrHostFrame, s.state.Depth(), s.hostDepth)
	}
	return nil
}

// enter runs one top-level guest frame. Errors are returned only for calls
// rejected before a frame opens and for state backend failures, which are
// fatal to the block.
func (s *Session) enter(op NativeOp, caller addrcodec.HostID, target common.Address, value *uint256.Int, input []byte, gasLimit uint64) (*Result, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if value == nil {
		value = new(uint256.Int)
	}
	sender, err := s.bridge.registry.Register(caller)
	if err != nil {
		rejectedMeter.Mark(1)
		return nil, err
	}
	guestGas, err := s.bridge.gas.Reserve(s.budget, gasLimit)
	if err != nil {
		rejectedMeter.Mark(1)
		return nil, err
	}
	start := time.Now()
	evm := s.interpreter()
	s.outcome, s.logs, s.frames = frameOutcome{}, nil, s.frames[:0]

	var (
		ret     []byte
		gasLeft uint64
		created common.Address
		vmerr   error
	)
	switch op {
	case OpCall:
		s.prepare(sender, &target)
		ret, gasLeft, vmerr = evm.Call(sender, target, input, guestGas, value)

	case OpStaticView:
		s.prepare(sender, &target)
		ret, gasLeft, vmerr = evm.StaticCall(sender, target, input, guestGas)

	case OpCreate:
		if s.env.Spec.IsShanghai() && len(input) > params.MaxInitCodeSize {
			s.outcome = s.reject(Reverted)
			vmerr = vm.ErrMaxInitCodeSizeExceeded
			break
		}
		s.prepare(sender, nil)
		ret, created, gasLeft, vmerr = evm.Create(sender, input, guestGas, value)

	case OpDeposit:
		wrapper := s.state.Push()
		s.state.AddBalance(sender, value, tracing.BalanceChangeDeposit)
		s.prepare(sender, &target)
		ret, gasLeft, vmerr = evm.Call(sender, target, input, guestGas, value)
		if vmerr != nil {
			s.state.RevertTo(wrapper)
		} else if err := s.state.Commit(); err != nil {
			s.logger.Error("Deposit commit failed", "err", err)
		}

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownOp, op)
	}

	if err := s.state.Error(); err != nil {
		s.state.RevertTo(s.hostDepth)
		return nil, fmt.Errorf("%w: %w", ErrStateBackend, err)
	}
	if s.state.Depth() != s.hostDepth {
		s.logger.Error("Guest frames left open", "depth", s.state.Depth(), "host", s.hostDepth)
		s.state.RevertTo(s.hostDepth)
	}
	if vm.IsExceptionalHalt(vmerr) {
		ret = nil
	}
	guestUsed := guestGas - gasLeft
	charge, err := s.bridge.gas.Settle(s.budget, guestUsed)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Success:      vmerr == nil,
		ReturnData:   ret,
		GasUsed:      charge,
		GuestGasUsed: guestUsed,
		Outcome:      s.outcome.state,
		Cause:        s.outcome.cause,
		Err:          vmerr,
	}
	if vmerr == nil {
		result.Logs = s.logs
		if op == OpCreate {
			result.CreatedAddress = created
			result.ReturnData = created.Bytes()
		}
	}
	s.logs = nil
	markOutcome(result.Outcome)
	callTimer.UpdateSince(start)
	gasUsedGauge.Inc(int64(charge))

	s.logger.Debug("Guest call finished", "op", op, "target", target, "outcome", result.Outcome,
		"cause", result.Cause, "gas", charge, "logs", len(result.Logs), "budget", s.budget)
	return result, nil
}
