package evmbridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/moved-network/hostevm/core/vm"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
)

// frameRecord tracks one guest frame while it is on the stack.
type frameRecord struct {
	depth int
	state FrameState
	// snapshot is the adapter frame opened for the guest frame, -1 until the
	// interpreter opens it.
	snapshot int
	// childFailure is the cause of the last nested frame that failed, Pending
	// if none did.
	childFailure FrameState
	cause        FrameState
}

// frameOutcome is the terminal state of the outermost guest frame.
type frameOutcome struct {
	state FrameState
	cause FrameState
}

// guestState is the state database handed to the interpreter. Opening a
// snapshot is the point where a guest frame starts executing.
type guestState struct {
	*stateadapter.Adapter
	s *Session
}

func (g *guestState) Snapshot() int {
	id := g.Adapter.Snapshot()
	if n := len(g.s.frames); n > 0 {
		rec := g.s.frames[n-1]
		if rec.snapshot < 0 {
			rec.snapshot = id
			g.s.transition(rec, Executing)
		}
	}
	return id
}

// hooks reports the frame boundaries of the interpreter to the session.
func (s *Session) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter: s.onEnter,
		OnExit:  s.onExit,
	}
}

func (s *Session) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	// SELFDESTRUCT is reported as an empty frame of its own.
	if gethvm.OpCode(typ) == gethvm.SELFDESTRUCT {
		s.inSelfDestruct = true
		return
	}
	rec := &frameRecord{depth: depth, snapshot: -1}
	s.frames = append(s.frames, rec)
	s.transition(rec, Pending)
}

// onExit ends the innermost frame. The interpreter has already reverted a
// failed frame; a successful one is merged into its parent here. The logs of
// the outermost frame are detached before the merge so that they reach the
// host transaction only through EmitLogs.
func (s *Session) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if s.inSelfDestruct {
		s.inSelfDestruct = false
		return
	}
	rec := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]

	opened := rec.snapshot >= 0
	if err == nil {
		if opened {
			if depth == 0 {
				s.logs = s.state.TakeLogs()
			}
			if cerr := s.state.Commit(); cerr != nil {
				s.logger.Error("Frame commit failed", "depth", depth, "err", cerr)
			}
		}
		rec.cause = Success
		s.transition(rec, Success)
	} else {
		if opened && s.state.Depth() > rec.snapshot {
			s.state.RevertTo(rec.snapshot)
		}
		state := classify(err)
		rec.cause = state
		if state == Reverted && rec.childFailure.Failed() {
			rec.cause = rec.childFailure
		}
		s.transition(rec, state)
	}
	if len(s.frames) > 0 {
		parent := s.frames[len(s.frames)-1]
		if rec.state.Failed() {
			parent.childFailure = rec.cause
		} else {
			parent.childFailure = Pending
		}
	}
	if depth == 0 {
		s.outcome = frameOutcome{state: rec.state, cause: rec.cause}
	} else {
		s.logger.Trace("Guest frame finished", "depth", depth, "state", rec.state, "gasused", gasUsed)
	}
}

func (s *Session) transition(rec *frameRecord, state FrameState) {
	rec.state = state
	if s.onFrame != nil {
		s.onFrame(rec.depth, state)
	}
}

// reject reports a top-level frame refused before the interpreter ran.
func (s *Session) reject(state FrameState) frameOutcome {
	rec := &frameRecord{snapshot: -1}
	s.transition(rec, Pending)
	s.transition(rec, state)
	return frameOutcome{state: state, cause: state}
}

// interpreter returns the guest interpreter of the session, creating it on
// first use.
func (s *Session) interpreter() *vm.EVM {
	if s.evm == nil {
		tx := vm.TxContext{Origin: s.origin, GasPrice: s.gasPrice}
		s.evm = s.exec.NewEVM(s.env.Block, tx, &guestState{Adapter: s.state, s: s}, s.hooks())
	}
	return s.evm
}

// prepare warms the access list entries of EIP-2929 and EIP-3651 for a
// top-level guest call.
func (s *Session) prepare(sender common.Address, dest *common.Address) {
	rules := s.interpreter().ChainConfig().Rules(new(big.Int).SetUint64(s.env.Block.Number), true, s.env.Block.Time)
	s.state.AddAddressToAccessList(s.origin)
	s.state.Prepare(rules, sender, s.env.Block.Coinbase, dest, gethvm.ActivePrecompiles(rules), nil)
}
