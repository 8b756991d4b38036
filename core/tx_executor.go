package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/evm_bridge/gasbridge"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
	"github.com/moved-network/hostevm/tracing"
)

// IntrinsicGas is the host gas every transaction pays before its program
// runs.
const IntrinsicGas = params.TxGas

// TxExecutor is an abstraction over the transaction execution backend. It
// hides how host programs reach guest code behind a common interface that
// the StateProcessor and the block builder use.
type TxExecutor interface {
	// Engine returns a short human identifier.
	Engine() string

	// ExecuteTx runs tx against the block state and returns its receipt.
	// Errors are returned for invalid transactions, which leave no trace,
	// and for state backend failures, which match evmbridge.ErrStateBackend
	// and are fatal to the block.
	ExecuteTx(tx *HostTx, txIdx int, gp *GasPool, header *types.Header, usedGas *uint64) (*types.Receipt, *ExecutionResult, error)
}

// ExecutionResult is the outcome of a host transaction that was included.
type ExecutionResult struct {
	UsedGas uint64
	// Err is the reason the program was aborted, nil if it ran to the end.
	Err error
	// Results holds the guest call results by step, nil for other steps.
	Results         []*evmbridge.Result
	Logs            []*types.Log
	ContractAddress common.Address
}

// Failed reports whether the program was aborted.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// NewTxExecutor returns an executor running host programs through bridge on
// state, in the block environment env. Fees are credited to the coinbase of
// the block.
func NewTxExecutor(bridge *evmbridge.Bridge, state *stateadapter.Adapter, env *evmbridge.Env) TxExecutor {
	return &bridgeExecutor{
		bridge: bridge,
		state:  state,
		env:    env,
		logger: log.New("component", "executor"),
	}
}

type bridgeExecutor struct {
	bridge *evmbridge.Bridge
	state  *stateadapter.Adapter
	env    *evmbridge.Env
	logger log.Logger
}

func (e *bridgeExecutor) Engine() string { return "evmbridge/" + e.env.Spec.String() }

func (e *bridgeExecutor) ExecuteTx(tx *HostTx, txIdx int, gp *GasPool, header *types.Header, usedGas *uint64) (*types.Receipt, *ExecutionResult, error) {
	result, err := e.apply(tx, gp)
	if err != nil {
		return nil, nil, err
	}
	*usedGas += result.UsedGas
	return makeReceipt(tx, txIdx, header.Number, result, *usedGas), result, nil
}

// apply buys gas on the base frame of the transaction, runs the program in
// the host frame, then refunds the unused gas and pays the fee.
func (e *bridgeExecutor) apply(tx *HostTx, gp *GasPool) (*ExecutionResult, error) {
	sender, err := addrcodec.Convert(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	price := tx.price()
	if base := e.env.Block.BaseFee; base != nil && price.Lt(base) {
		return nil, fmt.Errorf("%w: address %v, price %v, basefee %v", ErrFeeCapTooLow, sender, price, base)
	}
	budget := gasbridge.NewBudget(tx.GasLimit)
	if err := budget.Charge(IntrinsicGas); err != nil {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.GasLimit, IntrinsicGas)
	}
	if err := gp.SubGas(tx.GasLimit); err != nil {
		return nil, fmt.Errorf("%w: have %d, want %d", err, gp.Gas(), tx.GasLimit)
	}
	if err := e.state.BeginTx(); err != nil {
		gp.AddGas(tx.GasLimit)
		return nil, err
	}
	cost, overflow := tx.Cost()
	if overflow || !e.state.CanTransfer(sender, cost) {
		have := e.state.GetBalance(sender).Clone()
		e.state.Discard()
		gp.AddGas(tx.GasLimit)
		if err := e.state.Error(); err != nil {
			return nil, fmt.Errorf("%w: %w", evmbridge.ErrStateBackend, err)
		}
		return nil, fmt.Errorf("%w: address %v have %v want %v", ErrInsufficientFunds, sender, have, cost)
	}
	e.state.SubBalance(sender, cost, tracing.BalanceChangeGasBuy)
	e.state.SetNonce(sender, e.state.GetNonce(sender)+1, tracing.NonceChangeHostTx)

	result := new(ExecutionResult)

	e.state.Push()
	session, err := e.bridge.NewSession(e.state, budget, tx.Sender, price, e.env)
	if err != nil {
		result.Err = err
	} else {
		handle := evmbridge.NewSessionHandle(session)
		err = runProgram(handle, tx.Program, result)
		evmbridge.ReleaseSession(handle)
		session.Close()
		if err != nil {
			e.state.RevertTo(0)
			return nil, err
		}
	}
	if result.Err == nil {
		if err := e.state.Commit(); err != nil {
			return nil, err
		}
	} else {
		e.state.Discard()
		result.ContractAddress = common.Address{}
	}

	used, remaining := budget.Used(), budget.Remaining()
	refund := new(uint256.Int).Mul(uint256.NewInt(remaining), price)
	fee := new(uint256.Int).Mul(uint256.NewInt(used), price)
	e.state.AddBalance(sender, refund, tracing.BalanceChangeGasRefund)
	e.state.AddBalance(e.env.Block.Coinbase, fee, tracing.BalanceChangeFee)
	gp.AddGas(remaining)

	logs, err := e.state.FinalizeTx()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", evmbridge.ErrStateBackend, err)
	}
	result.UsedGas = used
	result.Logs = logs
	if result.Err != nil {
		e.logger.Debug("Host program aborted", "sender", sender, "gas", used, "err", result.Err)
	}
	return result, nil
}

// runProgram executes the steps of a host program through the session
// registered under handle. An aborted program is reported in res.Err; the
// returned error is fatal to the block.
//
// Any error returned by Invoke other than a state backend failure aborts
// the program: host programs have no error handling of their own, so an
// ErrInsufficientGas, an invalid address or a failed deposit cannot be
// caught and recovered from by a later step. Guest failures reported in a
// Result do not abort unless the step is required.
func runProgram(handle uintptr, program []Step, res *ExecutionResult) error {
	s, ok := evmbridge.LookupSession(handle)
	if !ok {
		return fmt.Errorf("session handle %d not registered", handle)
	}
	outputs := make([]*evmbridge.Output, len(program))
	res.Results = make([]*evmbridge.Result, len(program))
	for i := range program {
		step := &program[i]
		inv := step.Invocation
		if step.InputFrom != 0 {
			prev, err := earlierOutput(outputs, i, step.InputFrom)
			if err != nil {
				res.Err = err
				return nil
			}
			inv.Input = prev.Data
		}
		if step.ResultOf != 0 {
			prev, err := earlierOutput(outputs, i, step.ResultOf)
			if err != nil {
				res.Err = err
				return nil
			}
			inv.Result = prev.Result
		}
		out, err := s.Invoke(&inv)
		if err != nil {
			if errors.Is(err, evmbridge.ErrStateBackend) {
				return err
			}
			res.Err = fmt.Errorf("step %d (%v): %w", i+1, inv.Op, err)
			return nil
		}
		outputs[i] = out
		if r := out.Result; r != nil {
			res.Results[i] = r
			if inv.Op == evmbridge.OpCreate && r.Success && res.ContractAddress == (common.Address{}) {
				res.ContractAddress = r.CreatedAddress
			}
		}
		if step.Require && stepFailed(inv.Op, out) {
			res.Err = fmt.Errorf("step %d (%v): %w", i+1, inv.Op, ErrProgramAborted)
			return nil
		}
	}
	return nil
}

func earlierOutput(outputs []*evmbridge.Output, current, ref int) (*evmbridge.Output, error) {
	if ref < 1 || ref > current || outputs[ref-1] == nil {
		return nil, fmt.Errorf("%w: step %d refers to step %d", ErrBadStepRef, current+1, ref)
	}
	return outputs[ref-1], nil
}

func stepFailed(op evmbridge.NativeOp, out *evmbridge.Output) bool {
	if out.Result != nil {
		return !out.Result.Success
	}
	return op == evmbridge.OpIsSuccess && !out.Bool
}

// makeReceipt builds the receipt of the transaction at txIdx. Block hash and
// log indices are filled in when the block is sealed.
func makeReceipt(tx *HostTx, txIdx int, number *big.Int, result *ExecutionResult, cumulativeGasUsed uint64) *types.Receipt {
	receipt := &types.Receipt{Type: types.LegacyTxType, CumulativeGasUsed: cumulativeGasUsed}
	if result.Failed() {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	receipt.TxHash = tx.Hash()
	receipt.GasUsed = result.UsedGas
	receipt.ContractAddress = result.ContractAddress
	receipt.Logs = result.Logs
	for _, l := range receipt.Logs {
		l.TxHash = receipt.TxHash
		l.TxIndex = uint(txIdx)
		l.BlockNumber = number.Uint64()
	}
	receipt.Bloom = logsBloom(receipt.Logs)
	receipt.BlockNumber = new(big.Int).Set(number)
	receipt.TransactionIndex = uint(txIdx)
	return receipt
}

func logsBloom(logs []*types.Log) types.Bloom {
	var bloom types.Bloom
	for _, l := range logs {
		bloom.Add(l.Address.Bytes())
		for _, topic := range l.Topics {
			bloom.Add(topic[:])
		}
	}
	return bloom
}
