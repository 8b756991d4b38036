package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

var evmMeter = metrics.NewRegisteredMeter("vm/evm", nil)

// MaxCallDepth is the deepest guest frame the interpreter opens. The frame
// of a host call is at depth zero.
const MaxCallDepth = int(params.CallCreateDepth)

// BlockContext provides the guest with information about the block being
// built. It does not change during the block.
type BlockContext struct {
	Coinbase    common.Address
	GasLimit    uint64
	Number      uint64
	Time        uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	Random      common.Hash
	ChainID     *uint256.Int

	// GetHash returns the hash of a recent ancestor, or the zero hash.
	GetHash func(number uint64) common.Hash
}

// TxContext provides the guest with information about the running host
// transaction.
type TxContext struct {
	Origin     common.Address
	GasPrice   *uint256.Int
	BlobHashes []common.Hash
}

// StateDB is the world state the interpreter runs against.
type StateDB = gethvm.StateDB

// EVM is a configured guest interpreter for one host transaction.
type EVM = gethvm.EVM

// Executor builds guest interpreters. It is the only entry point the bridge
// uses to reach the interpreter.
type Executor interface {
	// Engine returns a human-readable short name identifying the backend.
	Engine() string
	// Spec returns the instruction set the executor implements.
	Spec() Spec
	// NewEVM returns an interpreter running against db. Frame boundaries are
	// reported to hooks, which may be nil.
	NewEVM(block BlockContext, tx TxContext, db StateDB, hooks *tracing.Hooks) *EVM
}

type goExecutor struct {
	spec Spec
}

// NewExecutor returns the go-ethereum executor for spec.
func NewExecutor(spec Spec) Executor {
	return goExecutor{spec: spec}
}

func (e goExecutor) Engine() string { return "go-evm/" + e.spec.String() }

func (e goExecutor) Spec() Spec { return e.spec }

func (e goExecutor) NewEVM(block BlockContext, tx TxContext, db StateDB, hooks *tracing.Hooks) *EVM {
	evmMeter.Mark(1)
	var chainID uint64
	if block.ChainID != nil {
		chainID = block.ChainID.Uint64()
	}
	getHash := block.GetHash
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}
	random := block.Random
	ctx := gethvm.BlockContext{
		CanTransfer: canTransfer,
		Transfer:    transfer,
		GetHash:     getHash,
		Coinbase:    block.Coinbase,
		GasLimit:    block.GasLimit,
		BlockNumber: new(big.Int).SetUint64(block.Number),
		Time:        block.Time,
		Difficulty:  new(big.Int),
		BaseFee:     toBig(block.BaseFee),
		BlobBaseFee: toBig(block.BlobBaseFee),
		Random:      &random,
	}
	evm := gethvm.NewEVM(ctx, db, ChainConfig(chainID, e.spec), gethvm.Config{Tracer: hooks})
	evm.SetTxContext(gethvm.TxContext{
		Origin:     tx.Origin,
		GasPrice:   toBig(tx.GasPrice),
		BlobHashes: tx.BlobHashes,
	})
	return evm
}

func canTransfer(db StateDB, addr common.Address, amount *uint256.Int) bool {
	return db.GetBalance(addr).Cmp(amount) >= 0
}

func transfer(db StateDB, sender, recipient common.Address, amount *uint256.Int) {
	db.SubBalance(sender, amount, tracing.BalanceChangeTransfer)
	db.AddBalance(recipient, amount, tracing.BalanceChangeTransfer)
}

// Rules returns the fork rules active for guest code under spec.
func Rules(chainID uint64, spec Spec, block BlockContext) params.Rules {
	return ChainConfig(chainID, spec).Rules(new(big.Int).SetUint64(block.Number), true, block.Time)
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
