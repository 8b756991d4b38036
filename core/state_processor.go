package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core/vm"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
	"github.com/moved-network/hostevm/trie"
)

const largeTxGasLimit = 10_000_000 // host gas, to measure the execution time of large txs

// StateProcessor runs the host transactions of a block in order against the
// block state. Transaction i sees every write of transactions before it.
type StateProcessor struct {
	config *params.ChainConfig // Chain configuration options
	bridge *evmbridge.Bridge   // Native call bridge shared by all blocks
}

// NewStateProcessor initialises a new StateProcessor.
func NewStateProcessor(config *params.ChainConfig, bridge *evmbridge.Bridge) *StateProcessor {
	return &StateProcessor{
		config: config,
		bridge: bridge,
	}
}

// ProcessResult contains the values computed by Process.
type ProcessResult struct {
	Receipts types.Receipts
	Results  []*ExecutionResult
	Logs     []*types.Log
	GasUsed  uint64
}

// Env returns the guest environment of the block with the given header.
func (p *StateProcessor) Env(header *types.Header, getHash func(uint64) common.Hash) *evmbridge.Env {
	ctx := vm.BlockContext{
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		Number:      header.Number.Uint64(),
		Time:        header.Time,
		BaseFee:     new(uint256.Int),
		BlobBaseFee: new(uint256.Int),
		Random:      header.MixDigest,
		ChainID:     uint256.MustFromBig(p.config.ChainID),
		GetHash:     getHash,
	}
	if header.BaseFee != nil {
		ctx.BaseFee = uint256.MustFromBig(header.BaseFee)
	}
	return &evmbridge.Env{
		Block: ctx,
		Spec:  vm.SpecFromConfig(p.config, header.Number.Uint64(), header.Time),
	}
}

// Executor returns the transaction executor for the block with the given
// header.
func (p *StateProcessor) Executor(header *types.Header, state *stateadapter.Adapter, getHash func(uint64) common.Hash) TxExecutor {
	return NewTxExecutor(p.bridge, state, p.Env(header, getHash))
}

// Process runs every transaction of block against state. Any invalid
// transaction makes the whole block invalid. The written state stays pending
// in the adapter until it is flushed by the caller.
func (p *StateProcessor) Process(block *Block, state *stateadapter.Adapter, getHash func(uint64) common.Hash) (*ProcessResult, error) {
	var (
		header   = block.Header
		number   = block.Number()
		executor = p.Executor(header, state, getHash)
		gp       = new(GasPool).AddGas(header.GasLimit)
		usedGas  = new(uint64)
		result   = &ProcessResult{Receipts: make(types.Receipts, 0, len(block.Txs))}
	)
	log.Debug("Processing block", "number", number, "txs", len(block.Txs), "engine", executor.Engine())
	hashCacher.cache(block.Txs)

	for i, tx := range block.Txs {
		start := time.Now()
		receipt, res, err := executor.ExecuteTx(tx, i, gp, header, usedGas)
		if err != nil {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash().Hex(), err)
		}
		if res.UsedGas > largeTxGasLimit {
			log.Info("LargeTX execution time", "block", number, "tx", receipt.TxHash, "gasUsed", res.UsedGas, "elapsed", common.PrettyDuration(time.Since(start)))
		}
		result.Receipts = append(result.Receipts, receipt)
		result.Results = append(result.Results, res)
		result.Logs = append(result.Logs, receipt.Logs...)
	}
	result.GasUsed = *usedGas
	return result, nil
}

// IsFatal reports whether err stops block production rather than rejecting
// a single transaction.
func IsFatal(err error) bool {
	return errors.Is(err, evmbridge.ErrStateBackend) || errors.Is(err, trie.ErrTrieCorruption)
}
