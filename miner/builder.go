// Package miner orders pending host transactions into blocks.
package miner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/moved-network/hostevm/core"
)

var (
	sealedBlockMeter = metrics.NewRegisteredMeter("miner/blocks", nil)
	sealedTxMeter    = metrics.NewRegisteredMeter("miner/txs", nil)
)

// ErrPoolFull is returned by Add when the pending pool is at capacity.
var ErrPoolFull = errors.New("pending pool full")

// Config is the configuration parameters of block building.
type Config struct {
	Coinbase   common.Address // Address receiving the fees of sealed blocks
	MaxPending int            // Maximum number of queued transactions
}

// DefaultConfig contains the default builder settings.
var DefaultConfig = Config{
	MaxPending: 4096,
}

// Builder queues host transactions and seals them into blocks on top of the
// chain head, in arrival order.
type Builder struct {
	chain  *core.Chain
	config Config
	now    func() time.Time

	mu      sync.Mutex
	pending []*core.HostTx

	logger log.Logger
}

// New creates a builder for chain.
func New(chain *core.Chain, config Config) *Builder {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultConfig.MaxPending
	}
	return &Builder{
		chain:  chain,
		config: config,
		now:    time.Now,
		logger: log.New("component", "miner"),
	}
}

// Add queues txs for the next block.
func (b *Builder) Add(txs ...*core.HostTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending)+len(txs) > b.config.MaxPending {
		return ErrPoolFull
	}
	b.pending = append(b.pending, txs...)
	return nil
}

// Pending returns the number of queued transactions.
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Seal builds the next block from the queued transactions. Transactions
// that did not fit stay queued; invalid ones are dropped.
func (b *Builder) Seal() (*core.Block, types.Receipts, error) {
	b.mu.Lock()
	txs := b.pending
	b.pending = nil
	b.mu.Unlock()

	parent := b.chain.Head()
	timestamp := uint64(b.now().Unix())
	if timestamp <= parent.Time {
		timestamp = parent.Time + 1
	}
	block, receipts, leftover, err := b.chain.BuildBlock(b.config.Coinbase, timestamp, txs)
	if err != nil {
		// Nothing was committed; requeue everything.
		b.requeue(txs)
		return nil, nil, err
	}
	b.requeue(leftover)

	sealedBlockMeter.Mark(1)
	sealedTxMeter.Mark(int64(len(block.Txs)))
	if dropped := len(txs) - len(block.Txs) - len(leftover); dropped > 0 {
		b.logger.Debug("Dropped invalid transactions", "number", block.Number(), "count", dropped)
	}
	return block, receipts, nil
}

func (b *Builder) requeue(txs []*core.HostTx) {
	if len(txs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(txs, b.pending...)
}

// Run seals a block every period until ctx is cancelled or sealing fails
// with a fatal error. Empty periods produce no block.
func (b *Builder) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.Pending() == 0 {
				continue
			}
			block, _, err := b.Seal()
			if err != nil {
				if core.IsFatal(err) {
					return err
				}
				b.logger.Warn("Block sealing failed", "err", err)
				continue
			}
			b.logger.Info("Sealed new block", "number", block.Number(), "hash", block.Hash(), "txs", len(block.Txs))
		}
	}
}
