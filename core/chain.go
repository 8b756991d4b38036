package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/moved-network/hostevm/core/state"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/trie"
)

// Errors returned when re-executing a block yields a header that differs from
// the one it was sealed with. The block is not committed.
var (
	ErrBadRoot        = errors.New("state root mismatch")
	ErrBadTxHash      = errors.New("transaction root mismatch")
	ErrBadReceiptHash = errors.New("receipt root mismatch")
	ErrBadBloom       = errors.New("logs bloom mismatch")
)

// Options tunes the caches of a chain.
type Options struct {
	Trie    *trie.Config
	Adapter *stateadapter.Config
	// ProofRange restricts proofs to a range of addresses. nil allows all.
	ProofRange *state.AddressRange
}

// Chain is the sequence of committed blocks and the state they produced.
// Blocks are executed one at a time; proofs may be served concurrently
// against committed roots.
type Chain struct {
	config    *params.ChainConfig
	db        storage.KeyValueStore
	trie      *state.StateTrie
	state     *stateadapter.Adapter
	hashes    *BlockHashes
	processor *StateProcessor

	mu     sync.Mutex // serialises block execution
	head   *types.Header
	logger log.Logger
}

// NewChain opens the chain stored in db. An empty database is initialised
// from genesis, which may be nil otherwise.
func NewChain(db storage.KeyValueStore, config *params.ChainConfig, genesis *Genesis, bridge *evmbridge.Bridge, opts *Options) (*Chain, error) {
	if opts == nil {
		opts = new(Options)
	}
	st, err := state.New(db, opts.Trie)
	if err != nil {
		return nil, err
	}
	st.SetProofRange(opts.ProofRange)
	c := &Chain{
		config:    config,
		db:        db,
		trie:      st,
		hashes:    NewBlockHashes(db),
		processor: NewStateProcessor(config, bridge),
		logger:    log.New("component", "chain"),
	}
	if height, ok := st.Height(); ok {
		if c.head, err = ReadHeader(db, height); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoGenesis, err)
		}
	} else {
		if genesis == nil {
			return nil, ErrGenesisMissing
		}
		if err := c.commitGenesis(genesis); err != nil {
			return nil, err
		}
	}
	reader, err := st.Reader()
	if err != nil {
		return nil, err
	}
	if c.state, err = stateadapter.New(reader, opts.Adapter); err != nil {
		return nil, err
	}
	c.logger.Info("Initialised chain", "number", c.head.Number, "hash", c.head.Hash(), "root", c.head.Root)
	return c, nil
}

func (c *Chain) commitGenesis(genesis *Genesis) error {
	overlays, err := genesis.Overlays()
	if err != nil {
		return err
	}
	root, err := c.trie.Apply(0, overlays)
	if err != nil {
		return err
	}
	header := genesis.ToHeader(root)
	if err := writeBlock(c.db, header); err != nil {
		return err
	}
	c.hashes.Add(0, header.Hash())
	c.head = header
	c.logger.Info("Committed genesis", "accounts", len(overlays), "root", root)
	return nil
}

// Config returns the chain configuration.
func (c *Chain) Config() *params.ChainConfig { return c.config }

// Head returns the header of the latest block.
func (c *Chain) Head() *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CopyHeader(c.head)
}

// GetHeader returns the header of block number.
func (c *Chain) GetHeader(number uint64) (*types.Header, error) {
	return ReadHeader(c.db, number)
}

// StateTrie returns the committed state. Its readers and proofs are safe to
// use while blocks are executed.
func (c *Chain) StateTrie() *state.StateTrie { return c.trie }

// BuildBlock executes txs in order on top of the head block and seals the
// result as the next block. Invalid transactions are skipped; transactions
// that do not fit in the block gas limit are returned for a later block.
func (c *Chain) BuildBlock(coinbase common.Address, time uint64, txs []*HostTx) (*Block, types.Receipts, []*HostTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := newHeader(c.head, coinbase, time)
	var (
		executor = c.processor.Executor(header, c.state, c.hashes.Getter(header.Number.Uint64()))
		gp       = new(GasPool).AddGas(header.GasLimit)
		usedGas  = new(uint64)
		included []*HostTx
		receipts types.Receipts
		leftover []*HostTx
	)
	hashCacher.cache(txs)
	c.prefetch(coinbase, txs)
	for _, tx := range txs {
		if gp.Gas() < IntrinsicGas {
			leftover = append(leftover, tx)
			continue
		}
		receipt, _, err := executor.ExecuteTx(tx, len(included), gp, header, usedGas)
		switch {
		case err == nil:
			included = append(included, tx)
			receipts = append(receipts, receipt)
		case errors.Is(err, ErrGasLimitReached):
			leftover = append(leftover, tx)
		case IsFatal(err):
			c.rollback()
			return nil, nil, nil, err
		default:
			c.logger.Debug("Skipping invalid transaction", "hash", tx.Hash(), "err", err)
		}
	}
	block := &Block{Header: header, Txs: included}
	if err := c.seal(block, receipts, *usedGas); err != nil {
		return nil, nil, nil, err
	}
	return block, receipts, leftover, nil
}

// InsertBlock re-executes a block sealed elsewhere and commits it. The
// result must match the sealed header.
func (c *Chain) InsertBlock(block *Block) (types.Receipts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sealed := block.Header
	if sealed.ParentHash != c.head.Hash() {
		return nil, fmt.Errorf("%w: %x", ErrUnknownParent, sealed.ParentHash)
	}
	if want := new(big.Int).Add(c.head.Number, common.Big1); sealed.Number.Cmp(want) != 0 {
		return nil, fmt.Errorf("%w: have %v, want %v", ErrInvalidNumber, sealed.Number, want)
	}
	header := newHeader(c.head, sealed.Coinbase, sealed.Time)
	header.GasLimit = sealed.GasLimit
	header.MixDigest = sealed.MixDigest

	c.prefetch(header.Coinbase, block.Txs)
	result, err := c.processor.Process(&Block{Header: header, Txs: block.Txs}, c.state, c.hashes.Getter(header.Number.Uint64()))
	if err != nil {
		c.rollback()
		return nil, err
	}
	if result.GasUsed != sealed.GasUsed {
		c.rollback()
		return nil, fmt.Errorf("invalid gas used (remote: %d local: %d)", sealed.GasUsed, result.GasUsed)
	}
	executed := &Block{Header: header, Txs: block.Txs}
	staged, err := c.finalise(executed, result.Receipts, result.GasUsed)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(sealed, header); err != nil {
		c.logger.Error("Block diverged", "number", header.Number, "err", err)
		c.rollback()
		return nil, err
	}
	if err := c.commit(executed, result.Receipts, staged); err != nil {
		return nil, err
	}
	return result.Receipts, nil
}

// validateHeader compares the fields derived from executing a block against
// the ones it was sealed with.
func validateHeader(sealed, local *types.Header) error {
	if local.TxHash != sealed.TxHash {
		return fmt.Errorf("%w (remote: %x local: %x)", ErrBadTxHash, sealed.TxHash, local.TxHash)
	}
	if local.ReceiptHash != sealed.ReceiptHash {
		return fmt.Errorf("%w (remote: %x local: %x)", ErrBadReceiptHash, sealed.ReceiptHash, local.ReceiptHash)
	}
	if local.Bloom != sealed.Bloom {
		return ErrBadBloom
	}
	if local.Root != sealed.Root {
		return fmt.Errorf("%w (remote: %x local: %x)", ErrBadRoot, sealed.Root, local.Root)
	}
	return nil
}

// Call runs tx against the head state as if it were the only transaction of
// the next block, then discards every change.
func (c *Chain) Call(tx *HostTx) (*types.Receipt, *ExecutionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollback()

	header := newHeader(c.head, c.head.Coinbase, c.head.Time+1)
	executor := c.processor.Executor(header, c.state, c.hashes.Getter(header.Number.Uint64()))
	return executor.ExecuteTx(tx, 0, new(GasPool).AddGas(header.GasLimit), header, new(uint64))
}

// seal finalises block and commits it as the new head.
func (c *Chain) seal(block *Block, receipts types.Receipts, gasUsed uint64) error {
	staged, err := c.finalise(block, receipts, gasUsed)
	if err != nil {
		return err
	}
	return c.commit(block, receipts, staged)
}

// finalise stages the pending state of block and fills in the derived header
// fields. Nothing is persisted.
func (c *Chain) finalise(block *Block, receipts types.Receipts, gasUsed uint64) (*state.Staged, error) {
	header := block.Header
	overlays, err := c.state.FlushPending()
	if err != nil {
		c.rollback()
		return nil, fmt.Errorf("%w: %w", evmbridge.ErrStateBackend, err)
	}
	staged, err := c.trie.Stage(header.Number.Uint64(), overlays)
	if err != nil {
		c.rollback()
		return nil, err
	}
	header.Root = staged.Root
	header.GasUsed = gasUsed
	header.TxHash = types.DeriveSha(HostTxs(block.Txs), gethtrie.NewStackTrie(nil))
	header.ReceiptHash = types.DeriveSha(receipts, gethtrie.NewStackTrie(nil))
	var bloom types.Bloom
	for _, r := range receipts {
		for i := range bloom {
			bloom[i] |= r.Bloom[i]
		}
	}
	header.Bloom = bloom
	return staged, nil
}

// commit persists the staged state of a finalised block and makes the block
// the new head.
func (c *Chain) commit(block *Block, receipts types.Receipts, staged *state.Staged) error {
	header := block.Header
	if err := c.trie.Commit(staged); err != nil {
		c.rollback()
		return err
	}
	hash := header.Hash()
	var logIndex uint
	for _, r := range receipts {
		r.BlockHash = hash
		for _, l := range r.Logs {
			l.BlockHash = hash
			l.Index = logIndex
			logIndex++
		}
	}
	if err := writeBlock(c.db, header); err != nil {
		return err
	}
	c.hashes.Add(header.Number.Uint64(), hash)
	c.head = header
	c.rollback()

	c.logger.Info("Sealed block", "number", header.Number, "hash", hash, "txs", len(block.Txs), "gas", header.GasUsed, "root", header.Root)
	return nil
}

// prefetch warms the committed-read caches with the accounts a block is
// known to touch before it runs: senders, callers, targets and the coinbase.
func (c *Chain) prefetch(coinbase common.Address, txs []*HostTx) {
	stateadapter.ResetProfileCounters()
	keys := []stateadapter.BatchKey{{Address: coinbase}}
	for _, tx := range txs {
		if sender, err := addrcodec.Convert(tx.Sender); err == nil {
			keys = append(keys, stateadapter.BatchKey{Address: sender})
		}
		for _, step := range tx.Program {
			if caller, err := addrcodec.Convert(step.Caller); err == nil {
				keys = append(keys, stateadapter.BatchKey{Address: caller})
			}
			if step.Target != (common.Address{}) {
				keys = append(keys, stateadapter.BatchKey{Address: step.Target})
			}
		}
	}
	c.state.Prefetch(keys)
	accounts, _ := stateadapter.ProfileCounters()
	c.logger.Debug("Prefetched block accounts", "keys", len(keys), "loaded", accounts)
}

// rollback drops all uncommitted state and rebinds the adapter to the
// committed root.
func (c *Chain) rollback() {
	c.state.RevertTo(0)
	if err := c.state.DropPending(); err != nil {
		c.logger.Error("Pending state not dropped", "err", err)
	}
	reader, err := c.trie.Reader()
	if err != nil {
		c.logger.Error("Committed state unreadable", "root", c.trie.Root(), "err", err)
		return
	}
	if err := c.state.Reset(reader); err != nil {
		c.logger.Error("State adapter reset failed", "err", err)
	}
}
