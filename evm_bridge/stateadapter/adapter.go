// Package stateadapter presents committed state plus the writes of the
// running block as a guest account/storage view, with one buffered overlay
// per call frame.
//
// Reads go through the open frames from the innermost outwards, then the
// pending overlay of already finalized transactions of the block, then the
// committed state. Writes always land in the innermost frame. Commit merges a
// frame into its parent, Discard drops it together with any account created
// inside it.
package stateadapter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie/utils"
	lru "github.com/hashicorp/golang-lru"
	"github.com/moved-network/hostevm/core/state"
	"github.com/moved-network/hostevm/tracing"
)

var (
	// ErrNoFrame is returned when a frame operation needs more open frames.
	ErrNoFrame = errors.New("no open frame")
	// ErrFramesOpen is returned when a transaction is finalized with nested
	// frames still open.
	ErrFramesOpen = errors.New("nested frames still open")
	// ErrPendingNotFlushed is returned when the adapter is rebound while the
	// block still holds unflushed writes.
	ErrPendingNotFlushed = errors.New("pending block writes not flushed")
)

// Backend is the committed state the adapter reads through to. It is
// implemented by state.Reader.
type Backend interface {
	Account(addr common.Address) (*types.StateAccount, error)
	Storage(addr common.Address, key common.Hash) (common.Hash, error)
	Code(codeHash common.Hash) ([]byte, error)
}

// Config sizes the committed-read caches.
type Config struct {
	AccountCache int
	StorageCache int
	CodeCache    int
}

// DefaultConfig contains the default cache sizes, in entries.
var DefaultConfig = Config{
	AccountCache: 4096,
	StorageCache: 16384,
	CodeCache:    512,
}

type slotKey struct {
	addr common.Address
	key  common.Hash
}

// Adapter is the state view of one block under construction. It is not safe
// for concurrent use: transactions and frames execute sequentially.
type Adapter struct {
	backend Backend
	hooks   *tracing.Hooks

	accounts *lru.Cache // common.Address -> *account (read-only)
	slots    *lru.Cache // slotKey -> common.Hash
	code     *lru.Cache // common.Hash -> []byte

	pending *pendingOverlay
	arena   []*overlay
	depth   int
	points  *utils.PointCache

	// dbErr is the first backend error hit while executing. Reads that fail
	// return zero values; the error surfaces at the next frame boundary.
	dbErr error

	logger log.Logger
}

// New creates an adapter over backend. A nil config selects DefaultConfig.
func New(backend Backend, config *Config) (*Adapter, error) {
	if config == nil {
		config = &DefaultConfig
	}
	accounts, err := lru.New(config.AccountCache)
	if err != nil {
		return nil, fmt.Errorf("account cache: %w", err)
	}
	slots, err := lru.New(config.StorageCache)
	if err != nil {
		return nil, fmt.Errorf("storage cache: %w", err)
	}
	code, err := lru.New(config.CodeCache)
	if err != nil {
		return nil, fmt.Errorf("code cache: %w", err)
	}
	return &Adapter{
		backend:  backend,
		accounts: accounts,
		slots:    slots,
		code:     code,
		pending:  newPendingOverlay(),
		logger:   log.New("component", "stateadapter"),
	}, nil
}

// SetHooks installs change observers. nil removes them.
func (a *Adapter) SetHooks(hooks *tracing.Hooks) { a.hooks = hooks }

// Reset rebinds the adapter to a new committed state, typically the root
// produced by the previous block. Buffered writes must have been flushed.
func (a *Adapter) Reset(backend Backend) error {
	if a.depth != 0 {
		return ErrFramesOpen
	}
	if !a.pending.empty() {
		return ErrPendingNotFlushed
	}
	a.backend = backend
	a.accounts.Purge()
	a.slots.Purge()
	a.dbErr = nil
	return nil
}

func (a *Adapter) setError(err error) {
	if a.dbErr == nil {
		a.logger.Error("State backend failure", "err", err)
		a.dbErr = err
	}
}

// Error returns the memoised backend error, if any.
func (a *Adapter) Error() error { return a.dbErr }

// Depth returns the number of open frames.
func (a *Adapter) Depth() int { return a.depth }

// BeginTx opens the base frame of a transaction.
func (a *Adapter) BeginTx() error {
	if a.depth != 0 {
		return ErrFramesOpen
	}
	a.Push()
	return nil
}

// Push opens a new innermost frame and returns its index.
func (a *Adapter) Push() int {
	if a.depth == len(a.arena) {
		a.arena = append(a.arena, newOverlay())
	}
	a.depth++
	return a.depth - 1
}

// Commit merges the innermost frame into its parent.
func (a *Adapter) Commit() error {
	if a.depth < 2 {
		return fmt.Errorf("%w: commit needs a parent frame", ErrNoFrame)
	}
	child := a.arena[a.depth-1]
	a.arena[a.depth-2].absorb(child)
	child.reset()
	a.depth--
	return nil
}

// Discard drops the innermost frame and everything it buffered.
func (a *Adapter) Discard() error {
	if a.depth < 1 {
		return ErrNoFrame
	}
	a.arena[a.depth-1].reset()
	a.depth--
	return nil
}

// RevertTo discards frames until only depth frames remain.
func (a *Adapter) RevertTo(depth int) {
	for a.depth > depth {
		a.Discard()
	}
}

// FinalizeTx closes the base frame and folds it into the pending block
// overlay. Accounts destructed in the transaction are removed with their
// storage. It returns the logs of the transaction. A memoised backend error
// is returned instead if one occurred, and the transaction's writes are
// dropped.
func (a *Adapter) FinalizeTx() ([]*types.Log, error) {
	if a.depth != 1 {
		return nil, fmt.Errorf("%w: depth %d", ErrFramesOpen, a.depth)
	}
	base := a.arena[0]
	defer func() {
		base.reset()
		a.depth = 0
	}()
	if a.dbErr != nil {
		return nil, a.dbErr
	}
	for _, addr := range base.destructed.ToSlice() {
		base.accounts[addr] = newAccount()
		base.cleared.Add(addr)
		delete(base.storage, addr)
	}
	// EIP-161: touched accounts left empty are removed.
	for addr, acc := range base.accounts {
		if acc.exists && acc.empty() {
			base.accounts[addr] = newAccount()
			base.cleared.Add(addr)
			delete(base.storage, addr)
		}
	}
	p := a.pending
	for _, addr := range base.cleared.ToSlice() {
		p.reset.Add(addr)
		delete(p.storage, addr)
	}
	for addr, acc := range base.accounts {
		p.accounts[addr] = acc
	}
	for addr, slots := range base.storage {
		for k, v := range slots {
			setSlot(p.storage, addr, k, v)
		}
	}
	return base.logs, nil
}

// FlushPending returns the net account overlays of every transaction
// finalized since the last flush, sorted by address, and clears them.
func (a *Adapter) FlushPending() ([]state.AccountOverlay, error) {
	if a.depth != 0 {
		return nil, ErrFramesOpen
	}
	p := a.pending
	touched := make(map[common.Address]struct{}, len(p.accounts))
	for addr := range p.accounts {
		touched[addr] = struct{}{}
	}
	for addr := range p.storage {
		touched[addr] = struct{}{}
	}
	for _, addr := range p.reset.ToSlice() {
		touched[addr] = struct{}{}
	}
	overlays := make([]state.AccountOverlay, 0, len(touched))
	for addr := range touched {
		acc, ok := p.accounts[addr]
		if !ok {
			acc = a.committed(addr)
		}
		o := state.AccountOverlay{
			Address:      addr,
			Deleted:      !acc.exists,
			ResetStorage: p.reset.Contains(addr),
			Nonce:        acc.nonce,
			Balance:      acc.balance.Clone(),
			CodeHash:     acc.codeHash,
		}
		if acc.codeDirty {
			o.Code = acc.code
		}
		if slots := p.storage[addr]; len(slots) > 0 {
			o.Storage = make(map[common.Hash]common.Hash, len(slots))
			for k, v := range slots {
				o.Storage[k] = v
			}
		}
		overlays = append(overlays, o)
	}
	if a.dbErr != nil {
		return nil, a.dbErr
	}
	state.SortOverlays(overlays)
	p.wipe()
	return overlays, nil
}

// DropPending discards the writes of every transaction finalized since the
// last flush, together with a memoised backend error.
func (a *Adapter) DropPending() error {
	if a.depth != 0 {
		return ErrFramesOpen
	}
	a.pending.wipe()
	a.dbErr = nil
	return nil
}

// committed returns the committed account, never nil.
func (a *Adapter) committed(addr common.Address) *account {
	if v, ok := a.accounts.Get(addr); ok {
		return v.(*account)
	}
	accountMisses.Add(1)
	acct, err := a.backend.Account(addr)
	if err != nil {
		a.setError(err)
		return newAccount()
	}
	acc := fromStateAccount(acct)
	a.accounts.Add(addr, acc)
	return acc
}

func (a *Adapter) committedState(addr common.Address, key common.Hash) common.Hash {
	sk := slotKey{addr, key}
	if v, ok := a.slots.Get(sk); ok {
		return v.(common.Hash)
	}
	storageMisses.Add(1)
	value, err := a.backend.Storage(addr, key)
	if err != nil {
		a.setError(err)
		return common.Hash{}
	}
	a.slots.Add(sk, value)
	return value
}

func (a *Adapter) committedCode(codeHash common.Hash) []byte {
	if codeHash == types.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil
	}
	if v, ok := a.code.Get(codeHash); ok {
		return v.([]byte)
	}
	code, err := a.backend.Code(codeHash)
	if err != nil {
		a.setError(err)
		return nil
	}
	a.code.Add(codeHash, code)
	return code
}
