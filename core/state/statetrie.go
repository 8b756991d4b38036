// Package state holds the committed state commitment: one account trie keyed
// by keccak(address) and one storage trie per account keyed by keccak(slot).
package state

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/trie"
	"golang.org/x/sync/errgroup"
)

var (
	applyTimer        = metrics.NewRegisteredTimer("state/apply/time", nil)
	applyAccountMeter = metrics.NewRegisteredMeter("state/apply/accounts", nil)
	applySlotMeter    = metrics.NewRegisteredMeter("state/apply/slots", nil)
	deletedMeter      = metrics.NewRegisteredMeter("state/apply/deleted", nil)
)

var (
	// ErrDuplicateOverlay is returned when a block carries two overlays for
	// the same account.
	ErrDuplicateOverlay = errors.New("duplicate account overlay")
	// ErrHeightMismatch is returned when blocks are not applied in sequence.
	ErrHeightMismatch = errors.New("non-sequential block height")
	// ErrUnknownHeight is returned for heights without a recorded root.
	ErrUnknownHeight = errors.New("no state root for height")
	// ErrStaleStage is returned when a staged state is committed after the
	// committed root moved.
	ErrStaleStage = errors.New("staged state is stale")
)

// StateTrie is the long-lived state commitment. It is created at genesis,
// mutated only through Apply at block boundaries and read through immutable
// Readers pinned to a committed root.
type StateTrie struct {
	db   *trie.Database
	disk storage.KeyValueStore

	lock    sync.RWMutex
	root    common.Hash
	height  uint64
	genesis bool // whether any block was applied

	proofRange *AddressRange
	logger     log.Logger
}

// AddressRange is an inclusive range of addresses that proofs are served for.
type AddressRange struct {
	Lowest  common.Address
	Highest common.Address
}

// Contains reports whether addr lies within the range.
func (r *AddressRange) Contains(addr common.Address) bool {
	return addr.Cmp(r.Lowest) >= 0 && addr.Cmp(r.Highest) <= 0
}

// L2PredeployRange covers the system contracts of the rollup.
var L2PredeployRange = AddressRange{
	Lowest:  common.HexToAddress("0x4200000000000000000000000000000000000000"),
	Highest: common.HexToAddress("0x42000000000000000000000000000000000000ff"),
}

// New opens the state commitment stored in disk. If a head block was recorded
// the trie resumes from it; otherwise it is empty until the genesis block is
// applied.
func New(disk storage.KeyValueStore, config *trie.Config) (*StateTrie, error) {
	s := &StateTrie{
		db:     trie.NewDatabase(disk, config),
		disk:   disk,
		root:   types.EmptyRootHash,
		logger: log.New("component", "statetrie"),
	}
	if head, ok := storage.ReadHead(disk); ok {
		root, err := s.RootAt(head)
		if err != nil {
			return nil, err
		}
		if _, err := NewReader(s.db, root); err != nil {
			return nil, fmt.Errorf("head state %x unreadable: %w", root, err)
		}
		s.root, s.height, s.genesis = root, head, true
		s.logger.Info("Loaded state trie", "height", head, "root", root)
	}
	return s, nil
}

// SetProofRange restricts Prove/ProveAt to the given addresses. A nil range
// allows every address.
func (s *StateTrie) SetProofRange(r *AddressRange) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.proofRange = r
}

// Root returns the current committed state root.
func (s *StateTrie) Root() common.Hash {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.root
}

// Height returns the height of the last applied block and whether one exists.
func (s *StateTrie) Height() (uint64, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.height, s.genesis
}

// Database exposes the node database, mostly for tests and tooling.
func (s *StateTrie) Database() *trie.Database { return s.db }

// Reader returns an immutable view of the current committed root.
func (s *StateTrie) Reader() (*Reader, error) {
	return NewReader(s.db, s.Root())
}

// ReaderAt returns an immutable view of the state after block height.
func (s *StateTrie) ReaderAt(height uint64) (*Reader, error) {
	root, err := s.RootAt(height)
	if err != nil {
		return nil, err
	}
	return NewReader(s.db, root)
}

// RootAt returns the state root recorded for height.
func (s *StateTrie) RootAt(height uint64) (common.Hash, error) {
	enc, err := s.disk.Get(storage.StateRootKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return common.Hash{}, fmt.Errorf("%w %d", ErrUnknownHeight, height)
		}
		return common.Hash{}, err
	}
	return common.BytesToHash(enc), nil
}

type accountUpdate struct {
	overlay *AccountOverlay
	prev    *types.StateAccount
	root    common.Hash
	nodes   *trie.NodeSet
	deleted bool
}

// Staged is the state of one block computed on top of a committed root but
// not yet persisted. It becomes the committed state through Commit.
type Staged struct {
	Root common.Hash

	height   uint64
	parent   common.Hash
	sets     []*trie.NodeSet
	code     map[common.Hash][]byte
	accounts int
	deleted  int
	start    time.Time
}

// Apply commits the account overlays of one finalized block on top of the
// current root and records the resulting root for height.
func (s *StateTrie) Apply(height uint64, overlays []AccountOverlay) (common.Hash, error) {
	staged, err := s.Stage(height, overlays)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.Commit(staged); err != nil {
		return common.Hash{}, err
	}
	return staged.Root, nil
}

// Stage computes the root the account overlays of one finalized block produce
// on top of the current root, without writing anything. Storage tries of
// different accounts are recomputed in parallel; the account trie is updated
// in address order. Any trie error returned here that matches
// trie.ErrTrieCorruption is fatal for the node.
func (s *StateTrie) Stage(height uint64, overlays []AccountOverlay) (*Staged, error) {
	start := time.Now()
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.genesis && height != s.height+1 {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrHeightMismatch, height, s.height+1)
	}
	SortOverlays(overlays)
	for i := 1; i < len(overlays); i++ {
		if overlays[i].Address == overlays[i-1].Address {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOverlay, overlays[i].Address)
		}
	}
	accounts, err := trie.New(common.Hash{}, s.root, s.db)
	if err != nil {
		return nil, asCorruption(err)
	}
	updates := make([]*accountUpdate, len(overlays))
	for i := range overlays {
		o := &overlays[i]
		enc, err := accounts.Get(crypto.Keccak256(o.Address.Bytes()))
		if err != nil {
			return nil, asCorruption(err)
		}
		u := &accountUpdate{overlay: o, root: types.EmptyRootHash}
		if len(enc) > 0 {
			if u.prev, err = decodeAccount(enc); err != nil {
				return nil, err
			}
			u.root = u.prev.Root
		}
		updates[i] = u
	}
	// Storage roots first, one trie per account.
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, u := range updates {
		u := u
		if u.overlay.Deleted || (len(u.overlay.Storage) == 0 && !u.overlay.ResetStorage) {
			continue
		}
		g.Go(func() error { return s.updateStorage(u) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Then the account trie, sequentially in address order.
	staged := &Staged{
		height:   height,
		parent:   s.root,
		sets:     make([]*trie.NodeSet, 0, len(updates)+1),
		code:     make(map[common.Hash][]byte),
		accounts: len(updates),
		start:    start,
	}
	for _, u := range updates {
		o := u.overlay
		key := crypto.Keccak256(o.Address.Bytes())
		if o.Deleted || (o.Empty() && u.root == types.EmptyRootHash) {
			u.deleted = true
			staged.deleted++
			if err := accounts.Delete(key); err != nil {
				return nil, asCorruption(err)
			}
			continue
		}
		acct := &types.StateAccount{
			Nonce:    o.Nonce,
			Balance:  o.Balance,
			Root:     u.root,
			CodeHash: o.CodeHash.Bytes(),
		}
		if acct.Balance == nil {
			acct.Balance = new(uint256.Int)
		}
		if o.CodeHash == (common.Hash{}) {
			acct.CodeHash = types.EmptyCodeHash.Bytes()
		}
		enc, err := rlp.EncodeToBytes(acct)
		if err != nil {
			return nil, err
		}
		if err := accounts.Update(key, enc); err != nil {
			return nil, asCorruption(err)
		}
		if len(o.Code) > 0 {
			staged.code[crypto.Keccak256Hash(o.Code)] = o.Code
		}
		staged.sets = append(staged.sets, u.nodes)
	}
	root, set := accounts.Commit()
	staged.Root = root
	staged.sets = append(staged.sets, set)
	return staged, nil
}

// Commit persists a staged block state and makes its root current. The
// committed root must not have moved since the state was staged.
func (s *StateTrie) Commit(staged *Staged) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if staged.parent != s.root || (s.genesis && staged.height != s.height+1) {
		return fmt.Errorf("%w: staged on %x at height %d, current %x at %d", ErrStaleStage, staged.parent, staged.height, s.root, s.height)
	}
	if err := s.db.Update(staged.sets...); err != nil {
		return err
	}
	batch := s.disk.NewBatch()
	for hash, code := range staged.code {
		if err := batch.Put(storage.CodeKey(hash), code); err != nil {
			return err
		}
	}
	if err := batch.Put(storage.StateRootKey(staged.height), staged.Root.Bytes()); err != nil {
		return err
	}
	if err := storage.WriteHead(batch, staged.height); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	// The new root must resolve before it becomes visible to readers.
	if _, err := trie.New(common.Hash{}, staged.Root, s.db); err != nil {
		return asCorruption(err)
	}
	s.root, s.height, s.genesis = staged.Root, staged.height, true

	applyTimer.UpdateSince(staged.start)
	applyAccountMeter.Mark(int64(staged.accounts))
	deletedMeter.Mark(int64(staged.deleted))
	s.logger.Debug("Applied block state", "height", staged.height, "accounts", staged.accounts, "deleted", staged.deleted, "root", staged.Root, "elapsed", common.PrettyDuration(time.Since(staged.start)))
	return nil
}

func (s *StateTrie) updateStorage(u *accountUpdate) error {
	o := u.overlay
	root := u.root
	if o.ResetStorage {
		root = types.EmptyRootHash
	}
	tr, err := trie.New(crypto.Keccak256Hash(o.Address.Bytes()), root, s.db)
	if err != nil {
		return asCorruption(err)
	}
	for _, slot := range sortedSlots(o.Storage) {
		key := crypto.Keccak256(slot.Bytes())
		if err := tr.Update(key, encodeSlot(o.Storage[slot])); err != nil {
			return asCorruption(err)
		}
	}
	applySlotMeter.Mark(int64(len(o.Storage)))
	u.root, u.nodes = tr.Commit()
	return nil
}
