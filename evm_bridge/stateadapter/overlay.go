package stateadapter

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// account is the guest view of one account. Values held by the committed
// cache are shared and must not be mutated; frames copy before writing.
type account struct {
	exists    bool
	nonce     uint64
	balance   *uint256.Int
	codeHash  common.Hash
	code      []byte // nil until loaded, unless codeDirty
	codeDirty bool
	root      common.Hash // committed storage root, empty once wiped
}

func newAccount() *account {
	return &account{balance: new(uint256.Int), codeHash: types.EmptyCodeHash, root: types.EmptyRootHash}
}

func fromStateAccount(acct *types.StateAccount) *account {
	if acct == nil {
		return newAccount()
	}
	a := &account{
		exists:   true,
		nonce:    acct.Nonce,
		balance:  new(uint256.Int),
		codeHash: common.BytesToHash(acct.CodeHash),
		root:     acct.Root,
	}
	if acct.Balance != nil {
		a.balance.Set(acct.Balance)
	}
	if a.codeHash == (common.Hash{}) {
		a.codeHash = types.EmptyCodeHash
	}
	if a.root == (common.Hash{}) {
		a.root = types.EmptyRootHash
	}
	return a
}

func (a *account) copy() *account {
	c := *a
	c.balance = new(uint256.Int).Set(a.balance)
	return &c
}

// empty reports EIP-161 emptiness.
func (a *account) empty() bool {
	return a.nonce == 0 && a.balance.IsZero() && a.codeHash == types.EmptyCodeHash
}

// overlay buffers the writes of one call frame. Overlays live in the adapter's
// arena and are reset, not freed, when their frame ends.
type overlay struct {
	accounts map[common.Address]*account
	storage  map[common.Address]map[common.Hash]common.Hash

	cleared    mapset.Set[common.Address] // storage wiped in this frame, reads stop here
	created    mapset.Set[common.Address]
	destructed mapset.Set[common.Address]

	transient map[common.Address]map[common.Hash]common.Hash
	warmAddrs mapset.Set[common.Address]
	warmSlots map[common.Address]mapset.Set[common.Hash]

	refund int64 // net change of the refund counter
	logs   []*types.Log
}

func newOverlay() *overlay {
	return &overlay{
		accounts:   make(map[common.Address]*account),
		storage:    make(map[common.Address]map[common.Hash]common.Hash),
		cleared:    mapset.NewThreadUnsafeSet[common.Address](),
		created:    mapset.NewThreadUnsafeSet[common.Address](),
		destructed: mapset.NewThreadUnsafeSet[common.Address](),
		transient:  make(map[common.Address]map[common.Hash]common.Hash),
		warmAddrs:  mapset.NewThreadUnsafeSet[common.Address](),
		warmSlots:  make(map[common.Address]mapset.Set[common.Hash]),
	}
}

func (o *overlay) reset() {
	clear(o.accounts)
	clear(o.storage)
	o.cleared.Clear()
	o.created.Clear()
	o.destructed.Clear()
	clear(o.transient)
	o.warmAddrs.Clear()
	clear(o.warmSlots)
	o.refund = 0
	o.logs = nil
}

func setSlot(m map[common.Address]map[common.Hash]common.Hash, addr common.Address, key, value common.Hash) {
	slots, ok := m[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		m[addr] = slots
	}
	slots[key] = value
}

// absorb merges a successfully finished child frame into o.
func (o *overlay) absorb(child *overlay) {
	for addr, acc := range child.accounts {
		o.accounts[addr] = acc
	}
	for _, addr := range child.cleared.ToSlice() {
		delete(o.storage, addr)
		o.cleared.Add(addr)
	}
	for addr, slots := range child.storage {
		for k, v := range slots {
			setSlot(o.storage, addr, k, v)
		}
	}
	o.created = o.created.Union(child.created)
	o.destructed = o.destructed.Union(child.destructed)

	for addr, slots := range child.transient {
		for k, v := range slots {
			setSlot(o.transient, addr, k, v)
		}
	}
	o.warmAddrs = o.warmAddrs.Union(child.warmAddrs)
	for addr, slots := range child.warmSlots {
		if mine, ok := o.warmSlots[addr]; ok {
			o.warmSlots[addr] = mine.Union(slots)
		} else {
			o.warmSlots[addr] = slots.Clone()
		}
	}
	o.refund += child.refund
	o.logs = append(o.logs, child.logs...)
}

// pendingOverlay is the net effect of the finalized transactions of the block
// being built.
type pendingOverlay struct {
	accounts map[common.Address]*account
	storage  map[common.Address]map[common.Hash]common.Hash
	reset    mapset.Set[common.Address]
}

func newPendingOverlay() *pendingOverlay {
	return &pendingOverlay{
		accounts: make(map[common.Address]*account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		reset:    mapset.NewThreadUnsafeSet[common.Address](),
	}
}

func (p *pendingOverlay) empty() bool {
	return len(p.accounts) == 0 && len(p.storage) == 0 && p.reset.Cardinality() == 0
}

func (p *pendingOverlay) wipe() {
	clear(p.accounts)
	clear(p.storage)
	p.reset.Clear()
}

func newHashSet() mapset.Set[common.Hash] {
	return mapset.NewThreadUnsafeSet[common.Hash]()
}
