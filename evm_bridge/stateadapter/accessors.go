package stateadapter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/tracing"
)

// Adapter is driven directly by the guest interpreter.
var _ gethvm.StateDB = (*Adapter)(nil)

func (a *Adapter) top() *overlay {
	if a.depth == 0 {
		panic("stateadapter: write outside of a frame")
	}
	return a.arena[a.depth-1]
}

// lookup returns the current view of addr. The result must not be mutated.
func (a *Adapter) lookup(addr common.Address) *account {
	for i := a.depth - 1; i >= 0; i-- {
		if acc, ok := a.arena[i].accounts[addr]; ok {
			return acc
		}
	}
	if acc, ok := a.pending.accounts[addr]; ok {
		return acc
	}
	return a.committed(addr)
}

// mutable returns a copy of addr owned by the innermost frame.
func (a *Adapter) mutable(addr common.Address) *account {
	top := a.top()
	if acc, ok := top.accounts[addr]; ok {
		return acc
	}
	acc := a.lookup(addr).copy()
	top.accounts[addr] = acc
	return acc
}

// Exist reports whether addr exists. Destructed accounts exist until the end
// of the transaction.
func (a *Adapter) Exist(addr common.Address) bool {
	return a.lookup(addr).exists
}

// Empty reports whether addr is missing or empty according to EIP-161.
func (a *Adapter) Empty(addr common.Address) bool {
	acc := a.lookup(addr)
	return !acc.exists || acc.empty()
}

// CreateAccount makes addr exist with zero nonce and balance if it does not
// exist yet.
func (a *Adapter) CreateAccount(addr common.Address) {
	if a.Exist(addr) {
		return
	}
	acc := a.mutable(addr)
	acc.exists = true
}

// CreateContract prepares addr for contract deployment: any previous storage
// is dropped and the account is marked as created in this transaction. The
// balance is kept.
func (a *Adapter) CreateContract(addr common.Address) {
	acc := a.mutable(addr)
	acc.exists = true
	acc.nonce = 0
	acc.codeHash = types.EmptyCodeHash
	acc.code = nil
	acc.codeDirty = false
	acc.root = types.EmptyRootHash

	top := a.top()
	delete(top.storage, addr)
	top.cleared.Add(addr)
	top.created.Add(addr)
}

// CreatedInTx reports whether addr was created by the running transaction.
func (a *Adapter) CreatedInTx(addr common.Address) bool {
	for i := a.depth - 1; i >= 0; i-- {
		if a.arena[i].created.Contains(addr) {
			return true
		}
	}
	return false
}

// GetBalance returns a copy of the balance of addr.
func (a *Adapter) GetBalance(addr common.Address) *uint256.Int {
	return a.lookup(addr).balance.Clone()
}

// AddBalance credits amount to addr, creating it if needed, and returns the
// previous balance. A zero amount still touches the account.
func (a *Adapter) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	acc := a.mutable(addr)
	acc.exists = true
	prev := *acc.balance
	if amount.IsZero() {
		return prev
	}
	acc.balance = new(uint256.Int).Add(&prev, amount)
	a.balanceChanged(addr, &prev, acc.balance, reason)
	return prev
}

// SubBalance debits amount from addr and returns the previous balance.
// Callers check CanTransfer first.
func (a *Adapter) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	if amount.IsZero() {
		return *a.lookup(addr).balance
	}
	acc := a.mutable(addr)
	prev := *acc.balance
	acc.balance = new(uint256.Int).Sub(&prev, amount)
	a.balanceChanged(addr, &prev, acc.balance, reason)
	return prev
}

func (a *Adapter) balanceChanged(addr common.Address, prev, cur *uint256.Int, reason tracing.BalanceChangeReason) {
	if a.hooks != nil && a.hooks.OnBalanceChange != nil {
		a.hooks.OnBalanceChange(addr, prev.Clone(), cur.Clone(), reason)
	}
}

// CanTransfer reports whether addr holds at least amount.
func (a *Adapter) CanTransfer(addr common.Address, amount *uint256.Int) bool {
	return a.lookup(addr).balance.Cmp(amount) >= 0
}

// Transfer moves amount from sender to recipient, failing without change if
// the sender cannot cover it.
func (a *Adapter) Transfer(sender, recipient common.Address, amount *uint256.Int) error {
	if !a.CanTransfer(sender, amount) {
		return gethvm.ErrInsufficientBalance
	}
	a.SubBalance(sender, amount, tracing.BalanceChangeTransfer)
	a.AddBalance(recipient, amount, tracing.BalanceChangeTransfer)
	return nil
}

// GetNonce returns the nonce of addr.
func (a *Adapter) GetNonce(addr common.Address) uint64 {
	return a.lookup(addr).nonce
}

// SetNonce sets the nonce of addr.
func (a *Adapter) SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason) {
	acc := a.mutable(addr)
	acc.exists = true
	prev := acc.nonce
	acc.nonce = nonce
	if a.hooks != nil && a.hooks.OnNonceChange != nil {
		a.hooks.OnNonceChange(addr, prev, nonce, reason)
	}
}

// GetCodeHash returns the code hash of addr, or the zero hash if it does not
// exist.
func (a *Adapter) GetCodeHash(addr common.Address) common.Hash {
	acc := a.lookup(addr)
	if !acc.exists {
		return common.Hash{}
	}
	return acc.codeHash
}

// GetCode returns the code of addr.
func (a *Adapter) GetCode(addr common.Address) []byte {
	acc := a.lookup(addr)
	if acc.code != nil || acc.codeDirty {
		return acc.code
	}
	return a.committedCode(acc.codeHash)
}

// GetCodeSize returns the length of the code of addr.
func (a *Adapter) GetCodeSize(addr common.Address) int {
	return len(a.GetCode(addr))
}

// SetCode installs code at addr and returns the code it replaces.
func (a *Adapter) SetCode(addr common.Address, code []byte) []byte {
	prev := a.GetCode(addr)
	acc := a.mutable(addr)
	acc.exists = true
	acc.code = code
	acc.codeDirty = true
	if len(code) == 0 {
		acc.codeHash = types.EmptyCodeHash
		return prev
	}
	acc.codeHash = crypto.Keccak256Hash(code)
	a.code.Add(acc.codeHash, code)
	return prev
}

// GetState returns the current value of a storage slot.
func (a *Adapter) GetState(addr common.Address, key common.Hash) common.Hash {
	for i := a.depth - 1; i >= 0; i-- {
		f := a.arena[i]
		if slots, ok := f.storage[addr]; ok {
			if v, ok := slots[key]; ok {
				return v
			}
		}
		if f.cleared.Contains(addr) {
			return common.Hash{}
		}
	}
	return a.pendingState(addr, key)
}

// GetCommittedState returns the value a slot had when the running
// transaction started.
func (a *Adapter) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	for i := a.depth - 1; i >= 0; i-- {
		if a.arena[i].cleared.Contains(addr) {
			return common.Hash{}
		}
	}
	return a.pendingState(addr, key)
}

func (a *Adapter) pendingState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := a.pending.storage[addr]; ok {
		if v, ok := slots[key]; ok {
			return v
		}
	}
	if a.pending.reset.Contains(addr) {
		return common.Hash{}
	}
	return a.committedState(addr, key)
}

// SetState writes a storage slot in the innermost frame and returns the value
// it replaces.
func (a *Adapter) SetState(addr common.Address, key, value common.Hash) common.Hash {
	prev := a.GetState(addr, key)
	setSlot(a.top().storage, addr, key, value)
	return prev
}

// GetStorageRoot returns the committed storage root of addr, the empty root
// once its storage was wiped, or the zero hash if addr does not exist.
func (a *Adapter) GetStorageRoot(addr common.Address) common.Hash {
	acc := a.lookup(addr)
	if !acc.exists {
		return common.Hash{}
	}
	return acc.root
}

// GetTransientState reads EIP-1153 transient storage.
func (a *Adapter) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	for i := a.depth - 1; i >= 0; i-- {
		if slots, ok := a.arena[i].transient[addr]; ok {
			if v, ok := slots[key]; ok {
				return v
			}
		}
	}
	return common.Hash{}
}

// SetTransientState writes EIP-1153 transient storage.
func (a *Adapter) SetTransientState(addr common.Address, key, value common.Hash) {
	setSlot(a.top().transient, addr, key, value)
}

// SelfDestruct zeroes the balance of addr and schedules its removal at the
// end of the transaction. It returns the balance held before.
func (a *Adapter) SelfDestruct(addr common.Address) uint256.Int {
	acc := a.mutable(addr)
	prev := *acc.balance
	if !prev.IsZero() {
		acc.balance = new(uint256.Int)
		a.balanceChanged(addr, &prev, acc.balance, tracing.BalanceChangeSelfDestruct)
	}
	a.top().destructed.Add(addr)
	return prev
}

// SelfDestruct6780 destructs addr only if it was created by the running
// transaction, following EIP-6780.
func (a *Adapter) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	if !a.Exist(addr) {
		return uint256.Int{}, false
	}
	if a.CreatedInTx(addr) {
		return a.SelfDestruct(addr), true
	}
	return *a.lookup(addr).balance, false
}

// HasSelfDestructed reports whether addr was destructed in the running
// transaction.
func (a *Adapter) HasSelfDestructed(addr common.Address) bool {
	for i := a.depth - 1; i >= 0; i-- {
		if a.arena[i].destructed.Contains(addr) {
			return true
		}
	}
	return false
}

// AddRefund adds gas to the refund counter of the innermost frame.
func (a *Adapter) AddRefund(gas uint64) {
	a.top().refund += int64(gas)
}

// SubRefund removes gas from the refund counter. The counter never goes
// below zero.
func (a *Adapter) SubRefund(gas uint64) {
	if gas > a.GetRefund() {
		a.logger.Warn("Refund counter below zero", "gas", gas, "refund", a.GetRefund())
	}
	a.top().refund -= int64(gas)
}

// GetRefund returns the refund counter accumulated by the open frames.
func (a *Adapter) GetRefund() uint64 {
	var total int64
	for i := 0; i < a.depth; i++ {
		total += a.arena[i].refund
	}
	if total < 0 {
		return 0
	}
	return uint64(total)
}

// AddressInAccessList reports whether addr is warm.
func (a *Adapter) AddressInAccessList(addr common.Address) bool {
	for i := a.depth - 1; i >= 0; i-- {
		if a.arena[i].warmAddrs.Contains(addr) {
			return true
		}
	}
	return false
}

// SlotInAccessList reports whether the address and the slot are warm.
func (a *Adapter) SlotInAccessList(addr common.Address, key common.Hash) (addressOk, slotOk bool) {
	addressOk = a.AddressInAccessList(addr)
	for i := a.depth - 1; i >= 0; i-- {
		if slots, ok := a.arena[i].warmSlots[addr]; ok && slots.Contains(key) {
			return addressOk, true
		}
	}
	return addressOk, false
}

// AddAddressToAccessList warms addr in the innermost frame.
func (a *Adapter) AddAddressToAccessList(addr common.Address) {
	a.top().warmAddrs.Add(addr)
}

// AddSlotToAccessList warms addr and key in the innermost frame.
func (a *Adapter) AddSlotToAccessList(addr common.Address, key common.Hash) {
	top := a.top()
	top.warmAddrs.Add(addr)
	slots, ok := top.warmSlots[addr]
	if !ok {
		slots = newHashSet()
		top.warmSlots[addr] = slots
	}
	slots.Add(key)
}

// AddLog records a log in the innermost frame.
func (a *Adapter) AddLog(l *types.Log) {
	top := a.top()
	top.logs = append(top.logs, l)
	if a.hooks != nil && a.hooks.OnLog != nil {
		a.hooks.OnLog(l)
	}
}

// TakeLogs removes and returns the logs buffered by the innermost frame, so
// that they are not merged into the parent on commit.
func (a *Adapter) TakeLogs() []*types.Log {
	top := a.top()
	logs := top.logs
	top.logs = nil
	return logs
}

// Logs returns the logs currently buffered across all open frames, outermost
// first.
func (a *Adapter) Logs() []*types.Log {
	var logs []*types.Log
	for i := 0; i < a.depth; i++ {
		logs = append(logs, a.arena[i].logs...)
	}
	return logs
}
