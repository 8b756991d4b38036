package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountOverlay is the net change of one account over a finalized block, as
// produced by the state adapter and consumed by StateTrie.Apply.
type AccountOverlay struct {
	Address common.Address

	// Deleted removes the account together with its storage.
	Deleted bool
	// ResetStorage drops any previously committed storage before Storage is
	// applied. Set when an account is re-created within the block.
	ResetStorage bool

	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte // set only when the code changed in this block

	// Storage holds the final value of every slot written in the block. A zero
	// value deletes the slot.
	Storage map[common.Hash]common.Hash
}

// Empty reports whether the overlay leaves the account empty in the sense of
// EIP-161: no nonce, no balance, no code.
func (o *AccountOverlay) Empty() bool {
	return o.Nonce == 0 && (o.Balance == nil || o.Balance.IsZero()) &&
		(o.CodeHash == (common.Hash{}) || o.CodeHash == types.EmptyCodeHash)
}

// SortOverlays orders overlays by address, the order in which they are applied.
func SortOverlays(overlays []AccountOverlay) {
	sort.Slice(overlays, func(i, j int) bool {
		return bytes.Compare(overlays[i].Address[:], overlays[j].Address[:]) < 0
	})
}

// sortedSlots returns the storage keys in ascending order.
func sortedSlots(storage map[common.Hash]common.Hash) []common.Hash {
	keys := make([]common.Hash, 0, len(storage))
	for k := range storage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}
