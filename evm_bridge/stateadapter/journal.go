package stateadapter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
)

// Snapshot opens a frame and returns an identifier that reverts to the state
// before it. Frames the interpreter finishes successfully are merged by the
// caller with Commit.
func (a *Adapter) Snapshot() int {
	return a.Push()
}

// RevertToSnapshot discards the frame identified by id and every frame opened
// after it.
func (a *Adapter) RevertToSnapshot(id int) {
	a.RevertTo(id)
}

// Prepare warms the addresses and slots a guest call starts with. Unlike a
// transaction-scoped state database it does not clear earlier warmth or
// transient storage: both belong to the host transaction, which may run many
// guest calls, and are dropped by FinalizeTx.
func (a *Adapter) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, list types.AccessList) {
	if !rules.IsEIP2929 {
		return
	}
	a.AddAddressToAccessList(sender)
	if dest != nil {
		a.AddAddressToAccessList(*dest)
	}
	for _, addr := range precompiles {
		a.AddAddressToAccessList(addr)
	}
	for _, el := range list {
		a.AddAddressToAccessList(el.Address)
		for _, key := range el.StorageKeys {
			a.AddSlotToAccessList(el.Address, key)
		}
	}
	if rules.IsShanghai {
		a.AddAddressToAccessList(coinbase)
	}
}

// PointCache returns the verkle point cache. Verkle rules are never active
// for guest execution, so the cache stays small.
func (a *Adapter) PointCache() *utils.PointCache {
	if a.points == nil {
		a.points = utils.NewPointCache(16)
	}
	return a.points
}

// Witness returns nil: the adapter does not collect stateless witnesses.
func (a *Adapter) Witness() *stateless.Witness { return nil }

// AccessEvents returns nil: EIP-4762 access events are not tracked.
func (a *Adapter) AccessEvents() *state.AccessEvents { return nil }

// AddPreimage is a no-op, preimages are not recorded.
func (a *Adapter) AddPreimage(common.Hash, []byte) {}

// Finalise is a no-op. Transactions end with FinalizeTx.
func (a *Adapter) Finalise(bool) {}
