package stateadapter

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

var accountMisses, storageMisses atomic.Int64

// ResetProfileCounters zeros the committed-read miss counters.
func ResetProfileCounters() {
	accountMisses.Store(0)
	storageMisses.Store(0)
}

// ProfileCounters returns (accountMisses, storageMisses) since last reset.
func ProfileCounters() (int64, int64) {
	return accountMisses.Load(), storageMisses.Load()
}

// BatchKey identifies an account and optionally one of its storage slots to
// be warmed in the committed-read cache. A zero Slot primes the account only.
type BatchKey struct {
	Address common.Address
	Slot    common.Hash
}

// Prefetch loads the given keys from the committed state into the read
// caches. Unknown accounts and slots are cached as absent. It does not touch
// frames or the access list.
func (a *Adapter) Prefetch(keys []BatchKey) {
	for _, k := range keys {
		acc := a.committed(k.Address)
		if k.Slot != (common.Hash{}) && acc.exists {
			a.committedState(k.Address, k.Slot)
		}
	}
}
