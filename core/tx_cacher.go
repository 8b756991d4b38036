package core

import (
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// hashCacher is the shared hash cacher of the process.
var hashCacher = newTxHashCacher(runtime.NumCPU())

// txHashCacher computes transaction hashes on a bounded goroutine pool so
// that receipts and logs of a block can be filled in without hashing on the
// execution path.
type txHashCacher struct {
	pool *ants.Pool
}

func newTxHashCacher(threads int) *txHashCacher {
	pool, err := ants.NewPool(threads)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &txHashCacher{pool: pool}
}

// cache fills the hash caches of txs and waits until all are done. Tasks the
// pool rejects are hashed on the calling goroutine.
func (c *txHashCacher) cache(txs []*HostTx) {
	var wg sync.WaitGroup
	for _, tx := range txs {
		tx := tx
		wg.Add(1)
		if err := c.pool.Submit(func() {
			defer wg.Done()
			tx.Hash()
		}); err != nil {
			tx.Hash()
			wg.Done()
		}
	}
	wg.Wait()
}
