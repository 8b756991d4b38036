package core

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/moved-network/hostevm/storage"
)

// BlockHashWindow is the number of ancestors BLOCKHASH can see.
const BlockHashWindow = 256

// BlockHashes answers BLOCKHASH lookups for the most recent blocks. Hashes
// are cached and read from the database on a miss.
type BlockHashes struct {
	db    storage.KeyValueReader
	cache *lru.Cache
}

// NewBlockHashes creates a lookup over the block hashes stored in db.
func NewBlockHashes(db storage.KeyValueReader) *BlockHashes {
	cache, _ := lru.New(BlockHashWindow + 1)
	return &BlockHashes{db: db, cache: cache}
}

// Add records the hash of a sealed block.
func (b *BlockHashes) Add(number uint64, hash common.Hash) {
	b.cache.Add(number, hash)
}

// Get returns the hash of block number as seen from block current. Numbers
// outside [current-256, current) yield the zero hash.
func (b *BlockHashes) Get(current, number uint64) common.Hash {
	if number >= current || current-number > BlockHashWindow {
		return common.Hash{}
	}
	if v, ok := b.cache.Get(number); ok {
		return v.(common.Hash)
	}
	hash := ReadBlockHash(b.db, number)
	if hash != (common.Hash{}) {
		b.cache.Add(number, hash)
	}
	return hash
}

// Getter binds Get to the block being executed.
func (b *BlockHashes) Getter(current uint64) func(uint64) common.Hash {
	return func(number uint64) common.Hash { return b.Get(current, number) }
}
