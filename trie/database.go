package trie

import (
	"errors"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/moved-network/hostevm/storage"
)

var (
	cleanHitMeter  = metrics.NewRegisteredMeter("trie/cleancache/hit", nil)
	cleanMissMeter = metrics.NewRegisteredMeter("trie/cleancache/miss", nil)
	nodeWriteMeter = metrics.NewRegisteredMeter("trie/nodes/write", nil)
	nodeWriteBytes = metrics.NewRegisteredMeter("trie/nodes/write/bytes", nil)
)

// Config tunes the node database.
type Config struct {
	CleanCacheSize int // bytes of clean node cache, zero disables it
}

// Database is the hash-addressed node store shared by the account trie and all
// storage tries. Reads are verified against the requested hash.
type Database struct {
	disk   storage.KeyValueStore
	cleans *fastcache.Cache
	lock   sync.RWMutex
}

// NewDatabase wraps disk. A nil config disables the clean cache.
func NewDatabase(disk storage.KeyValueStore, config *Config) *Database {
	db := &Database{disk: disk}
	if config != nil && config.CleanCacheSize > 0 {
		db.cleans = fastcache.New(config.CleanCacheSize)
	}
	return db
}

// Disk returns the backing key-value store.
func (db *Database) Disk() storage.KeyValueStore { return db.disk }

// Node retrieves the encoded node with the given hash.
func (db *Database) Node(owner common.Hash, hash common.Hash) ([]byte, error) {
	if db.cleans != nil {
		if enc, ok := db.cleans.HasGet(nil, hash[:]); ok {
			cleanHitMeter.Mark(1)
			return enc, nil
		}
		cleanMissMeter.Mark(1)
	}
	db.lock.RLock()
	enc, err := db.disk.Get(hash[:])
	db.lock.RUnlock()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &MissingNodeError{Owner: owner, NodeHash: hash, err: err}
		}
		return nil, err
	}
	if got := crypto.Keccak256Hash(enc); got != hash {
		log.Error("Trie node hash mismatch", "owner", owner, "want", hash, "have", got)
		return nil, &CorruptionError{Owner: owner, NodeHash: hash, Reason: "hash mismatch"}
	}
	if db.cleans != nil {
		db.cleans.Set(hash[:], enc)
	}
	return enc, nil
}

// Update persists every node in the given sets in one batch.
func (db *Database) Update(sets ...*NodeSet) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	batch := db.disk.NewBatch()
	var count int
	for _, set := range sets {
		if set == nil {
			continue
		}
		for hash, enc := range set.Nodes {
			if err := batch.Put(hash[:], enc); err != nil {
				return err
			}
			if db.cleans != nil {
				db.cleans.Set(hash[:], enc)
			}
			count++
		}
	}
	nodeWriteMeter.Mark(int64(count))
	nodeWriteBytes.Mark(int64(batch.ValueSize()))
	return batch.Write()
}

// NodeSet contains the dirty nodes collected by a trie commit.
type NodeSet struct {
	Owner common.Hash
	Nodes map[common.Hash][]byte
}

// NewNodeSet initializes an empty node set for the given trie owner.
func NewNodeSet(owner common.Hash) *NodeSet {
	return &NodeSet{Owner: owner, Nodes: make(map[common.Hash][]byte)}
}

func (set *NodeSet) add(hash common.Hash, enc []byte) {
	set.Nodes[hash] = enc
}

// Size returns the number of nodes in the set.
func (set *NodeSet) Size() int {
	if set == nil {
		return 0
	}
	return len(set.Nodes)
}
