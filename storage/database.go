// Package storage provides the durable key-value backends that hold committed
// trie nodes, contract code and the block-height indexes.
package storage

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// ErrNotFound is returned by Get when the key is absent, whatever the engine.
var ErrNotFound = errors.New("storage: not found")

// KeyValueReader wraps the read methods of a backing store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the write methods of a backing store.
type KeyValueWriter interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Batch is a write-only set of changes applied atomically on Write.
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// KeyValueStore is the full backend contract used by the node database.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	NewBatch() Batch
	io.Closer
}

// Engine names accepted by Open.
const (
	EngineMemory  = "memory"
	EngineLevelDB = "leveldb"
	EnginePebble  = "pebble"
)

// Open creates the store for the named engine. Path is ignored by the memory
// engine. cache is in megabytes, handles is the open file budget.
func Open(engine, path string, cache, handles int) (KeyValueStore, error) {
	switch strings.ToLower(engine) {
	case "", EngineMemory:
		return NewMemory(), nil
	case EngineLevelDB:
		log.Info("Opening leveldb store", "path", path, "cache", cache, "handles", handles)
		return NewLevelDB(path, cache, handles)
	case EnginePebble:
		log.Info("Opening pebble store", "path", path, "cache", cache, "handles", handles)
		return NewPebble(path, cache, handles)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", engine)
	}
}
