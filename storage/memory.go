package storage

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// Memory is an ephemeral store backed by go-ethereum's memorydb.
type Memory struct {
	db *memorydb.Database
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{db: memorydb.New()}
}

func (m *Memory) Has(key []byte) (bool, error) { return m.db.Has(key) }

func (m *Memory) Get(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.db.Get(key)
}

func (m *Memory) Put(key []byte, value []byte) error { return m.db.Put(key, value) }

func (m *Memory) Delete(key []byte) error { return m.db.Delete(key) }

func (m *Memory) NewBatch() Batch { return &memoryBatch{b: m.db.NewBatch()} }

// Len reports the number of stored entries.
func (m *Memory) Len() int { return m.db.Len() }

func (m *Memory) Close() error { return m.db.Close() }

type memoryBatch struct {
	b ethdb.Batch
}

func (b *memoryBatch) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b *memoryBatch) Delete(key []byte) error     { return b.b.Delete(key) }
func (b *memoryBatch) ValueSize() int              { return b.b.ValueSize() }
func (b *memoryBatch) Write() error                { return b.b.Write() }
func (b *memoryBatch) Reset()                      { b.b.Reset() }
