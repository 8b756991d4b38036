package storage

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// Pebble is a persistent store on cockroachdb/pebble.
type Pebble struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a pebble database at path.
func NewPebble(path string, cache int, handles int) (*Pebble, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cache * 1024 * 1024)),
		MaxOpenFiles: handles,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble database at %s", path)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *Pebble) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Put(key []byte, value []byte) error { return p.db.Set(key, value, pebble.Sync) }

func (p *Pebble) Delete(key []byte) error { return p.db.Delete(key, pebble.Sync) }

func (p *Pebble) NewBatch() Batch { return &pebbleBatch{b: p.db.NewBatch()} }

func (p *Pebble) Close() error { return p.db.Close() }

type pebbleBatch struct {
	b    *pebble.Batch
	size int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.b.Delete(key, nil)
}

func (b *pebbleBatch) ValueSize() int { return b.size }

func (b *pebbleBatch) Write() error { return b.b.Commit(pebble.Sync) }

func (b *pebbleBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
