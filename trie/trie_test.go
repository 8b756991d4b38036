package trie

import (
	"bytes"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/moved-network/hostevm/storage"
	"github.com/stretchr/testify/require"
)

func newTestDatabase() *Database {
	return NewDatabase(storage.NewMemory(), &Config{CleanCacheSize: 1024 * 1024})
}

func updateString(t *testing.T, tr *Trie, k, v string) {
	t.Helper()
	require.NoError(t, tr.Update([]byte(k), []byte(v)))
}

func TestEmptyTrie(t *testing.T) {
	tr := NewEmpty(newTestDatabase())
	require.Equal(t, types.EmptyRootHash, tr.Hash())

	root, set := tr.Commit()
	require.Equal(t, types.EmptyRootHash, root)
	require.Zero(t, set.Size())
}

func TestInsertKnownRoots(t *testing.T) {
	tr := NewEmpty(nil)
	updateString(t, tr, "doe", "reindeer")
	updateString(t, tr, "dog", "puppy")
	updateString(t, tr, "dogglesworth", "cat")
	require.Equal(t, common.HexToHash("8aad789dff2f538bca5d8ea56e8abe10f4c7ba3a5dea95fea4cd6e7c3a1168d3"), tr.Hash())

	tr = NewEmpty(nil)
	updateString(t, tr, "A", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.Equal(t, common.HexToHash("d23786fb4a010da3ce639d66d5e904a11dbc02746d1ce25029e53290cabf28ab"), tr.Hash())
}

func TestDeleteKnownRoot(t *testing.T) {
	tr := NewEmpty(nil)
	vals := []struct{ k, v string }{
		{"do", "verb"},
		{"ether", "wookiedoo"},
		{"horse", "stallion"},
		{"shaman", "horse"},
		{"doge", "coin"},
		{"ether", ""},
		{"dog", "puppy"},
		{"shaman", ""},
	}
	for _, val := range vals {
		updateString(t, tr, val.k, val.v)
	}
	require.Equal(t, common.HexToHash("5991bb8c6514148a29db676a14ac506cd2cd5775ace63c30a4fe457715e9ac84"), tr.Hash())

	v, err := tr.Get([]byte("ether"))
	require.NoError(t, err)
	require.Nil(t, v)
	v, err = tr.Get([]byte("doge"))
	require.NoError(t, err)
	require.Equal(t, []byte("coin"), v)
}

type kv struct{ k, v []byte }

func randomHashedEntries(r *rand.Rand, n int) []kv {
	entries := make([]kv, n)
	for i := range entries {
		var slot [32]byte
		r.Read(slot[:])
		val := make([]byte, 1+r.Intn(40))
		r.Read(val)
		val[0] |= 1
		entries[i] = kv{crypto.Keccak256(slot[:]), val}
	}
	return entries
}

func TestRootMatchesStackTrie(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 3, 17, 100, 1000} {
		entries := randomHashedEntries(r, n)

		tr := NewEmpty(nil)
		for _, e := range entries {
			require.NoError(t, tr.Update(e.k, e.v))
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })
		st := gethtrie.NewStackTrie(nil)
		for _, e := range entries {
			require.NoError(t, st.Update(e.k, e.v))
		}
		require.Equal(t, st.Hash(), tr.Hash(), "n=%d", n)
	}
}

func TestInsertionOrderIndependence(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	entries := randomHashedEntries(r, 300)
	noise := randomHashedEntries(r, 50)

	build := func(order []int, withNoise bool) common.Hash {
		tr := NewEmpty(nil)
		if withNoise {
			for _, e := range noise {
				require.NoError(t, tr.Update(e.k, e.v))
			}
		}
		for _, i := range order {
			require.NoError(t, tr.Update(entries[i].k, entries[i].v))
		}
		if withNoise {
			for _, e := range noise {
				require.NoError(t, tr.Delete(e.k))
			}
		}
		return tr.Hash()
	}
	base := build(r.Perm(len(entries)), false)
	for i := 0; i < 5; i++ {
		require.Equal(t, base, build(r.Perm(len(entries)), i%2 == 0))
	}
}

func TestCommitAndReopen(t *testing.T) {
	db := newTestDatabase()
	r := rand.New(rand.NewSource(3))
	entries := randomHashedEntries(r, 200)

	tr := NewEmpty(db)
	for _, e := range entries {
		require.NoError(t, tr.Update(e.k, e.v))
	}
	root, set := tr.Commit()
	require.NotZero(t, set.Size())
	require.NoError(t, db.Update(set))

	reopened, err := New(common.Hash{}, root, db)
	require.NoError(t, err)
	for _, e := range entries {
		v, err := reopened.Get(e.k)
		require.NoError(t, err)
		require.Equal(t, e.v, v)
	}
	// Mutating a reopened trie yields the same root as mutating in memory.
	mem := NewEmpty(nil)
	for _, e := range entries[1:] {
		require.NoError(t, mem.Update(e.k, e.v))
	}
	require.NoError(t, reopened.Delete(entries[0].k))
	require.Equal(t, mem.Hash(), reopened.Hash())

	// The committed trie keeps working once its nodes are persisted.
	v, err := tr.Get(entries[5].k)
	require.NoError(t, err)
	require.Equal(t, entries[5].v, v)
}

func TestCommitUnchanged(t *testing.T) {
	db := newTestDatabase()
	tr := NewEmpty(db)
	updateString(t, tr, "key", "value-longer-than-thirty-two-bytes-to-force-hashing")
	root, set := tr.Commit()
	require.NoError(t, db.Update(set))

	tr, err := New(common.Hash{}, root, db)
	require.NoError(t, err)
	root2, set2 := tr.Commit()
	require.Equal(t, root, root2)
	require.Zero(t, set2.Size())
}

func TestMissingNode(t *testing.T) {
	db := newTestDatabase()
	_, err := New(common.Hash{}, common.HexToHash("0x1234"), db)
	var missing *MissingNodeError
	require.True(t, errors.As(err, &missing))
	require.False(t, errors.Is(err, ErrTrieCorruption))
}

func TestCorruptedNode(t *testing.T) {
	disk := storage.NewMemory()
	db := NewDatabase(disk, nil)
	tr := NewEmpty(db)
	for i := byte(0); i < 20; i++ {
		require.NoError(t, tr.Update(crypto.Keccak256([]byte{i}), bytes.Repeat([]byte{i + 1}, 40)))
	}
	root, set := tr.Commit()
	require.NoError(t, db.Update(set))

	// Overwrite the root node with garbage under the same key.
	require.NoError(t, disk.Put(root[:], []byte{0xc0}))
	_, err := New(common.Hash{}, root, db)
	require.ErrorIs(t, err, ErrTrieCorruption)
}

func TestUpdateSameValueKeepsRoot(t *testing.T) {
	tr := NewEmpty(nil)
	updateString(t, tr, "abc", "1")
	before := tr.Hash()
	updateString(t, tr, "abc", "1")
	require.Equal(t, before, tr.Hash())
	require.NoError(t, tr.Delete([]byte("missing")))
	require.Equal(t, before, tr.Hash())
}
