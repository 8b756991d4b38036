package state

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/trie"
	"github.com/stretchr/testify/require"
)

func newTestStateTrie(t *testing.T) (*StateTrie, *storage.Memory) {
	t.Helper()
	disk := storage.NewMemory()
	s, err := New(disk, &trie.Config{CleanCacheSize: 1 << 20})
	require.NoError(t, err)
	return s, disk
}

type refAccount struct {
	nonce   uint64
	balance uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

// referenceRoot computes the expected state root with go-ethereum's stack
// trie, independently of the trie package.
func referenceRoot(t *testing.T, accounts map[common.Address]*refAccount) common.Hash {
	t.Helper()
	type entry struct{ k, v []byte }
	var accEntries []entry
	for addr, acc := range accounts {
		var slots []entry
		for k, v := range acc.storage {
			if v == (common.Hash{}) {
				continue
			}
			enc, _ := rlp.EncodeToBytes(common.TrimLeftZeroes(v[:]))
			slots = append(slots, entry{crypto.Keccak256(k[:]), enc})
		}
		sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i].k, slots[j].k) < 0 })
		st := gethtrie.NewStackTrie(nil)
		for _, e := range slots {
			require.NoError(t, st.Update(e.k, e.v))
		}
		codeHash := types.EmptyCodeHash
		if len(acc.code) > 0 {
			codeHash = crypto.Keccak256Hash(acc.code)
		}
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    acc.nonce,
			Balance:  uint256.NewInt(acc.balance),
			Root:     st.Hash(),
			CodeHash: codeHash.Bytes(),
		})
		require.NoError(t, err)
		accEntries = append(accEntries, entry{crypto.Keccak256(addr[:]), enc})
	}
	sort.Slice(accEntries, func(i, j int) bool { return bytes.Compare(accEntries[i].k, accEntries[j].k) < 0 })
	st := gethtrie.NewStackTrie(nil)
	for _, e := range accEntries {
		require.NoError(t, st.Update(e.k, e.v))
	}
	return st.Hash()
}

func toOverlays(accounts map[common.Address]*refAccount) []AccountOverlay {
	var out []AccountOverlay
	for addr, acc := range accounts {
		o := AccountOverlay{
			Address:  addr,
			Nonce:    acc.nonce,
			Balance:  uint256.NewInt(acc.balance),
			CodeHash: types.EmptyCodeHash,
			Storage:  make(map[common.Hash]common.Hash),
		}
		if len(acc.code) > 0 {
			o.Code = acc.code
			o.CodeHash = crypto.Keccak256Hash(acc.code)
		}
		for k, v := range acc.storage {
			o.Storage[k] = v
		}
		out = append(out, o)
	}
	return out
}

func randomAccounts(r *rand.Rand, n int) map[common.Address]*refAccount {
	accounts := make(map[common.Address]*refAccount)
	for i := 0; i < n; i++ {
		var addr common.Address
		r.Read(addr[:])
		acc := &refAccount{nonce: uint64(r.Intn(5)), balance: uint64(1 + r.Intn(1e9)), storage: make(map[common.Hash]common.Hash)}
		if r.Intn(3) == 0 {
			acc.code = []byte{0x60, byte(i), 0x00}
		}
		for j := 0; j < r.Intn(20); j++ {
			var k, v common.Hash
			r.Read(k[:])
			r.Read(v[32-1-r.Intn(31):])
			acc.storage[k] = v
		}
		accounts[addr] = acc
	}
	return accounts
}

func TestApplyMatchesReference(t *testing.T) {
	s, _ := newTestStateTrie(t)
	accounts := randomAccounts(rand.New(rand.NewSource(1)), 80)

	root, err := s.Apply(0, toOverlays(accounts))
	require.NoError(t, err)
	require.Equal(t, referenceRoot(t, accounts), root)
	require.Equal(t, root, s.Root())

	height, ok := s.Height()
	require.True(t, ok)
	require.Zero(t, height)
}

func TestRootDeterminism(t *testing.T) {
	accounts := randomAccounts(rand.New(rand.NewSource(2)), 40)

	// One block with everything.
	a, _ := newTestStateTrie(t)
	rootA, err := a.Apply(0, toOverlays(accounts))
	require.NoError(t, err)

	// Same logical state reached through several blocks with intermediate
	// values that are later overwritten or zeroed.
	b, _ := newTestStateTrie(t)
	first := toOverlays(accounts)
	for i := range first {
		first[i].Balance = uint256.NewInt(7)
		for k := range first[i].Storage {
			first[i].Storage[k] = common.Hash{0x01}
		}
		first[i].Storage[common.Hash{0xee}] = common.Hash{0x02}
	}
	_, err = b.Apply(0, first)
	require.NoError(t, err)

	second := toOverlays(accounts)
	for i := range second {
		second[i].Storage[common.Hash{0xee}] = common.Hash{}
	}
	// Reverse the order: Apply sorts internally.
	for i, j := 0, len(second)-1; i < j; i, j = i+1, j-1 {
		second[i], second[j] = second[j], second[i]
	}
	rootB, err := b.Apply(1, second)
	require.NoError(t, err)
	require.Equal(t, rootA, rootB)
}

func TestZeroSlotDeletes(t *testing.T) {
	s, _ := newTestStateTrie(t)
	addr := common.HexToAddress("0x01")
	_, err := s.Apply(0, []AccountOverlay{{
		Address: addr, Nonce: 1, Balance: uint256.NewInt(1),
		Storage: map[common.Hash]common.Hash{{0x01}: {0x02}},
	}})
	require.NoError(t, err)

	reader, err := s.Reader()
	require.NoError(t, err)
	acct, err := reader.Account(addr)
	require.NoError(t, err)
	require.NotEqual(t, types.EmptyRootHash, acct.Root)

	_, err = s.Apply(1, []AccountOverlay{{
		Address: addr, Nonce: 1, Balance: uint256.NewInt(1),
		Storage: map[common.Hash]common.Hash{{0x01}: {}},
	}})
	require.NoError(t, err)
	reader, err = s.Reader()
	require.NoError(t, err)
	acct, err = reader.Account(addr)
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, acct.Root)
	require.Equal(t, types.EmptyCodeHash.Bytes(), acct.CodeHash)
}

func TestEmptyAndDeletedAccounts(t *testing.T) {
	s, _ := newTestStateTrie(t)
	keep := common.HexToAddress("0xaa")
	gone := common.HexToAddress("0xbb")
	empty := common.HexToAddress("0xcc")
	_, err := s.Apply(0, []AccountOverlay{
		{Address: keep, Balance: uint256.NewInt(5)},
		{Address: gone, Balance: uint256.NewInt(5), Storage: map[common.Hash]common.Hash{{1}: {1}}},
		{Address: empty},
	})
	require.NoError(t, err)
	require.Equal(t, referenceRoot(t, map[common.Address]*refAccount{
		keep: {balance: 5},
		gone: {balance: 5, storage: map[common.Hash]common.Hash{{1}: {1}}},
	}), s.Root())

	_, err = s.Apply(1, []AccountOverlay{{Address: gone, Deleted: true}})
	require.NoError(t, err)
	require.Equal(t, referenceRoot(t, map[common.Address]*refAccount{keep: {balance: 5}}), s.Root())

	reader, err := s.Reader()
	require.NoError(t, err)
	acct, err := reader.Account(gone)
	require.NoError(t, err)
	require.Nil(t, acct)
	val, err := reader.Storage(gone, common.Hash{1})
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, val)
}

func TestReaderPinnedToRoot(t *testing.T) {
	s, _ := newTestStateTrie(t)
	addr := common.HexToAddress("0x1234")
	code := []byte{0x60, 0x01, 0x60, 0x00, 0x55}
	_, err := s.Apply(0, []AccountOverlay{{
		Address: addr, Balance: uint256.NewInt(10), Code: code, CodeHash: crypto.Keccak256Hash(code),
		Storage: map[common.Hash]common.Hash{{0x05}: common.BigToHash(uint256.NewInt(99).ToBig())},
	}})
	require.NoError(t, err)
	old, err := s.Reader()
	require.NoError(t, err)

	_, err = s.Apply(1, []AccountOverlay{{
		Address: addr, Balance: uint256.NewInt(20), CodeHash: crypto.Keccak256Hash(code),
		Storage: map[common.Hash]common.Hash{{0x05}: common.BigToHash(uint256.NewInt(100).ToBig())},
	}})
	require.NoError(t, err)

	acct, err := old.Account(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(10), acct.Balance.Uint64())
	val, err := old.Storage(addr, common.Hash{0x05})
	require.NoError(t, err)
	require.Equal(t, uint64(99), val.Big().Uint64())

	got, err := old.Code(common.BytesToHash(acct.CodeHash))
	require.NoError(t, err)
	require.Equal(t, code, got)

	atZero, err := s.ReaderAt(0)
	require.NoError(t, err)
	require.Equal(t, old.Root(), atZero.Root())
}

func TestApplyValidation(t *testing.T) {
	s, _ := newTestStateTrie(t)
	_, err := s.Apply(0, nil)
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, s.Root())

	_, err = s.Apply(2, nil)
	require.ErrorIs(t, err, ErrHeightMismatch)

	addr := common.HexToAddress("0x01")
	_, err = s.Apply(1, []AccountOverlay{{Address: addr}, {Address: addr}})
	require.ErrorIs(t, err, ErrDuplicateOverlay)
}

func TestStageDoesNotPersist(t *testing.T) {
	s, disk := newTestStateTrie(t)
	_, err := s.Apply(0, toOverlays(randomAccounts(rand.New(rand.NewSource(3)), 5)))
	require.NoError(t, err)
	base := s.Root()

	accounts := randomAccounts(rand.New(rand.NewSource(4)), 5)
	staged, err := s.Stage(1, toOverlays(accounts))
	require.NoError(t, err)
	require.NotEqual(t, base, staged.Root)
	require.Equal(t, base, s.Root())
	h, _ := s.Height()
	require.Zero(t, h)
	_, err = s.RootAt(1)
	require.ErrorIs(t, err, ErrUnknownHeight)
	has, err := disk.Has(staged.Root[:])
	require.NoError(t, err)
	require.False(t, has)

	// A second stage at the same height wins; the first is then stale.
	other, err := s.Stage(1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Commit(other))
	require.Equal(t, base, s.Root())
	require.ErrorIs(t, s.Commit(staged), ErrStaleStage)

	staged, err = s.Stage(2, toOverlays(accounts))
	require.NoError(t, err)
	require.NoError(t, s.Commit(staged))
	require.Equal(t, staged.Root, s.Root())
	at, err := s.RootAt(2)
	require.NoError(t, err)
	require.Equal(t, staged.Root, at)
}

func TestReopenResumesHead(t *testing.T) {
	s, disk := newTestStateTrie(t)
	accounts := randomAccounts(rand.New(rand.NewSource(5)), 10)
	root, err := s.Apply(0, toOverlays(accounts))
	require.NoError(t, err)

	reopened, err := New(disk, nil)
	require.NoError(t, err)
	require.Equal(t, root, reopened.Root())
	h, ok := reopened.Height()
	require.True(t, ok)
	require.Zero(t, h)

	_, err = reopened.RootAt(7)
	require.ErrorIs(t, err, ErrUnknownHeight)
}

func TestCorruptionIsFatal(t *testing.T) {
	s, disk := newTestStateTrie(t)
	// A fresh database without the clean cache so the corrupted blob is read.
	accounts := randomAccounts(rand.New(rand.NewSource(9)), 30)
	root, err := s.Apply(0, toOverlays(accounts))
	require.NoError(t, err)
	require.NoError(t, disk.Put(root[:], []byte{0xc1, 0x80}))

	fresh, err := New(disk, nil)
	require.ErrorIs(t, err, trie.ErrTrieCorruption)
	require.Nil(t, fresh)
}
