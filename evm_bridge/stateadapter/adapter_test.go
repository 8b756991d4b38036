package stateadapter

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core/state"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/tracing"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	accounts map[common.Address]*types.StateAccount
	storage  map[common.Address]map[common.Hash]common.Hash
	code     map[common.Hash][]byte
	err      error
	reads    int
}

func newMemBackend() *memBackend {
	return &memBackend{
		accounts: make(map[common.Address]*types.StateAccount),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		code:     make(map[common.Hash][]byte),
	}
}

func (b *memBackend) Account(addr common.Address) (*types.StateAccount, error) {
	b.reads++
	if b.err != nil {
		return nil, b.err
	}
	return b.accounts[addr], nil
}

func (b *memBackend) Storage(addr common.Address, key common.Hash) (common.Hash, error) {
	b.reads++
	if b.err != nil {
		return common.Hash{}, b.err
	}
	return b.storage[addr][key], nil
}

func (b *memBackend) Code(hash common.Hash) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.code[hash], nil
}

func (b *memBackend) setAccount(addr common.Address, balance uint64, code []byte) {
	acct := &types.StateAccount{Balance: uint256.NewInt(balance), Root: types.EmptyRootHash, CodeHash: types.EmptyCodeHash.Bytes()}
	if len(code) > 0 {
		h := crypto.Keccak256Hash(code)
		b.code[h] = code
		acct.CodeHash = h.Bytes()
	}
	b.accounts[addr] = acct
}

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	slot  = common.HexToHash("0x01")
	one   = common.HexToHash("0x01")
	two   = common.HexToHash("0x02")
)

func newTestAdapter(t *testing.T, b Backend) *Adapter {
	t.Helper()
	a, err := New(b, &Config{AccountCache: 16, StorageCache: 16, CodeCache: 4})
	require.NoError(t, err)
	return a
}

func TestFramesReadYourWrites(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 100, nil)
	b.storage[alice] = map[common.Hash]common.Hash{slot: one}
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	require.Equal(t, one, a.GetState(alice, slot))
	a.Push()
	a.SetState(alice, slot, two)
	a.Push()
	require.Equal(t, two, a.GetState(alice, slot), "child sees parent writes")
	a.SetState(alice, slot, common.Hash{0x03})
	require.NoError(t, a.Discard())
	require.Equal(t, two, a.GetState(alice, slot))
	require.NoError(t, a.Commit())
	require.Equal(t, 1, a.Depth())
	require.Equal(t, two, a.GetState(alice, slot))
	require.Equal(t, one, a.GetCommittedState(alice, slot))
}

func TestDiscardRollsBackCreation(t *testing.T) {
	a := newTestAdapter(t, newMemBackend())
	require.NoError(t, a.BeginTx())
	a.Push()
	a.CreateAccount(bob)
	a.AddBalance(bob, uint256.NewInt(5), tracing.BalanceChangeTransfer)
	require.True(t, a.Exist(bob))
	require.NoError(t, a.Discard())
	require.False(t, a.Exist(bob))
	require.True(t, a.GetBalance(bob).IsZero())
}

func TestCreateContractClearsStorage(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 7, nil)
	b.storage[alice] = map[common.Hash]common.Hash{slot: one}
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	a.Push()
	a.CreateContract(alice)
	require.Equal(t, common.Hash{}, a.GetState(alice, slot))
	require.Equal(t, common.Hash{}, a.GetCommittedState(alice, slot))
	require.Equal(t, uint64(7), a.GetBalance(alice).Uint64(), "balance survives creation")
	require.True(t, a.CreatedInTx(alice))
	require.NoError(t, a.Discard())

	require.Equal(t, one, a.GetState(alice, slot))
	require.False(t, a.CreatedInTx(alice))
}

func TestTransfer(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	require.ErrorIs(t, a.Transfer(alice, bob, uint256.NewInt(11)), vm.ErrInsufficientBalance)
	require.Equal(t, uint64(10), a.GetBalance(alice).Uint64())
	require.False(t, a.Exist(bob))

	require.NoError(t, a.Transfer(alice, bob, uint256.NewInt(4)))
	require.Equal(t, uint64(6), a.GetBalance(alice).Uint64())
	require.Equal(t, uint64(4), a.GetBalance(bob).Uint64())
}

func TestCodeAndEmptiness(t *testing.T) {
	code := []byte{0x60, 0x00, 0x00}
	b := newMemBackend()
	b.setAccount(alice, 0, code)
	a := newTestAdapter(t, b)

	require.Equal(t, code, a.GetCode(alice))
	require.Equal(t, crypto.Keccak256Hash(code), a.GetCodeHash(alice))
	require.False(t, a.Empty(alice))
	require.True(t, a.Empty(bob))
	require.Equal(t, common.Hash{}, a.GetCodeHash(bob))

	require.NoError(t, a.BeginTx())
	a.SetCode(bob, []byte{0x00})
	require.Equal(t, 1, a.GetCodeSize(bob))
	require.False(t, a.Empty(bob))
}

func TestTransientAndAccessList(t *testing.T) {
	a := newTestAdapter(t, newMemBackend())
	require.NoError(t, a.BeginTx())
	a.AddAddressToAccessList(alice)

	a.Push()
	a.AddSlotToAccessList(bob, slot)
	a.SetTransientState(bob, slot, one)
	addrOk, slotOk := a.SlotInAccessList(bob, slot)
	require.True(t, addrOk)
	require.True(t, slotOk)
	require.NoError(t, a.Discard())

	require.True(t, a.AddressInAccessList(alice))
	require.False(t, a.AddressInAccessList(bob), "warmth is reverted with the frame")
	require.Equal(t, common.Hash{}, a.GetTransientState(bob, slot))

	a.Push()
	a.SetTransientState(bob, slot, one)
	require.NoError(t, a.Commit())
	require.Equal(t, one, a.GetTransientState(bob, slot))

	_, err := a.FinalizeTx()
	require.NoError(t, err)
	require.NoError(t, a.BeginTx())
	require.Equal(t, common.Hash{}, a.GetTransientState(bob, slot), "transient storage ends with the tx")
	require.False(t, a.AddressInAccessList(alice))
}

func TestLogsFollowFrames(t *testing.T) {
	a := newTestAdapter(t, newMemBackend())
	require.NoError(t, a.BeginTx())
	a.AddLog(&types.Log{Address: alice})

	a.Push()
	a.AddLog(&types.Log{Address: bob})
	require.NoError(t, a.Discard())
	require.Len(t, a.Logs(), 1)

	a.Push()
	a.AddLog(&types.Log{Address: bob})
	a.Push()
	a.AddLog(&types.Log{Address: bob, Data: []byte{1}})
	require.NoError(t, a.Commit())
	taken := a.TakeLogs()
	require.Len(t, taken, 2)
	require.NoError(t, a.Commit())

	logs, err := a.FinalizeTx()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, alice, logs[0].Address)
}

func TestPendingVisibleToNextTx(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	a := newTestAdapter(t, b)

	require.NoError(t, a.BeginTx())
	a.SetState(alice, slot, one)
	require.NoError(t, a.Transfer(alice, bob, uint256.NewInt(3)))
	_, err := a.FinalizeTx()
	require.NoError(t, err)

	require.NoError(t, a.BeginTx())
	require.Equal(t, one, a.GetState(alice, slot))
	require.Equal(t, one, a.GetCommittedState(alice, slot))
	require.Equal(t, uint64(3), a.GetBalance(bob).Uint64())
	require.NoError(t, a.Discard())

	require.ErrorIs(t, a.Reset(b), ErrPendingNotFlushed)
}

func TestFlushPending(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	b.setAccount(bob, 1, []byte{0xfe})
	b.storage[bob] = map[common.Hash]common.Hash{slot: one}
	carol := common.HexToAddress("0xca401")
	a := newTestAdapter(t, b)

	require.NoError(t, a.BeginTx())
	a.SetState(alice, slot, two)
	a.SetNonce(alice, 1, tracing.NonceChangeHostTx)
	a.SelfDestruct(bob)
	a.CreateContract(carol)
	a.SetCode(carol, []byte{0x00})
	a.SetState(carol, slot, one)
	_, err := a.FinalizeTx()
	require.NoError(t, err)

	overlays, err := a.FlushPending()
	require.NoError(t, err)
	require.Len(t, overlays, 3)
	byAddr := make(map[common.Address]state.AccountOverlay)
	for _, o := range overlays {
		byAddr[o.Address] = o
	}
	require.Equal(t, uint64(1), byAddr[alice].Nonce)
	require.Equal(t, two, byAddr[alice].Storage[slot])
	require.False(t, byAddr[alice].ResetStorage)
	require.Nil(t, byAddr[alice].Code)

	require.True(t, byAddr[bob].Deleted)
	require.True(t, byAddr[bob].ResetStorage)

	require.Equal(t, []byte{0x00}, byAddr[carol].Code)
	require.True(t, byAddr[carol].ResetStorage)
	require.Equal(t, one, byAddr[carol].Storage[slot])

	again, err := a.FlushPending()
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestBackendErrorIsMemoised(t *testing.T) {
	b := newMemBackend()
	boom := errors.New("disk on fire")
	b.err = boom
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	require.True(t, a.GetBalance(alice).IsZero())
	require.ErrorIs(t, a.Error(), boom)
	_, err := a.FinalizeTx()
	require.ErrorIs(t, err, boom)
	require.Zero(t, a.Depth())
}

func TestDropPending(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	a := newTestAdapter(t, b)

	require.NoError(t, a.BeginTx())
	a.AddBalance(alice, uint256.NewInt(5), tracing.BalanceChangeTransfer)
	_, err := a.FinalizeTx()
	require.NoError(t, err)
	require.ErrorIs(t, a.Reset(b), ErrPendingNotFlushed)

	require.NoError(t, a.BeginTx())
	require.ErrorIs(t, a.DropPending(), ErrFramesOpen)
	a.RevertTo(0)

	require.NoError(t, a.DropPending())
	require.NoError(t, a.Reset(b))
	require.Equal(t, uint64(10), a.GetBalance(alice).Uint64())
}

func TestPrefetch(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	b.storage[alice] = map[common.Hash]common.Hash{slot: one}
	a := newTestAdapter(t, b)

	ResetProfileCounters()
	a.Prefetch([]BatchKey{{Address: alice, Slot: slot}, {Address: bob}})
	accounts, slots := ProfileCounters()
	require.Equal(t, int64(2), accounts)
	require.Equal(t, int64(1), slots)

	reads := b.reads
	require.Equal(t, one, a.GetState(alice, slot))
	require.Equal(t, uint64(10), a.GetBalance(alice).Uint64())
	require.False(t, a.Exist(bob))
	require.Equal(t, reads, b.reads, "prefetched keys are served from cache")
}

func TestHooks(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	a := newTestAdapter(t, b)
	var reasons []tracing.BalanceChangeReason
	var nonces []uint64
	a.SetHooks(&tracing.Hooks{
		OnBalanceChange: func(addr common.Address, prev, new *uint256.Int, reason tracing.BalanceChangeReason) {
			reasons = append(reasons, reason)
		},
		OnNonceChange: func(addr common.Address, prev, new uint64, reason tracing.NonceChangeReason) {
			nonces = append(nonces, new)
		},
	})
	require.NoError(t, a.BeginTx())
	require.NoError(t, a.Transfer(alice, bob, uint256.NewInt(1)))
	a.SetNonce(alice, 9, tracing.NonceChangeHostTx)
	require.Equal(t, []tracing.BalanceChangeReason{tracing.BalanceChangeTransfer, tracing.BalanceChangeTransfer}, reasons)
	require.Equal(t, []uint64{9}, nonces)
}

func TestRoundTripThroughStateTrie(t *testing.T) {
	st, err := state.New(storage.NewMemory(), nil)
	require.NoError(t, err)
	_, err = st.Apply(0, []state.AccountOverlay{{Address: alice, Balance: uint256.NewInt(100)}})
	require.NoError(t, err)
	reader, err := st.Reader()
	require.NoError(t, err)

	a := newTestAdapter(t, reader)
	code := []byte{0x60, 0x2a, 0x00}
	require.NoError(t, a.BeginTx())
	require.NoError(t, a.Transfer(alice, bob, uint256.NewInt(40)))
	a.SetCode(bob, code)
	a.SetState(bob, slot, two)
	_, err = a.FinalizeTx()
	require.NoError(t, err)

	overlays, err := a.FlushPending()
	require.NoError(t, err)
	_, err = st.Apply(1, overlays)
	require.NoError(t, err)
	reader, err = st.Reader()
	require.NoError(t, err)
	require.NoError(t, a.Reset(reader))

	require.Equal(t, uint64(60), a.GetBalance(alice).Uint64())
	require.Equal(t, uint64(40), a.GetBalance(bob).Uint64())
	require.Equal(t, code, a.GetCode(bob))
	require.Equal(t, two, a.GetState(bob, slot))
}

func TestMutatorsReturnPrevious(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, []byte{0x00})
	b.storage[alice] = map[common.Hash]common.Hash{slot: one}
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	prev := a.AddBalance(alice, uint256.NewInt(5), tracing.BalanceChangeTransfer)
	require.Equal(t, uint64(10), prev.Uint64())
	prev = a.SubBalance(alice, uint256.NewInt(3), tracing.BalanceChangeTransfer)
	require.Equal(t, uint64(15), prev.Uint64())

	balance := a.GetBalance(alice)
	balance.SetUint64(1000)
	require.Equal(t, uint64(12), a.GetBalance(alice).Uint64(), "balance is returned by value")

	require.Equal(t, []byte{0x00}, a.SetCode(alice, []byte{0x01}))
	require.Equal(t, one, a.SetState(alice, slot, two))
	require.Equal(t, two, a.SetState(alice, slot, common.Hash{}))

	a.AddBalance(bob, new(uint256.Int), tracing.BalanceChangeTouch)
	require.True(t, a.Exist(bob), "zero-value credit touches the account")
}

func TestSnapshotFollowsFrames(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	id := a.Snapshot()
	require.Equal(t, 1, id)
	a.SetState(alice, slot, one)
	inner := a.Snapshot()
	a.SetState(alice, slot, two)
	a.RevertToSnapshot(inner)
	require.Equal(t, one, a.GetState(alice, slot))
	require.Equal(t, 2, a.Depth())

	a.RevertToSnapshot(id)
	require.Equal(t, common.Hash{}, a.GetState(alice, slot))
	require.Equal(t, 1, a.Depth())
}

func TestRefundFollowsFrames(t *testing.T) {
	a := newTestAdapter(t, newMemBackend())
	require.NoError(t, a.BeginTx())
	a.AddRefund(100)

	a.Push()
	a.AddRefund(50)
	a.SubRefund(20)
	require.Equal(t, uint64(130), a.GetRefund())
	require.NoError(t, a.Discard())
	require.Equal(t, uint64(100), a.GetRefund())

	a.Push()
	a.AddRefund(7)
	require.NoError(t, a.Commit())
	require.Equal(t, uint64(107), a.GetRefund())

	_, err := a.FinalizeTx()
	require.NoError(t, err)
	require.NoError(t, a.BeginTx())
	require.Zero(t, a.GetRefund(), "refunds end with the tx")
}

func TestStorageRoot(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 1, nil)
	b.accounts[alice].Root = common.Hash{0xaa}
	b.setAccount(bob, 1, nil)
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	require.Equal(t, common.Hash{0xaa}, a.GetStorageRoot(alice))
	require.Equal(t, types.EmptyRootHash, a.GetStorageRoot(bob))
	require.Equal(t, common.Hash{}, a.GetStorageRoot(common.HexToAddress("0xca401")))

	a.CreateContract(alice)
	require.Equal(t, types.EmptyRootHash, a.GetStorageRoot(alice))
}

func TestSelfDestruct6780(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, []byte{0x00})
	carol := common.HexToAddress("0xca401")
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	prev, destructed := a.SelfDestruct6780(alice)
	require.False(t, destructed)
	require.Equal(t, uint64(10), prev.Uint64())
	require.False(t, a.HasSelfDestructed(alice))

	a.CreateContract(carol)
	a.AddBalance(carol, uint256.NewInt(4), tracing.BalanceChangeTransfer)
	prev, destructed = a.SelfDestruct6780(carol)
	require.True(t, destructed)
	require.Equal(t, uint64(4), prev.Uint64())
	require.True(t, a.HasSelfDestructed(carol))
	require.True(t, a.GetBalance(carol).IsZero())
}

func TestEmptyAccountsRemoved(t *testing.T) {
	b := newMemBackend()
	b.setAccount(alice, 10, nil)
	b.setAccount(bob, 1, nil)
	a := newTestAdapter(t, b)
	require.NoError(t, a.BeginTx())

	carol := common.HexToAddress("0xca401")
	a.AddBalance(carol, new(uint256.Int), tracing.BalanceChangeTouch)
	a.SubBalance(bob, uint256.NewInt(1), tracing.BalanceChangeTransfer)
	a.SubBalance(alice, uint256.NewInt(1), tracing.BalanceChangeTransfer)
	_, err := a.FinalizeTx()
	require.NoError(t, err)

	overlays, err := a.FlushPending()
	require.NoError(t, err)
	byAddr := make(map[common.Address]state.AccountOverlay)
	for _, o := range overlays {
		byAddr[o.Address] = o
	}
	require.True(t, byAddr[bob].Deleted)
	require.True(t, byAddr[carol].Deleted)
	require.False(t, byAddr[alice].Deleted)
	require.Equal(t, uint64(9), byAddr[alice].Balance.Uint64())
}
