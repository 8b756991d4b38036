package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func proofDB(t *testing.T, proof []string) *memorydb.Database {
	t.Helper()
	db := memorydb.New()
	for _, item := range proof {
		enc, err := hexutil.Decode(item)
		require.NoError(t, err)
		require.NoError(t, db.Put(crypto.Keccak256(enc), enc))
	}
	return db
}

func TestProveAccountAndStorage(t *testing.T) {
	s, _ := newTestStateTrie(t)
	addr := common.HexToAddress("0x4200000000000000000000000000000000000010")
	slot := common.HexToHash("0x01")
	_, err := s.Apply(0, []AccountOverlay{
		{Address: addr, Nonce: 3, Balance: uint256.NewInt(1000), Storage: map[common.Hash]common.Hash{slot: common.HexToHash("0x2a")}},
		{Address: common.HexToAddress("0x99"), Balance: uint256.NewInt(1)},
	})
	require.NoError(t, err)

	res, err := s.Prove(addr, []common.Hash{slot, common.HexToHash("0x02")})
	require.NoError(t, err)
	require.Equal(t, hexutil.Uint64(3), res.Nonce)
	require.Equal(t, int64(1000), res.Balance.ToInt().Int64())
	require.Equal(t, types.EmptyCodeHash, res.CodeHash)

	val, err := gethtrie.VerifyProof(s.Root(), crypto.Keccak256(addr.Bytes()), proofDB(t, res.AccountProof))
	require.NoError(t, err)
	var acct types.StateAccount
	require.NoError(t, rlp.DecodeBytes(val, &acct))
	require.Equal(t, res.StorageHash, acct.Root)

	require.Len(t, res.StorageProof, 2)
	present := res.StorageProof[0]
	require.Equal(t, int64(0x2a), present.Value.ToInt().Int64())
	sval, err := gethtrie.VerifyProof(res.StorageHash, crypto.Keccak256(slot.Bytes()), proofDB(t, present.Proof))
	require.NoError(t, err)
	require.NotNil(t, sval)

	absent := res.StorageProof[1]
	require.Zero(t, absent.Value.ToInt().Sign())
	sval, err = gethtrie.VerifyProof(res.StorageHash, crypto.Keccak256(common.HexToHash("0x02").Bytes()), proofDB(t, absent.Proof))
	require.NoError(t, err)
	require.Nil(t, sval)
}

func TestProveMissingAccount(t *testing.T) {
	s, _ := newTestStateTrie(t)
	_, err := s.Apply(0, []AccountOverlay{{Address: common.HexToAddress("0x01"), Balance: uint256.NewInt(1)}})
	require.NoError(t, err)

	missing := common.HexToAddress("0x02")
	res, err := s.Prove(missing, []common.Hash{{0x01}})
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, res.StorageHash)
	require.Equal(t, types.EmptyCodeHash, res.CodeHash)
	require.NotEmpty(t, res.AccountProof)
	require.Empty(t, res.StorageProof[0].Proof)

	val, err := gethtrie.VerifyProof(s.Root(), crypto.Keccak256(missing.Bytes()), proofDB(t, res.AccountProof))
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestProveAtHeightAndRange(t *testing.T) {
	s, _ := newTestStateTrie(t)
	addr := common.HexToAddress("0x4200000000000000000000000000000000000001")
	_, err := s.Apply(0, []AccountOverlay{{Address: addr, Balance: uint256.NewInt(1)}})
	require.NoError(t, err)
	_, err = s.Apply(1, []AccountOverlay{{Address: addr, Balance: uint256.NewInt(2)}})
	require.NoError(t, err)

	res, err := s.ProveAt(0, addr, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Balance.ToInt().Int64())

	_, err = s.ProveAt(5, addr, nil)
	require.ErrorIs(t, err, ErrUnknownHeight)

	s.SetProofRange(&L2PredeployRange)
	_, err = s.Prove(common.HexToAddress("0x01"), nil)
	require.ErrorIs(t, err, ErrAddressOutsideRange)
	_, err = s.ProveAt(1, addr, nil)
	require.NoError(t, err)
}
