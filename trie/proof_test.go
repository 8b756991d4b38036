package trie

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

func TestProofVerifies(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	entries := randomHashedEntries(r, 500)
	db := newTestDatabase()
	tr := NewEmpty(db)
	for _, e := range entries {
		require.NoError(t, tr.Update(e.k, e.v))
	}
	root, set := tr.Commit()
	require.NoError(t, db.Update(set))

	for _, e := range entries[:50] {
		// Own verifier over an own proof set.
		proof := make(ProofSet)
		require.NoError(t, tr.Prove(e.k, proof))
		val, err := VerifyProof(root, e.k, proof)
		require.NoError(t, err)
		require.Equal(t, e.v, val)

		// The reference verifier accepts the same proof.
		mdb := memorydb.New()
		require.NoError(t, tr.Prove(e.k, mdb))
		val, err = gethtrie.VerifyProof(root, e.k, mdb)
		require.NoError(t, err)
		require.Equal(t, e.v, val)
	}
}

func TestProofOfAbsence(t *testing.T) {
	tr := NewEmpty(nil)
	for i := byte(0); i < 30; i++ {
		require.NoError(t, tr.Update(crypto.Keccak256([]byte{i}), []byte{i + 1}))
	}
	root := tr.Hash()
	missing := crypto.Keccak256([]byte("absent"))

	var list ProofList
	require.NoError(t, tr.Prove(missing, &list))
	require.NotEmpty(t, list)

	set, err := ProofSetFromList(list)
	require.NoError(t, err)
	val, err := VerifyProof(root, missing, set)
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestProofSmallTrie(t *testing.T) {
	// A root smaller than 32 bytes is still keyed by its hash.
	tr := NewEmpty(nil)
	require.NoError(t, tr.Update([]byte{0x01}, []byte{0x02}))
	root := tr.Hash()

	proof := make(ProofSet)
	require.NoError(t, tr.Prove([]byte{0x01}, proof))
	require.Len(t, proof, 1)
	val, err := VerifyProof(root, []byte{0x01}, proof)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, val)
}

func TestProofTampered(t *testing.T) {
	tr := NewEmpty(nil)
	for i := byte(0); i < 50; i++ {
		require.NoError(t, tr.Update(crypto.Keccak256([]byte{i}), common.LeftPadBytes([]byte{i}, 32)))
	}
	root := tr.Hash()
	key := crypto.Keccak256([]byte{7})

	var list ProofList
	require.NoError(t, tr.Prove(key, &list))
	set, err := ProofSetFromList(list[:len(list)-1])
	require.NoError(t, err)
	_, err = VerifyProof(root, key, set)
	require.Error(t, err)

	_, err = VerifyProof(common.Hash{0xff}, key, set)
	require.Error(t, err)
}
