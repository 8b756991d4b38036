package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moved-network/hostevm/trie"
)

// ErrAddressOutsideRange is returned when a proof is requested for an address
// outside the configured proof range.
var ErrAddressOutsideRange = errors.New("address outside proof range")

// StorageResult is one storage slot proof in eth_getProof format.
type StorageResult struct {
	Key   string       `json:"key"`
	Value *hexutil.Big `json:"value"`
	Proof []string     `json:"proof"`
}

// AccountResult is an account proof in eth_getProof format.
type AccountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []string        `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

// Prove returns the proof of addr and the given storage keys against the
// current root.
func (s *StateTrie) Prove(addr common.Address, keys []common.Hash) (*AccountResult, error) {
	s.lock.RLock()
	root, pr := s.root, s.proofRange
	s.lock.RUnlock()
	if pr != nil && !pr.Contains(addr) {
		return nil, fmt.Errorf("%w: %s", ErrAddressOutsideRange, addr)
	}
	return proveAt(s.db, root, addr, keys)
}

// ProveAt is like Prove but against the root recorded for height.
func (s *StateTrie) ProveAt(height uint64, addr common.Address, keys []common.Hash) (*AccountResult, error) {
	s.lock.RLock()
	pr := s.proofRange
	s.lock.RUnlock()
	if pr != nil && !pr.Contains(addr) {
		return nil, fmt.Errorf("%w: %s", ErrAddressOutsideRange, addr)
	}
	root, err := s.RootAt(height)
	if err != nil {
		return nil, err
	}
	return proveAt(s.db, root, addr, keys)
}

func proveAt(db *trie.Database, root common.Hash, addr common.Address, keys []common.Hash) (*AccountResult, error) {
	accounts, err := trie.New(common.Hash{}, root, db)
	if err != nil {
		return nil, asCorruption(err)
	}
	result := &AccountResult{
		Address:      addr,
		AccountProof: []string{},
		Balance:      (*hexutil.Big)(new(big.Int)),
		CodeHash:     types.EmptyCodeHash,
		StorageHash:  types.EmptyRootHash,
		StorageProof: make([]StorageResult, 0, len(keys)),
	}
	addrKey := crypto.Keccak256(addr.Bytes())
	var proof trie.ProofList
	if err := accounts.Prove(addrKey, &proof); err != nil {
		return nil, asCorruption(err)
	}
	result.AccountProof = proof

	enc, err := accounts.Get(addrKey)
	if err != nil {
		return nil, asCorruption(err)
	}
	var storageTrie *trie.Trie
	if len(enc) > 0 {
		acct, err := decodeAccount(enc)
		if err != nil {
			return nil, err
		}
		result.Balance = (*hexutil.Big)(acct.Balance.ToBig())
		result.CodeHash = common.BytesToHash(acct.CodeHash)
		result.Nonce = hexutil.Uint64(acct.Nonce)
		result.StorageHash = acct.Root
		if storageTrie, err = trie.New(crypto.Keccak256Hash(addr.Bytes()), acct.Root, db); err != nil {
			return nil, asCorruption(err)
		}
	}
	for _, key := range keys {
		sr := StorageResult{Key: key.Hex(), Value: (*hexutil.Big)(new(big.Int)), Proof: []string{}}
		if storageTrie != nil {
			slotKey := crypto.Keccak256(key.Bytes())
			var sp trie.ProofList
			if err := storageTrie.Prove(slotKey, &sp); err != nil {
				return nil, asCorruption(err)
			}
			sr.Proof = sp
			enc, err := storageTrie.Get(slotKey)
			if err != nil {
				return nil, asCorruption(err)
			}
			val, err := decodeSlot(enc)
			if err != nil {
				return nil, err
			}
			sr.Value = (*hexutil.Big)(val.Big())
		}
		result.StorageProof = append(result.StorageProof, sr)
	}
	return result, nil
}
