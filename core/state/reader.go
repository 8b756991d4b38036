package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/trie"
)

// Reader is a read-only view of the committed state at a fixed root. It is
// safe for concurrent use and stays valid after later blocks are applied.
type Reader struct {
	root common.Hash
	db   *trie.Database

	mu       sync.Mutex
	accounts *trie.Trie
	storages map[common.Address]*trie.Trie
}

// NewReader opens a reader for the given state root.
func NewReader(db *trie.Database, root common.Hash) (*Reader, error) {
	tr, err := trie.New(common.Hash{}, root, db)
	if err != nil {
		return nil, asCorruption(err)
	}
	return &Reader{
		root:     root,
		db:       db,
		accounts: tr,
		storages: make(map[common.Address]*trie.Trie),
	}, nil
}

// Root returns the state root the reader is pinned to.
func (r *Reader) Root() common.Hash { return r.root }

// Account returns the committed account, or nil if it does not exist.
func (r *Reader) Account(addr common.Address) (*types.StateAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account(addr)
}

func (r *Reader) account(addr common.Address) (*types.StateAccount, error) {
	enc, err := r.accounts.Get(crypto.Keccak256(addr.Bytes()))
	if err != nil {
		return nil, asCorruption(err)
	}
	if len(enc) == 0 {
		return nil, nil
	}
	return decodeAccount(enc)
}

// Storage returns the committed value of a slot. Unset slots read as zero.
func (r *Reader) Storage(addr common.Address, key common.Hash) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.storages[addr]
	if !ok {
		acct, err := r.account(addr)
		if err != nil {
			return common.Hash{}, err
		}
		if acct == nil {
			return common.Hash{}, nil
		}
		tr, err = trie.New(crypto.Keccak256Hash(addr.Bytes()), acct.Root, r.db)
		if err != nil {
			return common.Hash{}, asCorruption(err)
		}
		r.storages[addr] = tr
	}
	enc, err := tr.Get(crypto.Keccak256(key.Bytes()))
	if err != nil {
		return common.Hash{}, asCorruption(err)
	}
	return decodeSlot(enc)
}

// Code returns the code stored under codeHash.
func (r *Reader) Code(codeHash common.Hash) ([]byte, error) {
	return ReadCode(r.db.Disk(), codeHash)
}

// ReadCode loads contract code by hash. The empty code hash yields nil.
func ReadCode(db storage.KeyValueReader, codeHash common.Hash) ([]byte, error) {
	if codeHash == types.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	code, err := db.Get(storage.CodeKey(codeHash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &trie.CorruptionError{NodeHash: codeHash, Reason: "missing contract code"}
		}
		return nil, err
	}
	return code, nil
}

func decodeAccount(enc []byte) (*types.StateAccount, error) {
	acct := new(types.StateAccount)
	if err := rlp.DecodeBytes(enc, acct); err != nil {
		return nil, &trie.CorruptionError{Reason: fmt.Sprintf("invalid account record: %v", err)}
	}
	return acct, nil
}

// encodeSlot returns the trie value for a storage slot: the RLP string of
// the value with leading zeros trimmed. A zero value encodes to nil.
func encodeSlot(value common.Hash) []byte {
	trimmed := common.TrimLeftZeroes(value[:])
	if len(trimmed) == 0 {
		return nil
	}
	enc, _ := rlp.EncodeToBytes(trimmed)
	return enc
}

func decodeSlot(enc []byte) (common.Hash, error) {
	if len(enc) == 0 {
		return common.Hash{}, nil
	}
	_, content, _, err := rlp.Split(enc)
	if err != nil {
		return common.Hash{}, &trie.CorruptionError{Reason: fmt.Sprintf("invalid storage value: %v", err)}
	}
	return common.BytesToHash(content), nil
}

// asCorruption reports missing committed nodes as corruption: a committed
// root must always be fully resolvable.
func asCorruption(err error) error {
	var missing *trie.MissingNodeError
	if errors.As(err, &missing) {
		return &trie.CorruptionError{Owner: missing.Owner, NodeHash: missing.NodeHash, Reason: "missing node"}
	}
	return err
}
