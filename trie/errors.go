package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTrieCorruption matches every CorruptionError. A corrupted commitment
// cannot be recovered in-process.
var ErrTrieCorruption = errors.New("trie corruption")

// MissingNodeError is returned when a node referenced by hash is absent from
// the database.
type MissingNodeError struct {
	Owner    common.Hash // owner of the trie, zero for the account trie
	NodeHash common.Hash
	Path     []byte // hex path to the node
	err      error
}

func (err *MissingNodeError) Unwrap() error { return err.err }

func (err *MissingNodeError) Error() string {
	if err.Owner == (common.Hash{}) {
		return fmt.Sprintf("missing trie node %x (path %x) %v", err.NodeHash, err.Path, err.err)
	}
	return fmt.Sprintf("missing trie node %x (owner %x) (path %x) %v", err.NodeHash, err.Owner, err.Path, err.err)
}

// CorruptionError reports a node whose content doesn't match its hash or
// can't be decoded.
type CorruptionError struct {
	Owner    common.Hash
	NodeHash common.Hash
	Reason   string
}

func (err *CorruptionError) Error() string {
	return fmt.Sprintf("trie corruption at node %x (owner %x): %s", err.NodeHash, err.Owner, err.Reason)
}

func (err *CorruptionError) Is(target error) bool { return target == ErrTrieCorruption }
