package trie

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofWriter receives proof nodes keyed by their hash, in root-to-leaf
// order. go-ethereum's memorydb satisfies it.
type ProofWriter interface {
	Put(key []byte, value []byte) error
}

// ProofReader looks proof nodes up by hash.
type ProofReader interface {
	Get(key []byte) ([]byte, error)
}

// Prove constructs a merkle proof for key. The result contains all encoded
// nodes on the path to the value at key. The value itself is also included
// in the last node and can be retrieved by verifying the proof.
//
// If the trie does not contain a value for key, the returned proof contains
// all nodes of the longest existing prefix of the key (at least the root
// node), ending with the node that proves the absence of the key.
func (t *Trie) Prove(key []byte, proofDb ProofWriter) error {
	var (
		prefix []byte
		nodes  []node
		tn     = t.root
	)
	key = keybytesToHex(key)
	for len(key) > 0 && tn != nil {
		switch n := tn.(type) {
		case *shortNode:
			if !bytes.HasPrefix(key, n.Key) {
				// The trie doesn't contain the key.
				tn = nil
			} else {
				tn = n.Val
				prefix = append(prefix, n.Key...)
				key = key[len(n.Key):]
			}
			nodes = append(nodes, n)
		case *fullNode:
			tn = n.Children[key[0]]
			prefix = append(prefix, key[0])
			key = key[1:]
			nodes = append(nodes, n)
		case hashNode:
			resolved, err := t.resolveAndTrack(n, prefix)
			if err != nil {
				return err
			}
			tn = resolved
		case valueNode:
			tn = nil
		default:
			panic(fmt.Sprintf("%T: invalid node: %v", tn, tn))
		}
	}
	hasher := newHasher()
	defer returnHasherToPool(hasher)

	for i, n := range nodes {
		var hn node
		n, hn = hasher.proofHash(n)
		if hash, ok := hn.(hashNode); ok || i == 0 {
			// If the node's database encoding is a hash (or is the
			// root node), it becomes a proof element.
			enc := encodeNode(n)
			if !ok {
				hash = hasher.hashData(enc)
			}
			if err := proofDb.Put(hash, enc); err != nil {
				return err
			}
		}
	}
	return nil
}

// VerifyProof checks a merkle proof. The given proof must contain the value
// for key in a trie with the given root hash. VerifyProof returns an error if
// the proof contains invalid trie nodes or the wrong value. A nil value with
// a nil error is a valid proof of absence.
func VerifyProof(rootHash common.Hash, key []byte, proofDb ProofReader) (value []byte, err error) {
	key = keybytesToHex(key)
	wantHash := rootHash
	for i := 0; ; i++ {
		buf, _ := proofDb.Get(wantHash[:])
		if buf == nil {
			return nil, fmt.Errorf("proof node %d (hash %064x) missing", i, wantHash)
		}
		n, err := decodeNode(wantHash[:], buf)
		if err != nil {
			return nil, fmt.Errorf("bad proof node %d: %v", i, err)
		}
		keyrest, cld := get(n, key, true)
		switch cld := cld.(type) {
		case nil:
			// The trie doesn't contain the key.
			return nil, nil
		case hashNode:
			key = keyrest
			copy(wantHash[:], cld)
		case valueNode:
			return cld, nil
		}
	}
}

// get returns the child of the given node. Return nil if the node with
// specified key doesn't exist at all.
func get(tn node, key []byte, skipResolved bool) ([]byte, node) {
	for {
		switch n := tn.(type) {
		case *shortNode:
			if !bytes.HasPrefix(key, n.Key) {
				return nil, nil
			}
			tn = n.Val
			key = key[len(n.Key):]
			if !skipResolved {
				return key, tn
			}
		case *fullNode:
			tn = n.Children[key[0]]
			key = key[1:]
			if !skipResolved {
				return key, tn
			}
		case hashNode:
			return key, n
		case nil:
			return key, nil
		case valueNode:
			return nil, n
		default:
			panic(fmt.Sprintf("%T: invalid node: %v", tn, tn))
		}
	}
}

// ProofList collects proof nodes in order, as the hex strings served by
// eth_getProof.
type ProofList []string

func (n *ProofList) Put(key []byte, value []byte) error {
	*n = append(*n, hexutil.Encode(value))
	return nil
}

// ProofSet is an in-memory ProofReader/ProofWriter keyed by node hash.
type ProofSet map[string][]byte

func (s ProofSet) Put(key []byte, value []byte) error {
	s[string(key)] = common.CopyBytes(value)
	return nil
}

func (s ProofSet) Get(key []byte) ([]byte, error) {
	if v, ok := s[string(key)]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("proof node %x not found", key)
}

// ProofSetFromList rebuilds a keyed proof set from a hex proof list.
func ProofSetFromList(list []string) (ProofSet, error) {
	set := make(ProofSet, len(list))
	hasher := newHasher()
	defer returnHasherToPool(hasher)
	for i, item := range list {
		enc, err := hexutil.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("proof item %d: %v", i, err)
		}
		set[string(hasher.hashData(enc))] = enc
	}
	return set, nil
}
