// Package trie implements the Merkle Patricia trie that commits accounts and
// account storage, with the hashing and encoding rules of the guest chain.
package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Trie is a Merkle Patricia trie. Nodes are loaded lazily from the database
// when first touched. A Trie is not safe for concurrent use.
type Trie struct {
	root  node
	owner common.Hash
	db    *Database

	// unhashed counts leaves inserted since the last hash operation.
	unhashed int
}

func (t *Trie) newFlag() nodeFlag {
	return nodeFlag{dirty: true}
}

// New opens the trie with the given root. An empty or zero root yields an
// empty trie. db may be nil for a purely in-memory trie that is never
// committed.
func New(owner common.Hash, root common.Hash, db *Database) (*Trie, error) {
	t := &Trie{owner: owner, db: db}
	if root != (common.Hash{}) && root != types.EmptyRootHash {
		rootnode, err := t.resolveAndTrack(root[:], nil)
		if err != nil {
			return nil, err
		}
		t.root = rootnode
	}
	return t, nil
}

// NewEmpty is a shortcut for an empty trie over db.
func NewEmpty(db *Database) *Trie {
	t, _ := New(common.Hash{}, types.EmptyRootHash, db)
	return t
}

// Copy returns a copy of the trie sharing the immutable node structure.
func (t *Trie) Copy() *Trie {
	return &Trie{root: t.root, owner: t.owner, db: t.db, unhashed: t.unhashed}
}

// Owner returns the account hash owning this trie, zero for the account trie.
func (t *Trie) Owner() common.Hash { return t.owner }

// Get returns the value stored under key, or nil if absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	value, newroot, didResolve, err := t.get(t.root, keybytesToHex(key), 0)
	if err == nil && didResolve {
		t.root = newroot
	}
	return value, err
}

func (t *Trie) get(origNode node, key []byte, pos int) (value []byte, newnode node, didResolve bool, err error) {
	switch n := (origNode).(type) {
	case nil:
		return nil, nil, false, nil
	case valueNode:
		return n, n, false, nil
	case *shortNode:
		if len(key)-pos < len(n.Key) || !bytes.Equal(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, n, false, nil
		}
		value, newnode, didResolve, err = t.get(n.Val, key, pos+len(n.Key))
		if err == nil && didResolve {
			n = n.copy()
			n.Val = newnode
		}
		return value, n, didResolve, err
	case *fullNode:
		value, newnode, didResolve, err = t.get(n.Children[key[pos]], key, pos+1)
		if err == nil && didResolve {
			n = n.copy()
			n.Children[key[pos]] = newnode
		}
		return value, n, didResolve, err
	case hashNode:
		child, err := t.resolveAndTrack(n, key[:pos])
		if err != nil {
			return nil, n, true, err
		}
		value, newnode, _, err := t.get(child, key, pos)
		return value, newnode, true, err
	default:
		panic(fmt.Sprintf("%T: invalid node: %v", origNode, origNode))
	}
}

// Update associates key with value. An empty value deletes the key.
func (t *Trie) Update(key, value []byte) error {
	t.unhashed++
	k := keybytesToHex(key)
	if len(value) != 0 {
		_, n, err := t.insert(t.root, nil, k, valueNode(value))
		if err != nil {
			return err
		}
		t.root = n
	} else {
		_, n, err := t.delete(t.root, nil, k)
		if err != nil {
			return err
		}
		t.root = n
	}
	return nil
}

// Delete removes key from the trie. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	t.unhashed++
	_, n, err := t.delete(t.root, nil, keybytesToHex(key))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) insert(n node, prefix, key []byte, value node) (bool, node, error) {
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok {
			return !bytes.Equal(v, value.(valueNode)), value, nil
		}
		return true, value, nil
	}
	switch n := n.(type) {
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		// The whole key matches: keep this short node and descend.
		if matchlen == len(n.Key) {
			dirty, nn, err := t.insert(n.Val, append(prefix, key[:matchlen]...), key[matchlen:], value)
			if !dirty || err != nil {
				return false, n, err
			}
			return true, &shortNode{n.Key, nn, t.newFlag()}, nil
		}
		// Otherwise branch out at the index where they differ.
		branch := &fullNode{flags: t.newFlag()}
		var err error
		_, branch.Children[n.Key[matchlen]], err = t.insert(nil, append(prefix, n.Key[:matchlen+1]...), n.Key[matchlen+1:], n.Val)
		if err != nil {
			return false, nil, err
		}
		_, branch.Children[key[matchlen]], err = t.insert(nil, append(prefix, key[:matchlen+1]...), key[matchlen+1:], value)
		if err != nil {
			return false, nil, err
		}
		if matchlen == 0 {
			return true, branch, nil
		}
		return true, &shortNode{key[:matchlen], branch, t.newFlag()}, nil

	case *fullNode:
		dirty, nn, err := t.insert(n.Children[key[0]], append(prefix, key[0]), key[1:], value)
		if !dirty || err != nil {
			return false, n, err
		}
		n = n.copy()
		n.flags = t.newFlag()
		n.Children[key[0]] = nn
		return true, n, nil

	case nil:
		return true, &shortNode{key, value, t.newFlag()}, nil

	case hashNode:
		rn, err := t.resolveAndTrack(n, prefix)
		if err != nil {
			return false, nil, err
		}
		dirty, nn, err := t.insert(rn, prefix, key, value)
		if !dirty || err != nil {
			return false, rn, err
		}
		return true, nn, nil

	default:
		panic(fmt.Sprintf("%T: invalid node: %v", n, n))
	}
}

// delete returns the new root of the trie with key deleted. It reduces the
// trie to minimal form by simplifying nodes on the way up after deleting
// recursively.
func (t *Trie) delete(n node, prefix, key []byte) (bool, node, error) {
	switch n := n.(type) {
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen < len(n.Key) {
			return false, n, nil // don't replace n on mismatch
		}
		if matchlen == len(key) {
			return true, nil, nil // remove n entirely for whole matches
		}
		dirty, child, err := t.delete(n.Val, append(prefix, key[:len(n.Key)]...), key[len(n.Key):])
		if !dirty || err != nil {
			return false, n, err
		}
		switch child := child.(type) {
		case *shortNode:
			// Merge the two short nodes so no short node has a short node child.
			return true, &shortNode{concat(n.Key, child.Key...), child.Val, t.newFlag()}, nil
		default:
			return true, &shortNode{n.Key, child, t.newFlag()}, nil
		}

	case *fullNode:
		dirty, nn, err := t.delete(n.Children[key[0]], append(prefix, key[0]), key[1:])
		if !dirty || err != nil {
			return false, n, err
		}
		n = n.copy()
		n.flags = t.newFlag()
		n.Children[key[0]] = nn

		if nn != nil {
			return true, n, nil
		}
		// Reduce the full node to a short node if only one child is left.
		pos := -1
		for i, cld := range &n.Children {
			if cld != nil {
				if pos == -1 {
					pos = i
				} else {
					pos = -2
					break
				}
			}
		}
		if pos >= 0 {
			if pos != 16 {
				cnode, err := t.resolve(n.Children[pos], append(prefix, byte(pos)))
				if err != nil {
					return false, nil, err
				}
				if cnode, ok := cnode.(*shortNode); ok {
					k := append([]byte{byte(pos)}, cnode.Key...)
					return true, &shortNode{k, cnode.Val, t.newFlag()}, nil
				}
			}
			return true, &shortNode{[]byte{byte(pos)}, n.Children[pos], t.newFlag()}, nil
		}
		return true, n, nil

	case valueNode:
		return true, nil, nil

	case nil:
		return false, nil, nil

	case hashNode:
		rn, err := t.resolveAndTrack(n, prefix)
		if err != nil {
			return false, nil, err
		}
		dirty, nn, err := t.delete(rn, prefix, key)
		if !dirty || err != nil {
			return false, rn, err
		}
		return true, nn, nil

	default:
		panic(fmt.Sprintf("%T: invalid node: %v (%v)", n, n, key))
	}
}

func concat(s1 []byte, s2 ...byte) []byte {
	r := make([]byte, len(s1)+len(s2))
	copy(r, s1)
	copy(r[len(s1):], s2)
	return r
}

func (t *Trie) resolve(n node, prefix []byte) (node, error) {
	if n, ok := n.(hashNode); ok {
		return t.resolveAndTrack(n, prefix)
	}
	return n, nil
}

// resolveAndTrack loads a node from the database. Decode failures of stored
// nodes are reported as corruption.
func (t *Trie) resolveAndTrack(n hashNode, prefix []byte) (node, error) {
	hash := common.BytesToHash(n)
	if t.db == nil {
		return nil, &MissingNodeError{Owner: t.owner, NodeHash: hash, Path: prefix, err: errors.New("no database")}
	}
	blob, err := t.db.Node(t.owner, hash)
	if err != nil {
		if merr, ok := err.(*MissingNodeError); ok {
			merr.Path = common.CopyBytes(prefix)
		}
		return nil, err
	}
	dec, err := decodeNode(n, blob)
	if err != nil {
		return nil, &CorruptionError{Owner: t.owner, NodeHash: hash, Reason: err.Error()}
	}
	return dec, nil
}

// Hash returns the root hash of the trie. It does not write to the database
// and can be used even if the trie has no database.
func (t *Trie) Hash() common.Hash {
	hash, cached := t.hashRoot()
	t.root = cached
	return common.BytesToHash(hash.(hashNode))
}

func (t *Trie) hashRoot() (node, node) {
	if t.root == nil {
		return hashNode(types.EmptyRootHash.Bytes()), nil
	}
	h := newHasher()
	defer func() {
		returnHasherToPool(h)
		t.unhashed = 0
	}()
	hashed, cached := h.hash(t.root, true)
	return hashed, cached
}

// Commit collects all dirty nodes into a node set and returns the root hash.
// The returned set must be written with Database.Update before the trie is
// used again: the in-memory structure is replaced by a reference to the root.
func (t *Trie) Commit() (common.Hash, *NodeSet) {
	if t.root == nil {
		return types.EmptyRootHash, nil
	}
	rootHash := t.Hash()

	// Nothing changed since the root was loaded.
	if hashedNode, dirty := t.root.cache(); !dirty {
		t.root = hashedNode
		return rootHash, nil
	}
	set := NewNodeSet(t.owner)
	c := &committer{nodes: set}
	t.root = c.commit(t.root)
	return rootHash, set
}

type committer struct {
	nodes *NodeSet
}

// commit collapses a node down into a hash node and records it in the set.
func (c *committer) commit(n node) node {
	hash, dirty := n.cache()
	if hash != nil && !dirty {
		return hash
	}
	switch cn := n.(type) {
	case *shortNode:
		collapsed := cn.copy()
		if _, ok := cn.Val.(*fullNode); ok {
			collapsed.Val = c.commit(cn.Val)
		} else if _, ok := cn.Val.(*shortNode); ok {
			collapsed.Val = c.commit(cn.Val)
		}
		collapsed.Key = hexToCompact(cn.Key)
		return c.store(collapsed, hash)
	case *fullNode:
		collapsed := cn.copy()
		for i := 0; i < 16; i++ {
			if child := cn.Children[i]; child != nil {
				collapsed.Children[i] = c.commit(child)
			}
		}
		return c.store(collapsed, hash)
	case hashNode:
		return cn
	default:
		panic(fmt.Sprintf("invalid node type: %T", n))
	}
}

// store records the collapsed node under its hash. Embedded nodes (no hash)
// are returned as is and live inside their parent's encoding.
func (c *committer) store(n node, hash hashNode) node {
	if hash == nil {
		return n
	}
	c.nodes.add(common.BytesToHash(hash), encodeNode(n))
	return hash
}
