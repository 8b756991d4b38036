package trie

import (
	"hash"
	"sync"

	"golang.org/x/crypto/sha3"
)

// keccakState is the sha3 state with the extra Read method used to squeeze
// the digest without an allocation.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// hasher collapses trie nodes and computes their hashes. Nodes whose encoding
// is shorter than a hash are embedded in their parent instead of hashed.
type hasher struct {
	sha keccakState
	tmp []byte
}

var hasherPool = sync.Pool{
	New: func() interface{} {
		return &hasher{
			tmp: make([]byte, 0, 550), // cap is as large as a full fullNode
			sha: sha3.NewLegacyKeccak256().(keccakState),
		}
	},
}

func newHasher() *hasher {
	return hasherPool.Get().(*hasher)
}

func returnHasherToPool(h *hasher) {
	hasherPool.Put(h)
}

// hash collapses a node down into a hash node, also returning a copy of the
// original node initialized with the computed hash.
func (h *hasher) hash(n node, force bool) (hashed node, cached node) {
	if hash, _ := n.cache(); hash != nil {
		return hash, n
	}
	switch n := n.(type) {
	case *shortNode:
		collapsed, cached := h.hashShortNodeChildren(n)
		hashed := h.shortnodeToHash(collapsed, force)
		if hn, ok := hashed.(hashNode); ok {
			cached.flags.hash = hn
		} else {
			cached.flags.hash = nil
		}
		return hashed, cached
	case *fullNode:
		collapsed, cached := h.hashFullNodeChildren(n)
		hashed = h.fullnodeToHash(collapsed, force)
		if hn, ok := hashed.(hashNode); ok {
			cached.flags.hash = hn
		} else {
			cached.flags.hash = nil
		}
		return hashed, cached
	default:
		// value and hash nodes don't have children
		return n, n
	}
}

func (h *hasher) hashShortNodeChildren(n *shortNode) (collapsed, cached *shortNode) {
	collapsed, cached = n.copy(), n.copy()
	collapsed.Key = hexToCompact(n.Key)
	cached.Key = append([]byte(nil), n.Key...)
	switch n.Val.(type) {
	case *fullNode, *shortNode:
		collapsed.Val, cached.Val = h.hash(n.Val, false)
	}
	return collapsed, cached
}

func (h *hasher) hashFullNodeChildren(n *fullNode) (collapsed *fullNode, cached *fullNode) {
	cached = n.copy()
	collapsed = n.copy()
	for i := 0; i < 16; i++ {
		if child := n.Children[i]; child != nil {
			collapsed.Children[i], cached.Children[i] = h.hash(child, false)
		} else {
			collapsed.Children[i] = nil
		}
	}
	return collapsed, cached
}

// shortnodeToHash encodes a collapsed short node. If the encoding is smaller
// than 32 bytes and force is false, the node itself is returned for embedding.
func (h *hasher) shortnodeToHash(n *shortNode, force bool) node {
	enc := encodeNode(n)
	if len(enc) < 32 && !force {
		return n
	}
	return h.hashData(enc)
}

func (h *hasher) fullnodeToHash(n *fullNode, force bool) node {
	enc := encodeNode(n)
	if len(enc) < 32 && !force {
		return n
	}
	return h.hashData(enc)
}

// hashData hashes the provided data.
func (h *hasher) hashData(data []byte) hashNode {
	n := make(hashNode, 32)
	h.sha.Reset()
	h.sha.Write(data)
	h.sha.Read(n)
	return n
}

// proofHash is used to construct trie proofs. It returns the collapsed node
// (for later RLP encoding) as well as the hashed node, unless the node is
// smaller than 32 bytes, in which case it is returned as is.
func (h *hasher) proofHash(original node) (collapsed, hashed node) {
	switch n := original.(type) {
	case *shortNode:
		sn, _ := h.hashShortNodeChildren(n)
		return sn, h.shortnodeToHash(sn, false)
	case *fullNode:
		fn, _ := h.hashFullNodeChildren(n)
		return fn, h.fullnodeToHash(fn, false)
	default:
		return n, n
	}
}
