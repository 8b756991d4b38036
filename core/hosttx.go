package core

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"golang.org/x/crypto/sha3"
)

// Step is one native operation of a host program.
type Step struct {
	evmbridge.Invocation

	// InputFrom, when non-zero, is the 1-based index of an earlier
	// encode_call_data step whose output replaces Input.
	InputFrom int
	// ResultOf, when non-zero, is the 1-based index of an earlier call,
	// static_view or create step whose result is inspected or emitted.
	ResultOf int
	// Require aborts the transaction when the step's call fails or its
	// is_success check answers false.
	Require bool
}

// HostTx is a host transaction: a program of native operations run on behalf
// of Sender. GasLimit and GasPrice are in host gas units. A transaction must
// not be modified once its hash has been taken.
type HostTx struct {
	Sender   addrcodec.HostID
	GasLimit uint64
	GasPrice *uint256.Int
	Program  []Step

	hash atomic.Pointer[common.Hash]
}

// Cost returns the upfront payment for the gas limit and whether it
// overflowed.
func (tx *HostTx) Cost() (*uint256.Int, bool) {
	return new(uint256.Int).MulOverflow(uint256.NewInt(tx.GasLimit), tx.price())
}

func (tx *HostTx) price() *uint256.Int {
	if tx.GasPrice == nil {
		return new(uint256.Int)
	}
	return tx.GasPrice
}

type stepRLP struct {
	Op        uint64
	Caller    addrcodec.HostID
	Target    common.Address
	Value     *uint256.Int
	Input     []byte
	GasLimit  uint64
	Method    string
	Selector  evmbridge.Selector
	Args      []string
	InputFrom uint64
	ResultOf  uint64
	Require   bool
}

type txRLP struct {
	Sender   addrcodec.HostID
	GasLimit uint64
	GasPrice *uint256.Int
	Program  []stepRLP
}

// Hash returns the keccak256 hash of the RLP encoding of tx. Call arguments
// are hashed by their printed form.
func (tx *HostTx) Hash() common.Hash {
	if hash := tx.hash.Load(); hash != nil {
		return *hash
	}
	h := tx.computeHash()
	tx.hash.Store(&h)
	return h
}

func (tx *HostTx) computeHash() common.Hash {
	enc := txRLP{
		Sender:   tx.Sender,
		GasLimit: tx.GasLimit,
		GasPrice: tx.price(),
		Program:  make([]stepRLP, len(tx.Program)),
	}
	for i, s := range tx.Program {
		value := s.Value
		if value == nil {
			value = new(uint256.Int)
		}
		args := make([]string, len(s.Args))
		for j, arg := range s.Args {
			args[j] = fmt.Sprintf("%s:%v", arg.Type, arg.Value)
		}
		enc.Program[i] = stepRLP{
			Op:        uint64(s.Op),
			Caller:    s.Caller,
			Target:    s.Target,
			Value:     value,
			Input:     s.Input,
			GasLimit:  s.Invocation.GasLimit,
			Method:    s.Method,
			Selector:  s.Selector,
			Args:      args,
			InputFrom: uint64(s.InputFrom),
			ResultOf:  uint64(s.ResultOf),
			Require:   s.Require,
		}
	}
	return rlpHash(enc)
}

func rlpHash(x interface{}) (h common.Hash) {
	sha := sha3.NewLegacyKeccak256()
	rlp.Encode(sha, x)
	sha.Sum(h[:0])
	return h
}
