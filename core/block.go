package core

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/moved-network/hostevm/storage"
)

// Block is a header and the host transactions it carries.
type Block struct {
	Header *types.Header
	Txs    []*HostTx
}

// Number returns the block height.
func (b *Block) Number() uint64 { return b.Header.Number.Uint64() }

// Hash returns the header hash. It is only final once the block is sealed.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// HostTxs implements types.DerivableList for the transaction root.
type HostTxs []*HostTx

func (s HostTxs) Len() int { return len(s) }

func (s HostTxs) EncodeIndex(i int, w *bytes.Buffer) {
	rlp.Encode(w, s[i].Hash())
}

// newHeader returns the unsealed header of the child of parent.
func newHeader(parent *types.Header, coinbase common.Address, time uint64) *types.Header {
	return &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   coinbase,
		Difficulty: new(big.Int),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   parent.GasLimit,
		Time:       time,
		BaseFee:    parent.BaseFee,
	}
}

// ReadHeader loads the header of block number from db.
func ReadHeader(db storage.KeyValueReader, number uint64) (*types.Header, error) {
	enc, err := db.Get(storage.HeaderKey(number))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("header %d: %w", number, err)
		}
		return nil, err
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, fmt.Errorf("invalid header %d: %w", number, err)
	}
	return header, nil
}

// ReadBlockHash returns the hash of block number, or the zero hash.
func ReadBlockHash(db storage.KeyValueReader, number uint64) common.Hash {
	enc, err := db.Get(storage.BlockHashKey(number))
	if err != nil {
		return common.Hash{}
	}
	return common.BytesToHash(enc)
}

// writeBlock stores a sealed header and its hash.
func writeBlock(db storage.KeyValueStore, header *types.Header) error {
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	number := header.Number.Uint64()
	batch := db.NewBatch()
	if err := batch.Put(storage.HeaderKey(number), enc); err != nil {
		return err
	}
	if err := batch.Put(storage.BlockHashKey(number), header.Hash().Bytes()); err != nil {
		return err
	}
	return batch.Write()
}
