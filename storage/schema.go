package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes. Trie nodes are stored under their bare 32-byte hash.
var (
	codePrefix      = []byte("c") // codePrefix + code hash -> contract code
	stateRootPrefix = []byte("r") // stateRootPrefix + num (uint64 big endian) -> state root
	blockHashPrefix = []byte("b") // blockHashPrefix + num (uint64 big endian) -> block hash
	headerPrefix    = []byte("h") // headerPrefix + num (uint64 big endian) -> header rlp
	headKey         = []byte("LastBlock")
)

func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// CodeKey = codePrefix + hash
func CodeKey(hash common.Hash) []byte {
	return append(append([]byte{}, codePrefix...), hash.Bytes()...)
}

// StateRootKey = stateRootPrefix + num
func StateRootKey(number uint64) []byte {
	return append(append([]byte{}, stateRootPrefix...), encodeBlockNumber(number)...)
}

// BlockHashKey = blockHashPrefix + num
func BlockHashKey(number uint64) []byte {
	return append(append([]byte{}, blockHashPrefix...), encodeBlockNumber(number)...)
}

// HeaderKey = headerPrefix + num
func HeaderKey(number uint64) []byte {
	return append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...)
}

// HeadKey tracks the number of the latest committed block.
func HeadKey() []byte { return headKey }

// ReadHead returns the latest committed block number, if any.
func ReadHead(db KeyValueReader) (uint64, bool) {
	data, err := db.Get(headKey)
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// WriteHead stores the latest committed block number.
func WriteHead(db KeyValueWriter, number uint64) error {
	return db.Put(headKey, encodeBlockNumber(number))
}
