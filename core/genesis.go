package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core/state"
)

// DefaultGasLimit is the block gas limit used when the genesis sets none.
const DefaultGasLimit = 30_000_000

// Genesis specifies the header fields and the state of the genesis block.
type Genesis struct {
	Timestamp math.HexOrDecimal64   `json:"timestamp"`
	GasLimit  math.HexOrDecimal64   `json:"gasLimit"`
	BaseFee   *math.HexOrDecimal256 `json:"baseFeePerGas"`
	Coinbase  common.Address        `json:"coinbase"`
	Alloc     types.GenesisAlloc    `json:"alloc"`
}

// ReadGenesis decodes a genesis JSON file.
func ReadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	genesis := new(Genesis)
	if err := json.Unmarshal(data, genesis); err != nil {
		return nil, fmt.Errorf("invalid genesis file %s: %w", path, err)
	}
	return genesis, nil
}

// DefaultGenesis returns an empty genesis with the default gas limit.
func DefaultGenesis() *Genesis {
	return &Genesis{GasLimit: math.HexOrDecimal64(DefaultGasLimit), Alloc: types.GenesisAlloc{}}
}

// Overlays converts the allocation into account overlays for the genesis
// state, sorted by address.
func (g *Genesis) Overlays() ([]state.AccountOverlay, error) {
	overlays := make([]state.AccountOverlay, 0, len(g.Alloc))
	for addr, account := range g.Alloc {
		o := state.AccountOverlay{
			Address:  addr,
			Nonce:    account.Nonce,
			Balance:  new(uint256.Int),
			CodeHash: types.EmptyCodeHash,
		}
		if account.Balance != nil {
			balance, overflow := uint256.FromBig(account.Balance)
			if overflow || account.Balance.Sign() < 0 {
				return nil, fmt.Errorf("invalid genesis balance for %v: %v", addr, account.Balance)
			}
			o.Balance = balance
		}
		if len(account.Code) > 0 {
			o.Code = account.Code
			o.CodeHash = crypto.Keccak256Hash(account.Code)
		}
		if len(account.Storage) > 0 {
			o.Storage = make(map[common.Hash]common.Hash, len(account.Storage))
			for k, v := range account.Storage {
				o.Storage[k] = v
			}
		}
		overlays = append(overlays, o)
	}
	state.SortOverlays(overlays)
	return overlays, nil
}

// ToHeader returns the genesis header for the given state root.
func (g *Genesis) ToHeader(root common.Hash) *types.Header {
	head := &types.Header{
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    g.Coinbase,
		Root:        root,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  new(big.Int),
		Number:      new(big.Int),
		GasLimit:    uint64(g.GasLimit),
		Time:        uint64(g.Timestamp),
		BaseFee:     new(big.Int),
	}
	if g.GasLimit == 0 {
		head.GasLimit = DefaultGasLimit
	}
	if g.BaseFee != nil {
		head.BaseFee = (*big.Int)(g.BaseFee)
	}
	return head
}
