package integration_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core"
	"github.com/moved-network/hostevm/core/vm"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/storage"
	"github.com/stretchr/testify/require"
)

var (
	senderID = addrcodec.ToHost(common.HexToAddress("0x0000000000000000000000000000000000005e4d"))
	sender   = addrcodec.ToGuest(senderID)
	receiver = common.HexToAddress("0x0D3ab14BBaD3D99F4203bd7a11aCB94882050E7e")
	coinbase = common.HexToAddress("0x000000000000000000000000000000000000c0ff")
)

func newChain(t *testing.T, db storage.KeyValueStore, alloc types.GenesisAlloc) *core.Chain {
	t.Helper()
	if db == nil {
		db = storage.NewMemory()
	}
	genesis := core.DefaultGenesis()
	genesis.BaseFee = nil
	genesis.Alloc = types.GenesisAlloc{sender: {Balance: big.NewInt(1e18)}}
	for addr, account := range alloc {
		genesis.Alloc[addr] = account
	}
	bridge, err := evmbridge.New(nil)
	require.NoError(t, err)
	chain, err := core.NewChain(db, vm.ChainConfig(404, vm.SpecLatest), genesis, bridge, nil)
	require.NoError(t, err)
	return chain
}

func hostTx(price uint64, invs ...evmbridge.Invocation) *core.HostTx {
	tx := &core.HostTx{Sender: senderID, GasLimit: 3_000_000, GasPrice: uint256.NewInt(price)}
	for _, inv := range invs {
		tx.Program = append(tx.Program, core.Step{Invocation: inv, Require: true})
	}
	return tx
}

func callInv(to common.Address, value uint64, input []byte) evmbridge.Invocation {
	return evmbridge.Invocation{
		Op:       evmbridge.OpCall,
		Caller:   senderID,
		Target:   to,
		Value:    uint256.NewInt(value),
		Input:    input,
		GasLimit: 500_000,
	}
}

func createInv(initcode []byte) evmbridge.Invocation {
	inv := callInv(common.Address{}, 0, initcode)
	inv.Op = evmbridge.OpCreate
	return inv
}

func sig(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func mustBuild(t *testing.T, chain *core.Chain, time uint64, txs ...*core.HostTx) (*core.Block, types.Receipts) {
	t.Helper()
	block, receipts, leftover, err := chain.BuildBlock(coinbase, time, txs)
	require.NoError(t, err)
	require.Empty(t, leftover)
	require.Len(t, block.Txs, len(txs))
	for i, r := range receipts {
		require.Equal(t, types.ReceiptStatusSuccessful, r.Status, "tx %d", i)
	}
	return block, receipts
}
