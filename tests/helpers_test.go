package tests

import (
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core"
	"github.com/moved-network/hostevm/core/vm"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/storage"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))
}

const stepGas = 200_000

var (
	aliceID  = addrcodec.ToHost(common.HexToAddress("0x00000000000000000000000000000000000a11ce"))
	alice    = addrcodec.ToGuest(aliceID)
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	coinbase = common.HexToAddress("0x000000000000000000000000000000000000c0ff")
)

// testChain wraps a chain with helpers to run host programs block by block.
type testChain struct {
	t     *testing.T
	chain *core.Chain
	time  uint64
}

func newTestChain(t *testing.T, config *evmbridge.Config, cc *params.ChainConfig, alloc types.GenesisAlloc) *testChain {
	t.Helper()
	bridge, err := evmbridge.New(config)
	require.NoError(t, err)
	if cc == nil {
		cc = vm.ChainConfig(404, vm.SpecLatest)
	}
	genesis := core.DefaultGenesis()
	genesis.Alloc = types.GenesisAlloc{alice: {Balance: big.NewInt(1_000_000_000)}}
	for addr, account := range alloc {
		genesis.Alloc[addr] = account
	}
	chain, err := core.NewChain(storage.NewMemory(), cc, genesis, bridge, nil)
	require.NoError(t, err)
	return &testChain{t: t, chain: chain}
}

// run seals one block holding txs and requires all of them to be included.
func (c *testChain) run(txs ...*core.HostTx) (*core.Block, types.Receipts) {
	c.t.Helper()
	c.time += 12
	block, receipts, leftover, err := c.chain.BuildBlock(coinbase, c.time, txs)
	require.NoError(c.t, err)
	require.Empty(c.t, leftover)
	require.Len(c.t, block.Txs, len(txs))
	return block, receipts
}

// simulate executes tx on top of the head without committing it.
func (c *testChain) simulate(tx *core.HostTx) *core.ExecutionResult {
	c.t.Helper()
	_, res, err := c.chain.Call(tx)
	require.NoError(c.t, err)
	return res
}

func (c *testChain) account(addr common.Address) *types.StateAccount {
	c.t.Helper()
	reader, err := c.chain.StateTrie().Reader()
	require.NoError(c.t, err)
	acct, err := reader.Account(addr)
	require.NoError(c.t, err)
	return acct
}

func (c *testChain) balance(addr common.Address) uint64 {
	c.t.Helper()
	acct := c.account(addr)
	if acct == nil {
		return 0
	}
	return acct.Balance.Uint64()
}

func (c *testChain) storage(addr common.Address, slot common.Hash) common.Hash {
	c.t.Helper()
	reader, err := c.chain.StateTrie().Reader()
	require.NoError(c.t, err)
	value, err := reader.Storage(addr, slot)
	require.NoError(c.t, err)
	return value
}

// deploy creates runtime from alice and returns its address.
func (c *testChain) deploy(runtime []byte) common.Address {
	c.t.Helper()
	_, receipts := c.run(program(create(Initcode(runtime)).must()))
	require.Equal(c.t, types.ReceiptStatusSuccessful, receipts[0].Status)
	require.NotEqual(c.t, common.Address{}, receipts[0].ContractAddress)
	return receipts[0].ContractAddress
}

// stepBuilder assembles host program steps.
type stepBuilder struct{ core.Step }

func call(target common.Address, value uint64, input []byte) *stepBuilder {
	return &stepBuilder{core.Step{Invocation: evmbridge.Invocation{
		Op:       evmbridge.OpCall,
		Caller:   aliceID,
		Target:   target,
		Value:    uint256.NewInt(value),
		Input:    input,
		GasLimit: stepGas,
	}}}
}

func view(target common.Address, input []byte) *stepBuilder {
	s := call(target, 0, input)
	s.Op = evmbridge.OpStaticView
	s.Value = nil
	return s
}

func create(initcode []byte) *stepBuilder {
	s := call(common.Address{}, 0, initcode)
	s.Op = evmbridge.OpCreate
	return s
}

func emit(ref int) *stepBuilder {
	return &stepBuilder{core.Step{Invocation: evmbridge.Invocation{Op: evmbridge.OpEmitLogs}, ResultOf: ref}}
}

func (s *stepBuilder) gas(limit uint64) *stepBuilder {
	s.GasLimit = limit
	return s
}

func (s *stepBuilder) must() *stepBuilder {
	s.Require = true
	return s
}

func program(steps ...*stepBuilder) *core.HostTx {
	tx := &core.HostTx{Sender: aliceID, GasLimit: 2_000_000, GasPrice: new(uint256.Int)}
	for _, s := range steps {
		tx.Program = append(tx.Program, s.Step)
	}
	return tx
}

func calldata(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func word(n int64) []byte {
	return common.BigToHash(big.NewInt(n)).Bytes()
}
