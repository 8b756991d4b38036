package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/moved-network/hostevm/core"
	"github.com/moved-network/hostevm/core/state"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var (
	heightFlag = &cli.Uint64Flag{
		Name:  "height",
		Usage: "Block height to prove against (default: head)",
	}
	predeploysFlag = &cli.BoolFlag{
		Name:  "predeploys",
		Usage: "Only serve proofs for the rollup system contract range",
	}

	genesisCommand = &cli.Command{
		Action:    showGenesis,
		Name:      "genesis",
		Usage:     "Initialise the state from a genesis file and print its accounts",
		ArgsUsage: "",
		Flags:     configFlags,
		Description: `
The genesis command commits the configured genesis allocation to an empty
database, or opens the existing chain, and prints the head state root along
with every genesis account as it reads in the committed state.`,
	}
	proofCommand = &cli.Command{
		Action:    showProof,
		Name:      "proof",
		Usage:     "Print the eth_getProof result of an account and storage slots",
		ArgsUsage: "<address> [slot...]",
		Flags:     append([]cli.Flag{heightFlag, predeploysFlag}, configFlags...),
	}
)

// fatal halts the process on errors that leave the node state unusable.
func fatal(err error) error {
	if err != nil && core.IsFatal(err) {
		log.Crit("Unrecoverable state error", "err", err)
	}
	return err
}

func showGenesis(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	genesis, err := cfg.genesis()
	if err != nil {
		return err
	}
	n, err := makeNode(&cfg, nil)
	if err != nil {
		return fatal(err)
	}
	defer n.Close()

	head := n.chain.Head()
	fmt.Printf("%s %d\n", color.New(color.Bold).Sprint("Height:"), head.Number)
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("Root:  "), color.GreenString(head.Root.Hex()))
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("Hash:  "), head.Hash().Hex())

	reader, err := n.chain.StateTrie().Reader()
	if err != nil {
		return fatal(err)
	}
	addrs := make([]common.Address, 0, len(genesis.Alloc))
	for addr := range genesis.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return fatal(printAccounts(os.Stdout, reader, addrs))
}

func printAccounts(w io.Writer, reader *state.Reader, addrs []common.Address) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Address", "Nonce", "Balance", "Code", "Storage root"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, addr := range addrs {
		acct, err := reader.Account(addr)
		if err != nil {
			return err
		}
		if acct == nil {
			table.Append([]string{addr.Hex(), "-", "-", "-", color.YellowString("missing")})
			continue
		}
		code, err := reader.Code(common.BytesToHash(acct.CodeHash))
		if err != nil {
			return err
		}
		table.Append([]string{
			addr.Hex(),
			strconv.FormatUint(acct.Nonce, 10),
			acct.Balance.Dec(),
			fmt.Sprintf("%d bytes", len(code)),
			acct.Root.TerminalString(),
		})
	}
	table.Render()
	return nil
}

func showProof(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("missing address argument")
	}
	if !common.IsHexAddress(ctx.Args().First()) {
		return fmt.Errorf("invalid address %q", ctx.Args().First())
	}
	addr := common.HexToAddress(ctx.Args().First())
	keys := make([]common.Hash, 0, ctx.NArg()-1)
	for _, arg := range ctx.Args().Tail() {
		key, err := parseSlot(arg)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	opts := new(core.Options)
	if ctx.Bool(predeploysFlag.Name) {
		opts.ProofRange = &state.L2PredeployRange
	}
	n, err := makeNode(&cfg, opts)
	if err != nil {
		return fatal(err)
	}
	defer n.Close()

	var result *state.AccountResult
	if ctx.IsSet(heightFlag.Name) {
		result, err = n.chain.StateTrie().ProveAt(ctx.Uint64(heightFlag.Name), addr, keys)
	} else {
		result, err = n.chain.StateTrie().Prove(addr, keys)
	}
	if err != nil {
		return fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseSlot accepts a slot as a hex word or a decimal index.
func parseSlot(s string) (common.Hash, error) {
	if len(s) > 1 && (s[:2] == "0x" || s[:2] == "0X") {
		if len(s) > 66 {
			return common.Hash{}, fmt.Errorf("storage slot %q too long", s)
		}
		return common.HexToHash(s), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid storage slot %q", s)
	}
	return common.BigToHash(new(big.Int).SetUint64(n)), nil
}
