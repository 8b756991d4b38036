package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/fatih/color"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/urfave/cli/v2"
)

var (
	fromFlag = &cli.StringFlag{
		Name:     "from",
		Usage:    "32-byte host identifier of the caller",
		Required: true,
	}
	toFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "Guest contract address",
		Required: true,
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Value transferred with the call, in wei",
		Value: "0",
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Hex encoded call data",
	}
	sigFlag = &cli.StringFlag{
		Name:  "sig",
		Usage: `Method signature, e.g. "transfer(address,uint256)"; arguments follow as positional args`,
	}
	returnsFlag = &cli.StringFlag{
		Name:  "returns",
		Usage: `Comma separated return types used to decode the output, e.g. "uint256"`,
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "Gas limit of the host transaction",
		Value: 1_000_000,
	}
	staticFlag = &cli.BoolFlag{
		Name:  "static",
		Usage: "Run the call as a read-only static view",
	}

	callCommand = &cli.Command{
		Action:    runCall,
		Name:      "call",
		Usage:     "Execute a single guest call against the head state",
		ArgsUsage: "[arg...]",
		Flags:     append([]cli.Flag{fromFlag, toFlag, valueFlag, dataFlag, sigFlag, returnsFlag, gasFlag, staticFlag}, configFlags...),
		Description: `
The call command wraps a guest call in a host transaction executed on top of
the head block. All state changes are discarded afterwards.`,
	}
)

func runCall(ctx *cli.Context) error {
	from, err := addrcodec.HexToHostID(ctx.String(fromFlag.Name))
	if err != nil {
		return err
	}
	if !common.IsHexAddress(ctx.String(toFlag.Name)) {
		return fmt.Errorf("invalid target address %q", ctx.String(toFlag.Name))
	}
	to := common.HexToAddress(ctx.String(toFlag.Name))
	value, err := uint256.FromDecimal(ctx.String(valueFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid value: %v", err)
	}
	input, err := callData(ctx.String(dataFlag.Name), ctx.String(sigFlag.Name), ctx.Args().Slice())
	if err != nil {
		return err
	}

	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	n, err := makeNode(&cfg, nil)
	if err != nil {
		return fatal(err)
	}
	defer n.Close()

	op := evmbridge.OpCall
	if ctx.Bool(staticFlag.Name) {
		op = evmbridge.OpStaticView
	}
	gas := ctx.Uint64(gasFlag.Name)
	var callGas uint64
	if gas > core.IntrinsicGas {
		callGas = gas - core.IntrinsicGas
	}
	tx := &core.HostTx{
		Sender:   from,
		GasLimit: gas,
		GasPrice: uint256.MustFromBig(n.chain.Head().BaseFee),
		Program: []core.Step{{Invocation: evmbridge.Invocation{
			Op:       op,
			Caller:   from,
			Target:   to,
			Value:    value,
			Input:    input,
			GasLimit: callGas,
		}}},
	}
	_, result, err := n.chain.Call(tx)
	if err != nil {
		return fatal(err)
	}
	var returns []string
	if s := ctx.String(returnsFlag.Name); s != "" {
		returns = strings.Split(s, ",")
	}
	return printResult(os.Stdout, result, returns)
}

func printResult(w io.Writer, result *core.ExecutionResult, returns []string) error {
	if result.Failed() && (len(result.Results) == 0 || result.Results[0] == nil) {
		fmt.Fprintf(w, "%s %v\n", color.RedString("aborted:"), result.Err)
		return nil
	}
	res := result.Results[0]
	if res.Success {
		fmt.Fprintln(w, color.GreenString("success"))
	} else {
		fmt.Fprintln(w, color.RedString(res.Outcome.String()))
		if res.Cause != res.Outcome {
			fmt.Fprintf(w, "cause:    %s\n", res.Cause)
		}
		if reason := res.Revert(); reason != "" {
			fmt.Fprintf(w, "reason:   %s\n", reason)
		}
	}
	fmt.Fprintf(w, "gas used: %d (guest %d, transaction %d)\n", res.GasUsed, res.GuestGasUsed, result.UsedGas)
	fmt.Fprintf(w, "output:   %s\n", hexutil.Encode(res.ReturnData))
	fmt.Fprintf(w, "logs:     %d\n", len(res.Logs))
	if res.Success && len(returns) > 0 {
		values, err := evmbridge.DecodeReturn(returns, res.ReturnData)
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Fprintf(w, "  %s: %v\n", returns[i], v)
		}
	}
	return nil
}

// callData returns the raw call data, or the encoding of sig applied to the
// textual args.
func callData(data, sig string, args []string) ([]byte, error) {
	if sig == "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("arguments given without --%s", sigFlag.Name)
		}
		if data == "" {
			return nil, nil
		}
		return hexutil.Decode(data)
	}
	if data != "" {
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", dataFlag.Name, sigFlag.Name)
	}
	open := strings.IndexByte(sig, '(')
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return nil, fmt.Errorf("malformed signature %q", sig)
	}
	var types []string
	if list := strings.TrimSpace(sig[open+1 : len(sig)-1]); list != "" {
		types = strings.Split(list, ",")
	}
	if len(types) != len(args) {
		return nil, fmt.Errorf("%s takes %d arguments, have %d", sig, len(types), len(args))
	}
	values := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := parseArg(strings.TrimSpace(types[i]), arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i, err)
		}
		values[i] = v
	}
	return evmbridge.EncodeMethodCall(sig, values...)
}

// parseArg converts a command line argument to the Go value the ABI packer
// expects for typ.
func parseArg(typ, s string) (interface{}, error) {
	switch typ {
	case "address":
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case "bool":
		return strconv.ParseBool(s)
	case "string":
		return s, nil
	case "bytes":
		return hexutil.Decode(s)
	case "bytes32":
		b, err := hexutil.Decode(s)
		if err != nil || len(b) > 32 {
			return nil, fmt.Errorf("invalid bytes32 %q", s)
		}
		return [32]byte(common.BytesToHash(b)), nil
	case "uint256", "int256":
		v, ok := math.ParseBig256(s)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported argument type %s", typ)
}
