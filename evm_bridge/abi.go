package evmbridge

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the 4-byte function identifier that prefixes call data.
type Selector [4]byte

// SelectorOf returns the selector of a canonical method signature such as
// "transfer(address,uint256)".
func SelectorOf(signature string) Selector {
	var sel Selector
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Arg is one typed argument of a call. Type is a canonical ABI type name,
// Value a Go value accepted by the go-ethereum ABI packer for that type
// (*big.Int for integers wider than 64 bits, common.Address for addresses).
type Arg struct {
	Type  string
	Value interface{}
}

// EncodeCallData returns the selector followed by the head/tail encoding of
// args.
func EncodeCallData(selector Selector, args []Arg) ([]byte, error) {
	types := make([]string, len(args))
	values := make([]interface{}, len(args))
	for i, arg := range args {
		types[i] = arg.Type
		values[i] = arg.Value
	}
	arguments, err := newArguments(types)
	if err != nil {
		return nil, err
	}
	packed, err := arguments.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return append(selector[:], packed...), nil
}

// EncodeMethodCall derives the selector and argument types from signature
// and encodes values against them.
func EncodeMethodCall(signature string, values ...interface{}) ([]byte, error) {
	name, types, err := parseSignature(signature)
	if err != nil {
		return nil, err
	}
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, have %d", ErrEncoding, signature, len(types), len(values))
	}
	args := make([]Arg, len(types))
	for i := range types {
		args[i] = Arg{Type: types[i], Value: values[i]}
	}
	return EncodeCallData(SelectorOf(name+"("+strings.Join(types, ",")+")"), args)
}

// DecodeReturn unpacks return data into Go values of the given types.
func DecodeReturn(types []string, data []byte) ([]interface{}, error) {
	arguments, err := newArguments(types)
	if err != nil {
		return nil, err
	}
	values, err := arguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return values, nil
}

func newArguments(types []string) (abi.Arguments, error) {
	arguments := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(canonicalType(t), "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrEncoding, i, err)
		}
		arguments[i] = abi.Argument{Type: typ}
	}
	return arguments, nil
}

// parseSignature splits "name(t1,t2)" into its name and canonical argument
// types. Tuple arguments are not supported.
func parseSignature(signature string) (string, []string, error) {
	signature = strings.Join(strings.Fields(signature), "")
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return "", nil, fmt.Errorf("%w: malformed signature %q", ErrEncoding, signature)
	}
	name, list := signature[:open], signature[open+1:len(signature)-1]
	if strings.ContainsAny(list, "()") {
		return "", nil, fmt.Errorf("%w: tuple arguments in %q", ErrEncoding, signature)
	}
	if list == "" {
		return name, nil, nil
	}
	types := strings.Split(list, ",")
	for i, t := range types {
		if t == "" {
			return "", nil, fmt.Errorf("%w: empty type at position %d in %q", ErrEncoding, i, signature)
		}
		types[i] = canonicalType(t)
	}
	return name, types, nil
}

// canonicalType expands the aliases uint, int and byte, including as array
// elements, so that "f(uint[2])" hashes like "f(uint256[2])".
func canonicalType(t string) string {
	base, dims := t, ""
	if i := strings.IndexByte(t, '['); i >= 0 {
		base, dims = t[:i], t[i:]
	}
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	case "byte":
		base = "bytes1"
	}
	return base + dims
}

func unpackRevert(data []byte) (string, error) {
	return abi.UnpackRevert(data)
}
