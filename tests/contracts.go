package tests

import (
	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature)))
	return sel
}

var (
	// IncrementedTopic is emitted by the counter with the new value as data.
	IncrementedTopic = crypto.Keccak256Hash([]byte("Incremented(uint256)"))
	// PingTopic is emitted by the logger with the caller as data.
	PingTopic = crypto.Keccak256Hash([]byte("Ping(address)"))

	// RevertData is the revert payload of the reverter.
	RevertData = []byte{0xde, 0xad, 0xbe, 0xef}
)

// CounterRuntime keeps a counter in slot 0:
//
//	increment()          adds one and logs Incremented(value)
//	get() returns (uint256)
//	incrementAndFail()   increments and logs like increment, then reverts
//	                     with RevertData
func CounterRuntime() []byte {
	p := NewProgram()
	p.Selector()
	p.Dispatch(selector("increment()"), "increment")
	p.Dispatch(selector("get()"), "get")
	p.Dispatch(selector("incrementAndFail()"), "fail")
	p.Revert(0, 0)

	p.Label("increment")
	p.pushLabel("incremented").Jump("bump")
	p.Label("incremented")
	p.Op(vm.STOP)

	p.Label("get")
	p.Push(0).Op(vm.SLOAD)
	p.Push(0).Op(vm.MSTORE)
	p.Return(0, 32)

	p.Label("fail")
	p.pushLabel("failing").Jump("bump")
	p.Label("failing")
	p.Mstore(0, RevertData)
	p.Revert(28, 4)

	// bump increments slot 0, logs the new value and jumps to the return
	// address on the stack.
	p.Label("bump")
	p.Push(0).Op(vm.SLOAD).Push(1).Op(vm.ADD)
	p.Op(vm.DUP1).Push(0).Op(vm.SSTORE)
	p.Push(0).Op(vm.MSTORE)
	p.Push(IncrementedTopic).Push(32).Push(0).Op(vm.LOG1)
	p.Op(vm.JUMP)
	return p.Bytes()
}

// ReverterRuntime writes slot 0 and then reverts with RevertData.
func ReverterRuntime() []byte {
	p := NewProgram()
	p.Sstore(0, 1)
	p.Mstore(0, RevertData)
	p.Revert(28, 4)
	return p.Bytes()
}

// DepthRuntime calls itself n times, where n is the first call data word,
// and reverts if any nested call fails. A call with n opens n+1 frames.
func DepthRuntime() []byte {
	p := NewProgram()
	p.Push(0).Op(vm.CALLDATALOAD)
	p.Op(vm.DUP1, vm.ISZERO).JumpIf("done")
	p.Push(1).Op(vm.SWAP1, vm.SUB)
	p.Push(0).Op(vm.MSTORE)
	p.Call(nil, 0, 0, 32, 0, 0)
	p.Op(vm.ISZERO).JumpIf("fail")
	p.Op(vm.STOP)
	p.Label("done")
	p.Op(vm.STOP)
	p.Label("fail")
	p.Revert(0, 0)
	return p.Bytes()
}

// StorerRuntime writes the call value plus one into slot 0.
func StorerRuntime() []byte {
	p := NewProgram()
	p.Op(vm.CALLVALUE).Push(1).Op(vm.ADD).Push(0).Op(vm.SSTORE)
	p.Op(vm.STOP)
	return p.Bytes()
}

// PayoutRuntime sends one wei of its own balance to the address in the first
// call data word and reverts if that fails.
func PayoutRuntime() []byte {
	p := NewProgram()
	p.Push(0).Push(0).Push(0).Push(0).Push(1)
	p.Push(0).Op(vm.CALLDATALOAD)
	p.Op(vm.GAS, vm.CALL)
	p.Op(vm.ISZERO).JumpIf("fail")
	p.Op(vm.STOP)
	p.Label("fail")
	p.Revert(0, 0)
	return p.Bytes()
}

// LoggerRuntime logs Ping(caller). If call data is present, it then calls the
// address in the first word and ignores the outcome.
func LoggerRuntime() []byte {
	p := NewProgram()
	p.Op(vm.CALLER).Push(0).Op(vm.MSTORE)
	p.Push(PingTopic).Push(32).Push(0).Op(vm.LOG1)
	p.Op(vm.CALLDATASIZE, vm.ISZERO).JumpIf("done")
	p.Push(0).Push(0).Push(0).Push(0).Push(0)
	p.Push(0).Op(vm.CALLDATALOAD)
	p.Op(vm.GAS, vm.CALL, vm.POP)
	p.Label("done")
	p.Op(vm.STOP)
	return p.Bytes()
}

// ViewerRuntime STATICCALLs the address in the first call data word with the
// remaining call data and returns 32 bytes of its output, or reverts if the
// call failed.
func ViewerRuntime() []byte {
	p := NewProgram()
	p.Op(vm.CALLDATASIZE).Push(0).Push(0).Op(vm.CALLDATACOPY)
	p.Push(32).Push(0)
	p.Push(32).Op(vm.CALLDATASIZE, vm.SUB)
	p.Push(32)
	p.Push(0).Op(vm.MLOAD)
	p.Op(vm.GAS, vm.STATICCALL)
	p.Op(vm.ISZERO).JumpIf("fail")
	p.Return(0, 32)
	p.Label("fail")
	p.Revert(0, 0)
	return p.Bytes()
}

// LoopRuntime never terminates.
func LoopRuntime() []byte {
	p := NewProgram()
	p.Label("top")
	p.Jump("top")
	return p.Bytes()
}

// SelfDestructRuntime sends its balance to the address in the first call
// data word and self-destructs.
func SelfDestructRuntime() []byte {
	p := NewProgram()
	p.Push(0).Op(vm.CALLDATALOAD, vm.SELFDESTRUCT)
	return p.Bytes()
}

// FactoryRuntime deploys the init code passed as call data with CREATE2 and
// salt 1, returning the new address as a word.
func FactoryRuntime() []byte {
	p := NewProgram()
	p.Op(vm.CALLDATASIZE).Push(0).Push(0).Op(vm.CALLDATACOPY)
	p.Push(1).Op(vm.CALLDATASIZE).Push(0).Push(0).Op(vm.CREATE2)
	p.Op(vm.DUP1, vm.ISZERO).JumpIf("fail")
	p.Push(0).Op(vm.MSTORE)
	p.Return(0, 32)
	p.Label("fail")
	p.Revert(0, 0)
	return p.Bytes()
}

// BlockHashRuntime returns the hash of the parent block and the current
// block number.
func BlockHashRuntime() []byte {
	p := NewProgram()
	p.Push(1).Op(vm.NUMBER, vm.SUB, vm.BLOCKHASH)
	p.Push(0).Op(vm.MSTORE)
	p.Op(vm.NUMBER).Push(32).Op(vm.MSTORE)
	p.Return(0, 64)
	return p.Bytes()
}

// AddressWord left-pads addr to a call data word.
func AddressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}
