// Package tests holds guest contract fixtures and the end-to-end tests of the
// bridge.
package tests

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	vm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Program is a minimal guest bytecode assembler with labels.
type Program struct {
	code   []byte
	labels map[string]int
	fixups map[int]string // offset of a 2-byte jump target -> label
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{labels: make(map[string]int), fixups: make(map[int]string)}
}

// Op appends raw opcodes.
func (p *Program) Op(ops ...vm.OpCode) *Program {
	for _, op := range ops {
		p.code = append(p.code, byte(op))
	}
	return p
}

// Push appends the shortest PUSH of v. Supported values are integers,
// byte slices, addresses, hashes and *uint256.Int.
func (p *Program) Push(v interface{}) *Program {
	var data []byte
	switch v := v.(type) {
	case int:
		data = new(uint256.Int).SetUint64(uint64(v)).Bytes()
	case uint64:
		data = new(uint256.Int).SetUint64(v).Bytes()
	case *uint256.Int:
		data = v.Bytes()
	case common.Address:
		data = v.Bytes()
	case common.Hash:
		data = v.Bytes()
	case []byte:
		data = v
	default:
		panic(fmt.Sprintf("unsupported push value %T", v))
	}
	if len(data) == 0 {
		data = []byte{0}
	}
	if len(data) > 32 {
		panic("push value too large")
	}
	p.code = append(p.code, byte(vm.PUSH1)+byte(len(data)-1))
	p.code = append(p.code, data...)
	return p
}

// Label marks the current position with a JUMPDEST.
func (p *Program) Label(name string) *Program {
	p.labels[name] = len(p.code)
	return p.Op(vm.JUMPDEST)
}

func (p *Program) pushLabel(name string) *Program {
	p.code = append(p.code, byte(vm.PUSH2))
	p.fixups[len(p.code)] = name
	p.code = append(p.code, 0, 0)
	return p
}

// Jump jumps to label.
func (p *Program) Jump(label string) *Program {
	return p.pushLabel(label).Op(vm.JUMP)
}

// JumpIf jumps to label if the top of the stack is non-zero.
func (p *Program) JumpIf(label string) *Program {
	return p.pushLabel(label).Op(vm.JUMPI)
}

// Call appends a CALL of addr with the given value, forwarding all gas. The
// call input is memory[inOffset:inOffset+inSize], the output is written to
// memory[retOffset:retOffset+retSize]. The success flag is left on the stack.
func (p *Program) Call(addr interface{}, value, inOffset, inSize, retOffset, retSize int) *Program {
	p.Push(retSize).Push(retOffset).Push(inSize).Push(inOffset).Push(value)
	if addr == nil {
		p.Op(vm.ADDRESS)
	} else {
		p.Push(addr)
	}
	return p.Op(vm.GAS, vm.CALL)
}

// StaticCall is like Call without value, using STATICCALL.
func (p *Program) StaticCall(addr interface{}, inOffset, inSize, retOffset, retSize int) *Program {
	p.Push(retSize).Push(retOffset).Push(inSize).Push(inOffset)
	if addr == nil {
		p.Op(vm.ADDRESS)
	} else {
		p.Push(addr)
	}
	return p.Op(vm.GAS, vm.STATICCALL)
}

// Mstore stores v at memory[offset].
func (p *Program) Mstore(offset int, v interface{}) *Program {
	return p.Push(v).Push(offset).Op(vm.MSTORE)
}

// Sstore stores v at slot.
func (p *Program) Sstore(slot int, v interface{}) *Program {
	return p.Push(v).Push(slot).Op(vm.SSTORE)
}

// Return returns memory[offset:offset+size].
func (p *Program) Return(offset, size int) *Program {
	return p.Push(size).Push(offset).Op(vm.RETURN)
}

// Revert reverts with memory[offset:offset+size].
func (p *Program) Revert(offset, size int) *Program {
	return p.Push(size).Push(offset).Op(vm.REVERT)
}

// Selector pushes the 4-byte selector of the call data.
func (p *Program) Selector() *Program {
	return p.Push(0).Op(vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR)
}

// Dispatch jumps to label when the selector on the stack equals sel. The
// selector stays on the stack.
func (p *Program) Dispatch(sel [4]byte, label string) *Program {
	return p.Op(vm.DUP1).Push(sel[:]).Op(vm.EQ).JumpIf(label)
}

// Bytes resolves labels and returns the bytecode.
func (p *Program) Bytes() []byte {
	code := common.CopyBytes(p.code)
	for at, name := range p.fixups {
		dest, ok := p.labels[name]
		if !ok {
			panic("undefined label " + name)
		}
		code[at], code[at+1] = byte(dest>>8), byte(dest)
	}
	return code
}

// Initcode wraps runtime code into init code that deploys it.
func Initcode(runtime []byte) []byte {
	const header = 13
	p := NewProgram()
	p.code = append(p.code, byte(vm.PUSH2), byte(len(runtime)>>8), byte(len(runtime)))
	p.Op(vm.DUP1)
	p.code = append(p.code, byte(vm.PUSH2), 0, header)
	p.Push(0).Op(vm.CODECOPY)
	p.Push(0).Op(vm.RETURN)
	return append(p.Bytes(), runtime...)
}
