// Copyright 2024 The aotevm Authors
// This file is part of the aotevm library.
//
// The aotevm library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The aotevm library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the aotevm library. If not, see <http://www.gnu.org/licenses/>.

// Package ir defines the typed intermediate representation emitted by the
// compiler and consumed by the pass pipeline. The representation is a
// control-flow graph of basic blocks over register values; the EVM stack
// itself stays in the execution context's stack array, so registers only
// carry values within a single opcode's lowering. Prologue checks
// (gas, stack bounds) and memory expansion are first-class instructions
// whose textual rendering expands to the underlying arith/cf sequences.
package ir

import (
	"github.com/holiman/uint256"
)

// Value is a register, identified by a dense per-function index.
type Value int32

// None marks the absence of a result or operand.
const None Value = -1

// Op enumerates IR instructions.
type Op uint8

const (
	// Const materializes Imm as an i256 register.
	Const Op = iota

	// 256-bit ALU. Unsigned/signed variants share operand order: Args[0]
	// is the first-popped (top) operand.
	Add
	Sub
	Mul
	UDiv
	SDiv
	UMod
	SMod
	AddMod
	MulMod
	Exp
	SignExtend
	Lt
	Gt
	Slt
	Sgt
	Eq
	IsZero
	And
	Or
	Xor
	Not
	Byte
	Shl
	Shr
	Sar

	// Stack traffic against the context's stack array.
	StackPush // Args[0] stored at stack_ptr, stack_ptr++
	StackPop  // Result loaded from --stack_ptr
	StackPeek // Result loaded from stack_ptr-1-Imm64, stack unchanged
	StackSwap // exchange slots stack_ptr-1 and stack_ptr-1-Imm64

	// Prologue checks. Failures branch to the trampoline with the
	// corresponding status.
	GasCheck   // charge Imm64 static gas, OutOfGas on negative counter
	StackCheck // Imm64 pops, Aux pushes; underflow/overflow to trampoline
	ChargeDyn  // dynamic charge derived from Args[0], see DynKind in Aux

	// Memory. MemExpand charges the quadratic expansion delta and grows
	// the buffer; the byte operations assume expansion already happened.
	MemExpand // Args: offset, size (i256)
	MLoad     // Args: offset
	MStore    // Args: offset, value
	MStore8   // Args: offset, value
	MSize
	MCopy // Args: dest, src, size (overlap-safe)

	// Environment block reads and calldata/code access.
	EnvRead      // Imm64 is the layout's env field id
	CallDataLoad // Args: offset
	CallDataCopy // Args: dest, offset, size
	CodeCopy     // Args: dest, offset, size
	GasRemaining // reads the gas counter after the prologue charge
	BlobHash     // Args: index

	// Host syscalls. Every syscall receives the context pointer as its
	// first argument at the ABI level; here that is implicit.
	Keccak        // Args: offset, size
	SLoad         // Args: key
	SStore        // Args: key, value
	Balance       // Args: address word
	SelfBalance
	ExtCodeSize   // Args: address word
	ExtCodeCopy   // Args: address word, dest, offset, size
	ExtCodeHash   // Args: address word
	BlockHash     // Args: number
	Log           // Args: offset, size, topics[0..Aux)
	Call          // Args: gas, addr, value, inOff, inLen, outOff, outLen
	ReturnDataSet // Args: offset, size

	// Terminators.
	Br         // unconditional branch to block Imm64
	Jump       // dynamic dispatch of Args[0] through the jump table
	JumpI      // Args: dest, cond; falls through to block Imm64 on zero
	Exit       // terminal status Imm64
	Trampoline // single instruction of the trampoline block
)

// DynKind selects how ChargeDyn derives its amount from Args[0].
type DynKind int

const (
	// DynWords charges Imm64 per 32-byte word of the size operand.
	DynWords DynKind = iota
	// DynBytes charges Imm64 per byte of the size operand.
	DynBytes
	// DynExpBytes charges Imm64 per significant byte of the operand
	// (EXP's exponent cost).
	DynExpBytes
)

// Instr is one IR instruction.
type Instr struct {
	Op     Op
	Args   []Value
	Result Value // None for void instructions

	Imm   *uint256.Int // Const payload
	Imm64 int64        // static gas, depths, field ids, block targets, status
	Aux   int          // secondary immediate (pushes, topic count, DynKind)

	PC uint64 // byte offset of the originating EVM opcode
}

// Block is a straight-line run of instructions ending in a terminator.
type Block struct {
	Num     int
	EntryPC uint64
	// JumpTarget marks blocks rooted at a valid JUMPDEST; only these
	// appear in the dispatch table.
	JumpTarget bool
	Instrs     []Instr
}

// Append adds an instruction to the block and returns its index.
func (b *Block) Append(ins Instr) int {
	b.Instrs = append(b.Instrs, ins)
	return len(b.Instrs) - 1
}

// Terminated reports whether the block already ends in a terminator.
func (b *Block) Terminated() bool {
	if len(b.Instrs) == 0 {
		return false
	}
	switch b.Instrs[len(b.Instrs)-1].Op {
	case Br, Jump, JumpI, Exit, Trampoline:
		return true
	}
	return false
}

// Func is the compilation unit: one EVM contract lowered to IR.
type Func struct {
	Name   string
	Blocks []*Block
	// Trampoline is the shared error exit; every failed check branches
	// here. It is not part of Blocks' fall-through order.
	Trampoline *Block

	// JumpTable maps each byte offset 0..CodeLen to the index in Blocks
	// of the JUMPDEST-rooted block at that offset, or -1 for an invalid
	// destination.
	JumpTable []int
	CodeLen   uint64

	numValues int32
}

// NewFunc creates an empty function with a trampoline block.
func NewFunc(name string, codeLen uint64) *Func {
	f := &Func{
		Name:    name,
		CodeLen: codeLen,
		JumpTable: func() []int {
			t := make([]int, codeLen+1)
			for i := range t {
				t[i] = -1
			}
			return t
		}(),
	}
	f.Trampoline = &Block{Num: -1}
	f.Trampoline.Append(Instr{Op: Trampoline, Result: None})
	return f
}

// NewBlock appends a fresh block to the function.
func (f *Func) NewBlock(entryPC uint64) *Block {
	b := &Block{Num: len(f.Blocks), EntryPC: entryPC}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewValue allocates a register.
func (f *Func) NewValue() Value {
	v := Value(f.numValues)
	f.numValues++
	return v
}

// NumValues returns the register count, for dense executor storage.
func (f *Func) NumValues() int {
	return int(f.numValues)
}

// Entry returns the function's entry block.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}
