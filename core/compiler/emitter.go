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

package compiler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/aotevm/aotevm/core/compiler/ir"
)

// emitter lowers the basic blocks of a CFG into IR. One IR block is created
// per basic block, in the same order, so basic-block numbers and IR block
// numbers coincide. All runtime error paths share the function's trampoline.
type emitter struct {
	cfg *CFG
	f   *ir.Func

	// stopBlock is created lazily for a JUMPI at the very end of the
	// code, whose fall-through is an implicit STOP.
	stopBlock *ir.Block
}

// EmitIR lowers a control-flow graph into a single IR function.
func EmitIR(cfg *CFG, name string) (*ir.Func, error) {
	e := &emitter{
		cfg: cfg,
		f:   ir.NewFunc(name, uint64(len(cfg.Program.Code))),
	}
	// Create all blocks up front: forward branches (fall-through over a
	// JUMPDEST, JUMPI) need their targets numbered.
	blocks := make([]*ir.Block, len(cfg.Blocks))
	for i, bb := range cfg.Blocks {
		blocks[i] = e.f.NewBlock(bb.EntryPC)
		if bb.IsJumpdestBlock() && cfg.Program.ValidJumpdest(bb.EntryPC) {
			blocks[i].JumpTarget = true
			e.f.JumpTable[bb.EntryPC] = blocks[i].Num
		}
	}
	for i, bb := range cfg.Blocks {
		if err := e.emitBlock(blocks[i], bb); err != nil {
			return nil, err
		}
	}
	return e.f, nil
}

func (e *emitter) emitBlock(b *ir.Block, bb *BasicBlock) error {
	for _, op := range bb.Ops {
		if err := e.emitOp(b, op); err != nil {
			return fmt.Errorf("pc %d (%v): %w", op.PC, op.Op, err)
		}
		if b.Terminated() {
			return nil
		}
	}
	// Block ended without a terminator: fall through, or stop at the end
	// of the code.
	if bb.Next != nil {
		e.append(b, ir.Instr{Op: ir.Br, Imm64: int64(bb.Next.Num), Result: ir.None})
		return nil
	}
	e.exit(b, ir.StatusSuccess, bb.EndPC)
	return nil
}

func (e *emitter) emitOp(b *ir.Block, op Operation) error {
	e.prologue(b, op)

	switch {
	case op.Op.IsPush() || op.Op == PUSH0:
		imm := op.Imm
		if imm == nil {
			imm = new(uint256.Int)
		}
		e.push(b, e.konst(b, imm, op.PC), op.PC)

	case DUP1 <= op.Op && op.Op <= DUP16:
		n := int64(op.Op - DUP1) // slot stack_ptr-1-n, i.e. stack_ptr-i
		v := e.value(b, ir.Instr{Op: ir.StackPeek, Imm64: n, PC: op.PC})
		e.push(b, v, op.PC)

	case SWAP1 <= op.Op && op.Op <= SWAP16:
		i := int64(op.Op-SWAP1) + 1 // exchange stack_ptr-1 with stack_ptr-1-i
		e.append(b, ir.Instr{Op: ir.StackSwap, Imm64: i, Result: ir.None, PC: op.PC})

	case LOG0 <= op.Op && op.Op <= LOG4:
		e.emitLog(b, op)

	default:
		return e.emitFixed(b, op)
	}
	return nil
}

// prologue inserts the gas and stack checks that precede every opcode body.
func (e *emitter) prologue(b *ir.Block, op Operation) {
	if cost := ConstantGas(op.Op); cost > 0 {
		e.append(b, ir.Instr{Op: ir.GasCheck, Imm64: int64(cost), Result: ir.None, PC: op.PC})
	}
	pops, pushes := stackEffects(op.Op)
	if pops > 0 || pushes > 0 {
		e.append(b, ir.Instr{Op: ir.StackCheck, Imm64: int64(pops), Aux: pushes, Result: ir.None, PC: op.PC})
	}
}

// emitFixed handles the opcodes with a fixed lowering shape.
func (e *emitter) emitFixed(b *ir.Block, op Operation) error {
	pc := op.PC
	switch op.Op {
	// Binary ALU: Args[0] is the top-of-stack operand.
	case ADD, MUL, SUB, DIV, SDIV, MOD, SMOD, SIGNEXTEND,
		LT, GT, SLT, SGT, EQ, AND, OR, XOR, BYTE, SHL, SHR, SAR:
		x := e.pop(b, pc)
		y := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: aluOp(op.Op), Args: []ir.Value{x, y}, PC: pc}), pc)

	case ISZERO, NOT:
		x := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: aluOp(op.Op), Args: []ir.Value{x}, PC: pc}), pc)

	case ADDMOD, MULMOD:
		x, y, m := e.pop(b, pc), e.pop(b, pc), e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: aluOp(op.Op), Args: []ir.Value{x, y, m}, PC: pc}), pc)

	case EXP:
		base := e.pop(b, pc)
		exp := e.pop(b, pc)
		e.chargeDyn(b, exp, int64(params.ExpByteEIP158), ir.DynExpBytes, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.Exp, Args: []ir.Value{base, exp}, PC: pc}), pc)

	case KECCAK256:
		off := e.pop(b, pc)
		size := e.pop(b, pc)
		e.chargeDyn(b, size, int64(params.Keccak256WordGas), ir.DynWords, pc)
		e.memExpand(b, off, size, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.Keccak, Args: []ir.Value{off, size}, PC: pc}), pc)

	case POP:
		e.pop(b, pc)

	case MLOAD:
		off := e.pop(b, pc)
		e.memExpand(b, off, e.konst64(b, 32, pc), pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.MLoad, Args: []ir.Value{off}, PC: pc}), pc)

	case MSTORE, MSTORE8:
		off := e.pop(b, pc)
		val := e.pop(b, pc)
		width := uint64(32)
		o := ir.MStore
		if op.Op == MSTORE8 {
			width, o = 1, ir.MStore8
		}
		e.memExpand(b, off, e.konst64(b, width, pc), pc)
		e.append(b, ir.Instr{Op: o, Args: []ir.Value{off, val}, Result: ir.None, PC: pc})

	case MSIZE:
		e.push(b, e.value(b, ir.Instr{Op: ir.MSize, PC: pc}), pc)

	case MCOPY:
		dst, src, size := e.pop(b, pc), e.pop(b, pc), e.pop(b, pc)
		e.chargeDyn(b, size, int64(params.CopyGas), ir.DynWords, pc)
		e.memExpand(b, dst, size, pc)
		e.memExpand(b, src, size, pc)
		e.append(b, ir.Instr{Op: ir.MCopy, Args: []ir.Value{dst, src, size}, Result: ir.None, PC: pc})

	case CALLDATACOPY, CODECOPY:
		dst, off, size := e.pop(b, pc), e.pop(b, pc), e.pop(b, pc)
		e.chargeDyn(b, size, int64(params.CopyGas), ir.DynWords, pc)
		e.memExpand(b, dst, size, pc)
		o := ir.CallDataCopy
		if op.Op == CODECOPY {
			o = ir.CodeCopy
		}
		e.append(b, ir.Instr{Op: o, Args: []ir.Value{dst, off, size}, Result: ir.None, PC: pc})

	case EXTCODECOPY:
		addr, dst, off, size := e.pop(b, pc), e.pop(b, pc), e.pop(b, pc), e.pop(b, pc)
		e.chargeDyn(b, size, int64(params.CopyGas), ir.DynWords, pc)
		e.memExpand(b, dst, size, pc)
		e.append(b, ir.Instr{Op: ir.ExtCodeCopy, Args: []ir.Value{addr, dst, off, size}, Result: ir.None, PC: pc})

	case CALLDATALOAD:
		off := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.CallDataLoad, Args: []ir.Value{off}, PC: pc}), pc)

	case SLOAD:
		key := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.SLoad, Args: []ir.Value{key}, PC: pc}), pc)

	case SSTORE:
		key := e.pop(b, pc)
		val := e.pop(b, pc)
		e.append(b, ir.Instr{Op: ir.SStore, Args: []ir.Value{key, val}, Result: ir.None, PC: pc})

	case BALANCE:
		addr := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.Balance, Args: []ir.Value{addr}, PC: pc}), pc)

	case SELFBALANCE:
		e.push(b, e.value(b, ir.Instr{Op: ir.SelfBalance, PC: pc}), pc)

	case EXTCODESIZE, EXTCODEHASH:
		addr := e.pop(b, pc)
		o := ir.ExtCodeSize
		if op.Op == EXTCODEHASH {
			o = ir.ExtCodeHash
		}
		e.push(b, e.value(b, ir.Instr{Op: o, Args: []ir.Value{addr}, PC: pc}), pc)

	case BLOCKHASH:
		num := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.BlockHash, Args: []ir.Value{num}, PC: pc}), pc)

	case BLOBHASH:
		idx := e.pop(b, pc)
		e.push(b, e.value(b, ir.Instr{Op: ir.BlobHash, Args: []ir.Value{idx}, PC: pc}), pc)

	case ADDRESS, ORIGIN, CALLER, CALLVALUE, GASPRICE, COINBASE, TIMESTAMP,
		NUMBER, PREVRANDAO, GASLIMIT, CHAINID, BASEFEE, BLOBBASEFEE,
		CALLDATASIZE, CODESIZE:
		e.push(b, e.value(b, ir.Instr{Op: ir.EnvRead, Imm64: int64(envField(op.Op)), PC: pc}), pc)

	case PC:
		e.push(b, e.konst64(b, op.PC, pc), pc)

	case GAS:
		e.push(b, e.value(b, ir.Instr{Op: ir.GasRemaining, PC: pc}), pc)

	case JUMPDEST:
		// Pure label; the prologue charged nothing.

	case JUMP:
		dest := e.pop(b, pc)
		e.append(b, ir.Instr{Op: ir.Jump, Args: []ir.Value{dest}, Result: ir.None, PC: pc})

	case JUMPI:
		dest := e.pop(b, pc)
		cond := e.pop(b, pc)
		e.append(b, ir.Instr{
			Op: ir.JumpI, Args: []ir.Value{dest, cond},
			Imm64: int64(e.fallthroughTarget(b)), Result: ir.None, PC: pc,
		})

	case CALL:
		gas := e.pop(b, pc)
		addr := e.pop(b, pc)
		value := e.pop(b, pc)
		inOff, inLen := e.pop(b, pc), e.pop(b, pc)
		outOff, outLen := e.pop(b, pc), e.pop(b, pc)
		e.memExpand(b, inOff, inLen, pc)
		e.memExpand(b, outOff, outLen, pc)
		ret := e.value(b, ir.Instr{
			Op: ir.Call, Args: []ir.Value{gas, addr, value, inOff, inLen, outOff, outLen}, PC: pc,
		})
		e.push(b, ret, pc)

	case RETURN, REVERT:
		off := e.pop(b, pc)
		size := e.pop(b, pc)
		e.memExpand(b, off, size, pc)
		e.append(b, ir.Instr{Op: ir.ReturnDataSet, Args: []ir.Value{off, size}, Result: ir.None, PC: pc})
		status := ir.StatusSuccess
		if op.Op == REVERT {
			status = ir.StatusRevert
		}
		e.exit(b, status, pc)

	case STOP:
		e.exit(b, ir.StatusSuccess, pc)

	case INVALID:
		e.exit(b, ir.StatusInvalidOpcode, pc)

	default:
		return fmt.Errorf("no lowering for opcode %#x", byte(op.Op))
	}
	return nil
}

func (e *emitter) emitLog(b *ir.Block, op Operation) {
	pc := op.PC
	n := int(op.Op - LOG0)
	off := e.pop(b, pc)
	size := e.pop(b, pc)
	args := []ir.Value{off, size}
	for i := 0; i < n; i++ {
		args = append(args, e.pop(b, pc))
	}
	e.chargeDyn(b, size, int64(params.LogDataGas), ir.DynBytes, pc)
	e.memExpand(b, off, size, pc)
	e.append(b, ir.Instr{Op: ir.Log, Args: args, Aux: n, Result: ir.None, PC: pc})
}

// fallthroughTarget resolves the block a JUMPI falls through to. A JUMPI as
// the program's last instruction falls through to an implicit STOP.
func (e *emitter) fallthroughTarget(b *ir.Block) int {
	if next := e.cfg.Blocks[b.Num].Next; next != nil {
		return int(next.Num)
	}
	if e.stopBlock == nil {
		e.stopBlock = e.f.NewBlock(e.f.CodeLen)
		e.exit(e.stopBlock, ir.StatusSuccess, e.f.CodeLen)
	}
	return e.stopBlock.Num
}

// Emission helpers.

func (e *emitter) append(b *ir.Block, ins ir.Instr) {
	b.Append(ins)
}

func (e *emitter) value(b *ir.Block, ins ir.Instr) ir.Value {
	ins.Result = e.f.NewValue()
	b.Append(ins)
	return ins.Result
}

func (e *emitter) konst(b *ir.Block, x *uint256.Int, pc uint64) ir.Value {
	return e.value(b, ir.Instr{Op: ir.Const, Imm: new(uint256.Int).Set(x), PC: pc})
}

func (e *emitter) konst64(b *ir.Block, x uint64, pc uint64) ir.Value {
	return e.konst(b, new(uint256.Int).SetUint64(x), pc)
}

func (e *emitter) pop(b *ir.Block, pc uint64) ir.Value {
	return e.value(b, ir.Instr{Op: ir.StackPop, PC: pc})
}

func (e *emitter) push(b *ir.Block, v ir.Value, pc uint64) {
	e.append(b, ir.Instr{Op: ir.StackPush, Args: []ir.Value{v}, Result: ir.None, PC: pc})
}

func (e *emitter) chargeDyn(b *ir.Block, v ir.Value, mult int64, kind ir.DynKind, pc uint64) {
	e.append(b, ir.Instr{Op: ir.ChargeDyn, Args: []ir.Value{v}, Imm64: mult, Aux: int(kind), Result: ir.None, PC: pc})
}

func (e *emitter) memExpand(b *ir.Block, off, size ir.Value, pc uint64) {
	e.append(b, ir.Instr{Op: ir.MemExpand, Args: []ir.Value{off, size}, Result: ir.None, PC: pc})
}

func (e *emitter) exit(b *ir.Block, s ir.Status, pc uint64) {
	e.append(b, ir.Instr{Op: ir.Exit, Imm64: int64(s), Result: ir.None, PC: pc})
}

// aluOp maps an EVM opcode to its IR counterpart.
func aluOp(op OpCode) ir.Op {
	switch op {
	case ADD:
		return ir.Add
	case MUL:
		return ir.Mul
	case SUB:
		return ir.Sub
	case DIV:
		return ir.UDiv
	case SDIV:
		return ir.SDiv
	case MOD:
		return ir.UMod
	case SMOD:
		return ir.SMod
	case ADDMOD:
		return ir.AddMod
	case MULMOD:
		return ir.MulMod
	case SIGNEXTEND:
		return ir.SignExtend
	case LT:
		return ir.Lt
	case GT:
		return ir.Gt
	case SLT:
		return ir.Slt
	case SGT:
		return ir.Sgt
	case EQ:
		return ir.Eq
	case ISZERO:
		return ir.IsZero
	case AND:
		return ir.And
	case OR:
		return ir.Or
	case XOR:
		return ir.Xor
	case NOT:
		return ir.Not
	case BYTE:
		return ir.Byte
	case SHL:
		return ir.Shl
	case SHR:
		return ir.Shr
	case SAR:
		return ir.Sar
	}
	panic("not an ALU opcode: " + op.String())
}

// envField maps pure environmental opcodes to their env block field.
func envField(op OpCode) EnvField {
	switch op {
	case ADDRESS:
		return EnvAddress
	case ORIGIN:
		return EnvOrigin
	case CALLER:
		return EnvCaller
	case CALLVALUE:
		return EnvCallValue
	case GASPRICE:
		return EnvGasPrice
	case COINBASE:
		return EnvCoinbase
	case TIMESTAMP:
		return EnvTimestamp
	case NUMBER:
		return EnvNumber
	case PREVRANDAO:
		return EnvPrevRandao
	case GASLIMIT:
		return EnvGasLimit
	case CHAINID:
		return EnvChainID
	case BASEFEE:
		return EnvBaseFee
	case BLOBBASEFEE:
		return EnvBlobBaseFee
	case CALLDATASIZE:
		return EnvCallDataLen
	case CODESIZE:
		return EnvCodeLen
	}
	panic("not an env opcode: " + op.String())
}

// stackEffects returns the operand and result counts used by the stack
// bounds check.
func stackEffects(op OpCode) (pops, pushes int) {
	switch {
	case op.IsPush() || op == PUSH0:
		return 0, 1
	case DUP1 <= op && op <= DUP16:
		n := int(op-DUP1) + 1
		return n, n + 1
	case SWAP1 <= op && op <= SWAP16:
		n := int(op-SWAP1) + 2
		return n, n
	case LOG0 <= op && op <= LOG4:
		return 2 + int(op-LOG0), 0
	}
	switch op {
	case ADD, MUL, SUB, DIV, SDIV, MOD, SMOD, SIGNEXTEND, LT, GT, SLT, SGT,
		EQ, AND, OR, XOR, BYTE, SHL, SHR, SAR, EXP, KECCAK256:
		return 2, 1
	case ADDMOD, MULMOD:
		return 3, 1
	case ISZERO, NOT, CALLDATALOAD, MLOAD, SLOAD, BALANCE, EXTCODESIZE,
		EXTCODEHASH, BLOCKHASH, BLOBHASH:
		return 1, 1
	case ADDRESS, ORIGIN, CALLER, CALLVALUE, CALLDATASIZE, CODESIZE,
		GASPRICE, COINBASE, TIMESTAMP, NUMBER, PREVRANDAO, GASLIMIT,
		CHAINID, SELFBALANCE, BASEFEE, BLOBBASEFEE, PC, MSIZE, GAS:
		return 0, 1
	case POP, JUMP:
		return 1, 0
	case MSTORE, MSTORE8, SSTORE, JUMPI, RETURN, REVERT:
		return 2, 0
	case CALLDATACOPY, CODECOPY, MCOPY:
		return 3, 0
	case EXTCODECOPY:
		return 4, 0
	case CALL:
		return 7, 1
	}
	return 0, 0
}
