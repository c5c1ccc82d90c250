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

package runtime

import (
	"github.com/holiman/uint256"

	"github.com/aotevm/aotevm/core/compiler"
	"github.com/aotevm/aotevm/core/compiler/ir"
)

// maxMemoryBytes bounds EVM memory; a required size beyond it is a
// MemoryLimitExceeded terminal, matching the 32-bit offsets of the ABI.
const maxMemoryBytes = 1 << 32

// maxJumpDest is the first dynamic jump destination that is invalid without
// a table lookup.
const maxJumpDest = 1 << 32

// Executor runs an IR function against an execution context. It is the
// reference engine for compiled artifacts: the semantics here are the ones
// the native lowering must preserve at every optimization level.
type Executor struct {
	F   *ir.Func
	Sys *Syscalls
}

// Run executes the function until a terminal status is reached. The status
// is also recorded on the context, along with the observable PC.
func (ex *Executor) Run(ctx *ExecutionContext) ir.Status {
	regs := make([]uint256.Int, ex.F.NumValues())
	block := ex.F.Entry()
	if block == nil {
		return ex.exit(ctx, ir.StatusSuccess, 0)
	}

	for {
		next := -1
		for i := range block.Instrs {
			ins := &block.Instrs[i]
			switch ins.Op {
			case ir.Const:
				regs[ins.Result].Set(ins.Imm)

			case ir.GasCheck:
				ctx.Gas -= ins.Imm64
				if ctx.Gas < 0 {
					return ex.exit(ctx, ir.StatusOutOfGas, ins.PC)
				}

			case ir.StackCheck:
				pops, pushes := int(ins.Imm64), ins.Aux
				if ctx.SP < pops {
					return ex.exit(ctx, ir.StatusStackUnderflow, ins.PC)
				}
				if ctx.SP-pops+pushes > compiler.MaxStackSize {
					return ex.exit(ctx, ir.StatusStackOverflow, ins.PC)
				}

			case ir.ChargeDyn:
				amount, ok := dynAmount(&regs[ins.Args[0]], ins.Imm64, ir.DynKind(ins.Aux))
				if !ok {
					return ex.exit(ctx, ir.StatusOutOfGas, ins.PC)
				}
				ctx.Gas -= int64(amount)
				if ctx.Gas < 0 {
					return ex.exit(ctx, ir.StatusOutOfGas, ins.PC)
				}

			case ir.StackPush:
				ctx.Stack[ctx.SP].Set(&regs[ins.Args[0]])
				ctx.SP++

			case ir.StackPop:
				ctx.SP--
				regs[ins.Result].Set(&ctx.Stack[ctx.SP])

			case ir.StackPeek:
				regs[ins.Result].Set(&ctx.Stack[ctx.SP-1-int(ins.Imm64)])

			case ir.StackSwap:
				i, j := ctx.SP-1, ctx.SP-1-int(ins.Imm64)
				ctx.Stack[i], ctx.Stack[j] = ctx.Stack[j], ctx.Stack[i]

			case ir.MemExpand:
				if st := ex.memExpand(ctx, &regs[ins.Args[0]], &regs[ins.Args[1]]); st != ir.StatusSuccess {
					return ex.exit(ctx, st, ins.PC)
				}

			case ir.MLoad:
				off := regs[ins.Args[0]].Uint64()
				regs[ins.Result].SetBytes(ctx.Memory[off : off+32])

			case ir.MStore:
				off := regs[ins.Args[0]].Uint64()
				b := regs[ins.Args[1]].Bytes32()
				copy(ctx.Memory[off:off+32], b[:])

			case ir.MStore8:
				off := regs[ins.Args[0]].Uint64()
				ctx.Memory[off] = byte(regs[ins.Args[1]].Uint64())

			case ir.MSize:
				regs[ins.Result].SetUint64(uint64(len(ctx.Memory)))

			case ir.MCopy:
				dst := regs[ins.Args[0]].Uint64()
				src := regs[ins.Args[1]].Uint64()
				size := regs[ins.Args[2]].Uint64()
				if size > 0 {
					copy(ctx.Memory[dst:dst+size], ctx.Memory[src:src+size])
				}

			case ir.EnvRead:
				regs[ins.Result].Set(ctx.envWord(compiler.EnvField(ins.Imm64)))

			case ir.CallDataLoad:
				loadWord(&regs[ins.Result], ctx.Env.CallData, &regs[ins.Args[0]])

			case ir.CallDataCopy, ir.CodeCopy:
				src := ctx.Env.CallData
				if ins.Op == ir.CodeCopy {
					src = ctx.Env.Code
				}
				dst := regs[ins.Args[0]].Uint64()
				size := regs[ins.Args[2]].Uint64()
				if size > 0 {
					copyPadded(ctx.Memory[dst:dst+size], src, srcOffset(&regs[ins.Args[1]], uint64(len(src))))
				}

			case ir.GasRemaining:
				regs[ins.Result].SetUint64(uint64(ctx.Gas))

			case ir.BlobHash:
				idx := &regs[ins.Args[0]]
				regs[ins.Result].Clear()
				if idx.IsUint64() && idx.Uint64() < uint64(len(ctx.Env.BlobHashes)) {
					regs[ins.Result].SetBytes(ctx.Env.BlobHashes[idx.Uint64()].Bytes())
				}

			case ir.Keccak, ir.SLoad, ir.SStore, ir.Balance, ir.SelfBalance,
				ir.ExtCodeSize, ir.ExtCodeCopy, ir.ExtCodeHash, ir.BlockHash,
				ir.Log, ir.Call, ir.ReturnDataSet:
				if st := ex.syscall(ctx, regs, ins); st != ir.StatusSuccess {
					return ex.exit(ctx, st, ins.PC)
				}

			case ir.Br:
				next = int(ins.Imm64)

			case ir.Jump:
				idx, ok := ex.dispatch(&regs[ins.Args[0]])
				if !ok {
					return ex.exit(ctx, ir.StatusInvalidJump, ins.PC)
				}
				next = idx

			case ir.JumpI:
				if regs[ins.Args[1]].IsZero() {
					next = int(ins.Imm64)
					break
				}
				idx, ok := ex.dispatch(&regs[ins.Args[0]])
				if !ok {
					return ex.exit(ctx, ir.StatusInvalidJump, ins.PC)
				}
				next = idx

			case ir.Exit:
				return ex.exit(ctx, ir.Status(ins.Imm64), ins.PC)

			default:
				ex.alu(regs, ins)
			}
			if next >= 0 {
				break
			}
		}
		if next < 0 {
			// Unterminated block; treat as implicit stop.
			return ex.exit(ctx, ir.StatusSuccess, block.EntryPC)
		}
		block = ex.F.Blocks[next]
	}
}

// exit is the trampoline: it records the status and, for every failure
// status except REVERT, consumes the remaining gas.
func (ex *Executor) exit(ctx *ExecutionContext, st ir.Status, pc uint64) ir.Status {
	ctx.Status = st
	ctx.PC = pc
	if st.Failed() {
		ctx.Gas = 0
		ctx.ReturnOff, ctx.ReturnLen = 0, 0
	}
	return st
}

// dispatch resolves a dynamic jump destination through the jump table.
func (ex *Executor) dispatch(dest *uint256.Int) (int, bool) {
	if !dest.LtUint64(maxJumpDest) {
		return 0, false
	}
	d := dest.Uint64()
	if d >= uint64(len(ex.F.JumpTable)) {
		return 0, false
	}
	idx := ex.F.JumpTable[d]
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// memExpand charges the quadratic expansion delta and grows the buffer.
func (ex *Executor) memExpand(ctx *ExecutionContext, off, size *uint256.Int) ir.Status {
	if size.IsZero() {
		return ir.StatusSuccess
	}
	if !off.IsUint64() || !size.IsUint64() {
		return ir.StatusMemoryLimit
	}
	needed := off.Uint64() + size.Uint64()
	if needed < off.Uint64() || needed > maxMemoryBytes {
		return ir.StatusMemoryLimit
	}
	newWords := compiler.ToWordSize(needed)
	oldWords := ctx.MemWords()
	if newWords <= oldWords {
		return ir.StatusSuccess
	}
	ctx.Gas -= int64(compiler.MemoryExpansionGas(oldWords, newWords))
	if ctx.Gas < 0 {
		return ir.StatusOutOfGas
	}
	grown := make([]byte, newWords*compiler.WordSize)
	copy(grown, ctx.Memory)
	ctx.Memory = grown
	return ir.StatusSuccess
}

// syscall dispatches one host-call instruction through the syscall table.
// The observable PC is committed before the host runs.
func (ex *Executor) syscall(ctx *ExecutionContext, regs []uint256.Int, ins *ir.Instr) ir.Status {
	ctx.PC = ins.PC
	arg := func(i int) *uint256.Int { return &regs[ins.Args[i]] }
	switch ins.Op {
	case ir.Keccak:
		return ex.Sys.Keccak(ctx, arg(0).Uint64(), arg(1).Uint64(), &regs[ins.Result])
	case ir.SLoad:
		return ex.Sys.SLoad(ctx, arg(0), &regs[ins.Result])
	case ir.SStore:
		return ex.Sys.SStore(ctx, arg(0), arg(1))
	case ir.Balance:
		return ex.Sys.Balance(ctx, arg(0), &regs[ins.Result])
	case ir.SelfBalance:
		return ex.Sys.SelfBalance(ctx, &regs[ins.Result])
	case ir.ExtCodeSize:
		return ex.Sys.ExtCodeSize(ctx, arg(0), &regs[ins.Result])
	case ir.ExtCodeCopy:
		return ex.Sys.ExtCodeCopy(ctx, arg(0), arg(1).Uint64(), srcOffset(arg(2), maxMemoryBytes), arg(3).Uint64())
	case ir.ExtCodeHash:
		return ex.Sys.ExtCodeHash(ctx, arg(0), &regs[ins.Result])
	case ir.BlockHash:
		return ex.Sys.BlockHash(ctx, arg(0), &regs[ins.Result])
	case ir.Log:
		topics := make([]uint256.Int, ins.Aux)
		for i := 0; i < ins.Aux; i++ {
			topics[i] = regs[ins.Args[2+i]]
		}
		return ex.Sys.Log(ctx, arg(0).Uint64(), arg(1).Uint64(), topics)
	case ir.Call:
		return ex.Sys.Call(ctx, arg(0), arg(1), arg(2),
			arg(3).Uint64(), arg(4).Uint64(), arg(5).Uint64(), arg(6).Uint64(),
			&regs[ins.Result])
	case ir.ReturnDataSet:
		ex.Sys.ReturnDataSet(ctx, arg(0).Uint64(), arg(1).Uint64())
		return ir.StatusSuccess
	}
	return ir.StatusInvalidOpcode
}

// alu evaluates the register-only instructions.
func (ex *Executor) alu(regs []uint256.Int, ins *ir.Instr) {
	r := &regs[ins.Result]
	x := &regs[ins.Args[0]]
	var y *uint256.Int
	if len(ins.Args) > 1 {
		y = &regs[ins.Args[1]]
	}
	switch ins.Op {
	case ir.Add:
		r.Add(x, y)
	case ir.Sub:
		r.Sub(x, y)
	case ir.Mul:
		r.Mul(x, y)
	case ir.UDiv:
		r.Div(x, y)
	case ir.SDiv:
		r.SDiv(x, y)
	case ir.UMod:
		r.Mod(x, y)
	case ir.SMod:
		r.SMod(x, y)
	case ir.AddMod:
		r.AddMod(x, y, &regs[ins.Args[2]])
	case ir.MulMod:
		r.MulMod(x, y, &regs[ins.Args[2]])
	case ir.Exp:
		r.Exp(x, y)
	case ir.SignExtend:
		// x is the byte position, y the value being extended.
		r.ExtendSign(y, x)
	case ir.Lt:
		boolWord(r, x.Lt(y))
	case ir.Gt:
		boolWord(r, x.Gt(y))
	case ir.Slt:
		boolWord(r, x.Slt(y))
	case ir.Sgt:
		boolWord(r, x.Sgt(y))
	case ir.Eq:
		boolWord(r, x.Eq(y))
	case ir.IsZero:
		boolWord(r, x.IsZero())
	case ir.And:
		r.And(x, y)
	case ir.Or:
		r.Or(x, y)
	case ir.Xor:
		r.Xor(x, y)
	case ir.Not:
		r.Not(x)
	case ir.Byte:
		// x is the index, y the word; indexing is big-endian from the
		// most significant byte.
		r.Set(y)
		r.Byte(x)
	case ir.Shl:
		if x.LtUint64(256) {
			r.Lsh(y, uint(x.Uint64()))
		} else {
			r.Clear()
		}
	case ir.Shr:
		if x.LtUint64(256) {
			r.Rsh(y, uint(x.Uint64()))
		} else {
			r.Clear()
		}
	case ir.Sar:
		if x.GtUint64(255) {
			if y.Sign() >= 0 {
				r.Clear()
			} else {
				r.SetAllOne()
			}
		} else {
			r.SRsh(y, uint(x.Uint64()))
		}
	}
}

func boolWord(r *uint256.Int, b bool) {
	if b {
		r.SetOne()
	} else {
		r.Clear()
	}
}

// dynAmount computes a dynamic gas charge; ok is false on overflow, which
// can only be an out-of-gas in disguise.
func dynAmount(v *uint256.Int, mult int64, kind ir.DynKind) (uint64, bool) {
	switch kind {
	case ir.DynExpBytes:
		return uint64(mult) * uint64(v.ByteLen()), true
	case ir.DynWords, ir.DynBytes:
		if !v.IsUint64() {
			return 0, false
		}
		units := v.Uint64()
		if kind == ir.DynWords {
			units = compiler.ToWordSize(units)
		}
		if units > (1<<62)/uint64(mult) {
			return 0, false
		}
		return uint64(mult) * units, true
	}
	return 0, false
}

// loadWord reads a 32-byte big-endian word from data at the given offset,
// zero-padded past the end.
func loadWord(r *uint256.Int, data []byte, off *uint256.Int) {
	var buf [32]byte
	if off.IsUint64() && off.Uint64() < uint64(len(data)) {
		copy(buf[:], data[off.Uint64():])
	}
	r.SetBytes(buf[:])
}

// srcOffset clamps a 256-bit source offset for the copy family; anything
// past the source is all padding, so the clamp value just needs to be out
// of range.
func srcOffset(off *uint256.Int, srcLen uint64) uint64 {
	if !off.IsUint64() {
		return srcLen
	}
	return off.Uint64()
}
