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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/aotevm/aotevm/core/compiler/ir"
)

// Host is the state backend behind the syscall table. Implementations own
// warm/cold access tracking (EIP-2929) and the storage gas schedule
// (EIP-2200); every accessor except BlockHash reports the dynamic gas to
// charge alongside its result. The compiled code never sees refunds; those stay host-side.
type Host interface {
	SLoad(addr common.Address, key common.Hash) (value common.Hash, gas uint64)
	SStore(addr common.Address, key, value common.Hash) (gas uint64)
	Balance(addr common.Address) (balance *uint256.Int, gas uint64)
	CodeSize(addr common.Address) (size uint64, gas uint64)
	CodeHash(addr common.Address) (hash common.Hash, gas uint64)
	Code(addr common.Address) (code []byte, gas uint64)
	BlockHash(number uint64) common.Hash
	Call(p CallParams) CallResult
}

// CallParams describes a nested CALL as seen by the host.
type CallParams struct {
	Caller  common.Address
	Address common.Address
	Value   *uint256.Int
	Input   []byte
	Gas     uint64 // gas offered by the caller's CALL argument
}

// CallResult is the host's answer. GasCost is the full charge for the call
// site (access cost, value transfer, new-account surcharge and consumed
// callee gas); Success false pushes zero on the caller's stack without
// aborting the frame.
type CallResult struct {
	Success    bool
	ReturnData []byte
	GasCost    uint64
}

// Syscalls is the flat function table emitted code calls back into. Every
// entry takes the execution context first and returns a status; non-zero
// means a host-signaled fatal condition and the compiled code branches
// straight to the epilogue without resuming.
type Syscalls struct {
	Keccak        func(ctx *ExecutionContext, off, size uint64, out *uint256.Int) ir.Status
	SLoad         func(ctx *ExecutionContext, key, out *uint256.Int) ir.Status
	SStore        func(ctx *ExecutionContext, key, val *uint256.Int) ir.Status
	Balance       func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status
	SelfBalance   func(ctx *ExecutionContext, out *uint256.Int) ir.Status
	ExtCodeSize   func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status
	ExtCodeCopy   func(ctx *ExecutionContext, addr *uint256.Int, dst, codeOff, size uint64) ir.Status
	ExtCodeHash   func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status
	BlockHash     func(ctx *ExecutionContext, num, out *uint256.Int) ir.Status
	Log           func(ctx *ExecutionContext, off, size uint64, topics []uint256.Int) ir.Status
	Call          func(ctx *ExecutionContext, gas, addr, value *uint256.Int, inOff, inLen, outOff, outLen uint64, out *uint256.Int) ir.Status
	ReturnDataSet func(ctx *ExecutionContext, off, size uint64) ir.Status
}

// charge burns dynamic gas inside a syscall. False means out of gas.
func charge(ctx *ExecutionContext, amount uint64) bool {
	if amount > 1<<62 {
		ctx.Gas = -1
		return false
	}
	ctx.Gas -= int64(amount)
	return ctx.Gas >= 0
}

// wordAddr truncates a 256-bit word to a 20-byte address, discarding the
// upper 12 bytes.
func wordAddr(w *uint256.Int) common.Address {
	b := w.Bytes32()
	return common.BytesToAddress(b[12:])
}

// NewSyscalls binds the syscall table to a host backend.
func NewSyscalls(host Host) *Syscalls {
	return &Syscalls{
		Keccak: func(ctx *ExecutionContext, off, size uint64, out *uint256.Int) ir.Status {
			out.SetBytes(crypto.Keccak256(ctx.Memory[off : off+size]))
			return ir.StatusSuccess
		},
		SLoad: func(ctx *ExecutionContext, key, out *uint256.Int) ir.Status {
			val, gas := host.SLoad(ctx.Env.Address, key.Bytes32())
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			out.SetBytes(val.Bytes())
			return ir.StatusSuccess
		},
		SStore: func(ctx *ExecutionContext, key, val *uint256.Int) ir.Status {
			// EIP-2200 aborts an SSTORE attempted with no more than the
			// call stipend left.
			if ctx.Gas <= int64(params.SstoreSentryGasEIP2200) {
				return ir.StatusOutOfGas
			}
			gas := host.SStore(ctx.Env.Address, key.Bytes32(), val.Bytes32())
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			return ir.StatusSuccess
		},
		Balance: func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status {
			bal, gas := host.Balance(wordAddr(addr))
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			out.Set(bal)
			return ir.StatusSuccess
		},
		SelfBalance: func(ctx *ExecutionContext, out *uint256.Int) ir.Status {
			// SELFBALANCE is priced as a static low-tier opcode; the
			// host lookup is free of access charges.
			bal, _ := host.Balance(ctx.Env.Address)
			out.Set(bal)
			return ir.StatusSuccess
		},
		ExtCodeSize: func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status {
			size, gas := host.CodeSize(wordAddr(addr))
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			out.SetUint64(size)
			return ir.StatusSuccess
		},
		ExtCodeCopy: func(ctx *ExecutionContext, addr *uint256.Int, dst, codeOff, size uint64) ir.Status {
			code, gas := host.Code(wordAddr(addr))
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			copyPadded(ctx.Memory[dst:dst+size], code, codeOff)
			return ir.StatusSuccess
		},
		ExtCodeHash: func(ctx *ExecutionContext, addr, out *uint256.Int) ir.Status {
			hash, gas := host.CodeHash(wordAddr(addr))
			if !charge(ctx, gas) {
				return ir.StatusOutOfGas
			}
			out.SetBytes(hash.Bytes())
			return ir.StatusSuccess
		},
		BlockHash: func(ctx *ExecutionContext, num, out *uint256.Int) ir.Status {
			// Only the 256 most recent blocks resolve; anything else,
			// including future and overflowing numbers, yields zero.
			out.Clear()
			if num.IsUint64() {
				n := num.Uint64()
				cur := ctx.Env.Number
				if n < cur && cur-n <= 256 {
					out.SetBytes(host.BlockHash(n).Bytes())
				}
			}
			return ir.StatusSuccess
		},
		Log: func(ctx *ExecutionContext, off, size uint64, topics []uint256.Int) ir.Status {
			l := Log{Address: ctx.Env.Address}
			for i := range topics {
				l.Topics = append(l.Topics, topics[i].Bytes32())
			}
			l.Data = make([]byte, size)
			copy(l.Data, ctx.Memory[off:off+size])
			ctx.Logs = append(ctx.Logs, l)
			return ir.StatusSuccess
		},
		Call: func(ctx *ExecutionContext, gas, addr, value *uint256.Int, inOff, inLen, outOff, outLen uint64, out *uint256.Int) ir.Status {
			offered := uint64(ctx.Gas)
			if gas.IsUint64() && gas.Uint64() < offered {
				offered = gas.Uint64()
			}
			input := make([]byte, inLen)
			copy(input, ctx.Memory[inOff:inOff+inLen])
			res := host.Call(CallParams{
				Caller:  ctx.Env.Address,
				Address: wordAddr(addr),
				Value:   value.Clone(),
				Input:   input,
				Gas:     offered,
			})
			if !charge(ctx, res.GasCost) {
				return ir.StatusOutOfGas
			}
			ctx.callReturn = res.ReturnData
			n := uint64(len(res.ReturnData))
			if n > outLen {
				n = outLen
			}
			copy(ctx.Memory[outOff:outOff+n], res.ReturnData[:n])
			if res.Success {
				out.SetOne()
			} else {
				out.Clear()
			}
			return ir.StatusSuccess
		},
		ReturnDataSet: func(ctx *ExecutionContext, off, size uint64) ir.Status {
			ctx.ReturnOff, ctx.ReturnLen = off, size
			return ir.StatusSuccess
		},
	}
}

// copyPadded fills dst from src starting at srcOff, zero-filling anything
// past the end of src.
func copyPadded(dst, src []byte, srcOff uint64) {
	n := 0
	if srcOff < uint64(len(src)) {
		n = copy(dst, src[srcOff:])
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
