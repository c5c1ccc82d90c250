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

// Package runtime carries everything compiled code needs at run time: the
// execution context shared across the ABI, the host syscall table, the IR
// executor used as the reference engine, and the invoker.
package runtime

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/aotevm/aotevm/core/compiler"
	"github.com/aotevm/aotevm/core/compiler/ir"
)

// Env is the read-only environment block of one call frame. Word-valued
// fields are exposed to emitted code at the offsets fixed by the compiler's
// layout table.
type Env struct {
	Address common.Address
	Caller  common.Address
	Origin  common.Address

	CallValue *uint256.Int
	GasPrice  *uint256.Int
	ChainID   *uint256.Int

	Coinbase    common.Address
	Timestamp   uint64
	Number      uint64
	PrevRandao  common.Hash
	GasLimit    uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	BlobHashes  []common.Hash

	CallData []byte
	Code     []byte
}

// Log is one emitted LOG0..LOG4 record.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// ExecutionContext is the single mutable object of one program execution.
// It is created by the invoker immediately before the call, mutated only by
// the compiled entry and the syscalls it invokes, inspected after return,
// then discarded. There is no global state.
type ExecutionContext struct {
	Stack []uint256.Int // pre-allocated MaxStackSize slots
	SP    int           // index of the next free slot, in [0, MaxStackSize]

	Memory []byte // byte-addressable, grows in 32-byte words
	Gas    int64  // signed so the out-of-gas test is a sign check
	PC     uint64 // updated only when observable

	ReturnOff uint64 // return data slice within Memory
	ReturnLen uint64

	Env    *Env
	Status ir.Status
	Logs   []Log

	// callReturn holds the output of the most recent nested CALL; kept
	// for the host's benefit, emitted code reads call output from Memory.
	callReturn []byte
}

// NewExecutionContext prepares a context for one execution.
func NewExecutionContext(env *Env, gasLimit uint64) *ExecutionContext {
	return &ExecutionContext{
		Stack: make([]uint256.Int, compiler.MaxStackSize),
		Gas:   int64(gasLimit),
		Env:   env,
	}
}

// ReturnData copies out the buffer recorded by RETURN or REVERT.
func (ctx *ExecutionContext) ReturnData() []byte {
	if ctx.ReturnLen == 0 {
		return nil
	}
	out := make([]byte, ctx.ReturnLen)
	copy(out, ctx.Memory[ctx.ReturnOff:ctx.ReturnOff+ctx.ReturnLen])
	return out
}

// MemWords returns the current memory length in 32-byte words.
func (ctx *ExecutionContext) MemWords() uint64 {
	return uint64(len(ctx.Memory)) / compiler.WordSize
}

// envWord resolves a pure environment field to its 256-bit value.
func (ctx *ExecutionContext) envWord(field compiler.EnvField) *uint256.Int {
	env := ctx.Env
	w := new(uint256.Int)
	switch field {
	case compiler.EnvAddress:
		w.SetBytes(env.Address.Bytes())
	case compiler.EnvCaller:
		w.SetBytes(env.Caller.Bytes())
	case compiler.EnvOrigin:
		w.SetBytes(env.Origin.Bytes())
	case compiler.EnvCallValue:
		setOrZero(w, env.CallValue)
	case compiler.EnvGasPrice:
		setOrZero(w, env.GasPrice)
	case compiler.EnvCoinbase:
		w.SetBytes(env.Coinbase.Bytes())
	case compiler.EnvTimestamp:
		w.SetUint64(env.Timestamp)
	case compiler.EnvNumber:
		w.SetUint64(env.Number)
	case compiler.EnvPrevRandao:
		w.SetBytes(env.PrevRandao.Bytes())
	case compiler.EnvGasLimit:
		w.SetUint64(env.GasLimit)
	case compiler.EnvChainID:
		setOrZero(w, env.ChainID)
	case compiler.EnvBaseFee:
		setOrZero(w, env.BaseFee)
	case compiler.EnvBlobBaseFee:
		setOrZero(w, env.BlobBaseFee)
	case compiler.EnvCallDataLen:
		w.SetUint64(uint64(len(env.CallData)))
	case compiler.EnvCodeLen:
		w.SetUint64(uint64(len(env.Code)))
	}
	return w
}

func setOrZero(dst, src *uint256.Int) {
	if src != nil {
		dst.Set(src)
	}
}
