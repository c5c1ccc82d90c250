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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotevm/aotevm/core/compiler/ir"
)

func emit(t *testing.T, code []byte) *ir.Func {
	t.Helper()
	f, err := EmitIR(BuildCFG(Decode(code)), "test")
	require.NoError(t, err)
	return f
}

func TestEmitPrologueOrder(t *testing.T) {
	// The gas check precedes the stack check, which precedes the body.
	f := emit(t, []byte{0x60, 0x01}) // PUSH1 1
	instrs := f.Entry().Instrs
	require.Equal(t, ir.GasCheck, instrs[0].Op)
	require.Equal(t, int64(3), instrs[0].Imm64)
	require.Equal(t, ir.StackCheck, instrs[1].Op)
	require.Equal(t, int64(0), instrs[1].Imm64)
	require.Equal(t, 1, instrs[1].Aux)
	require.Equal(t, ir.Const, instrs[2].Op)
	require.Equal(t, ir.StackPush, instrs[3].Op)
}

func TestEmitJumpTable(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST; STOP
	f := emit(t, []byte{0x60, 0x03, 0x56, 0x5B, 0x00})
	require.Len(t, f.JumpTable, 6)
	for pc, idx := range f.JumpTable {
		if pc == 3 {
			require.GreaterOrEqual(t, idx, 0)
			require.True(t, f.Blocks[idx].JumpTarget)
			require.Equal(t, uint64(3), f.Blocks[idx].EntryPC)
		} else {
			require.Equal(t, -1, idx, "pc %d", pc)
		}
	}
}

func TestEmitJumpdestInPushNotInTable(t *testing.T) {
	// PUSH2 0x5B5B: the 0x5B bytes are immediates, not destinations.
	f := emit(t, []byte{0x61, 0x5B, 0x5B, 0x00})
	for pc, idx := range f.JumpTable {
		require.Equal(t, -1, idx, "pc %d", pc)
	}
}

func TestEmitTerminators(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want ir.Status
	}{
		{"stop", []byte{0x00}, ir.StatusSuccess},
		{"invalid", []byte{0xFE}, ir.StatusInvalidOpcode},
		{"implicit stop", []byte{0x5B}, ir.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := emit(t, tt.code)
			last := f.Entry().Instrs[len(f.Entry().Instrs)-1]
			require.Equal(t, ir.Exit, last.Op)
			require.Equal(t, int64(tt.want), last.Imm64)
		})
	}
}

func TestEmitRevertSetsReturnData(t *testing.T) {
	// PUSH0 PUSH0 REVERT lowers to expansion, return-buffer write, exit.
	f := emit(t, []byte{0x5F, 0x5F, 0xFD})
	var ops []ir.Op
	for _, ins := range f.Entry().Instrs {
		ops = append(ops, ins.Op)
	}
	require.Contains(t, ops, ir.MemExpand)
	require.Contains(t, ops, ir.ReturnDataSet)
	last := f.Entry().Instrs[len(f.Entry().Instrs)-1]
	require.Equal(t, ir.Exit, last.Op)
	require.Equal(t, int64(ir.StatusRevert), last.Imm64)
}

func TestEmitJumpIFallthrough(t *testing.T) {
	// PUSH1 1; PUSH1 6; JUMPI; STOP; JUMPDEST; STOP
	f := emit(t, []byte{0x60, 0x01, 0x60, 0x06, 0x57, 0x00, 0x5B, 0x00})
	b0 := f.Entry()
	term := b0.Instrs[len(b0.Instrs)-1]
	require.Equal(t, ir.JumpI, term.Op)
	require.Equal(t, f.Blocks[term.Imm64].EntryPC, uint64(5))
}

func TestEmitJumpIAtEndOfCode(t *testing.T) {
	// A JUMPI with nothing after it falls through to a synthesized stop.
	f := emit(t, []byte{0x60, 0x00, 0x60, 0x00, 0x57})
	b0 := f.Entry()
	term := b0.Instrs[len(b0.Instrs)-1]
	require.Equal(t, ir.JumpI, term.Op)
	stop := f.Blocks[term.Imm64]
	last := stop.Instrs[len(stop.Instrs)-1]
	require.Equal(t, ir.Exit, last.Op)
	require.Equal(t, int64(ir.StatusSuccess), last.Imm64)
}

func TestEmitDynamicChargesBeforeEffect(t *testing.T) {
	// KECCAK256's word cost and memory expansion precede the syscall.
	f := emit(t, []byte{0x5F, 0x5F, 0x20, 0x00}) // PUSH0 PUSH0 KECCAK256 STOP
	var order []ir.Op
	for _, ins := range f.Entry().Instrs {
		switch ins.Op {
		case ir.ChargeDyn, ir.MemExpand, ir.Keccak:
			order = append(order, ins.Op)
		}
	}
	require.Equal(t, []ir.Op{ir.ChargeDyn, ir.MemExpand, ir.Keccak}, order)
}

func TestCompileCache(t *testing.T) {
	code := []byte{0x60, 0x01, 0x00}
	a, err := Compile(code, "a")
	require.NoError(t, err)
	b, err := Compile(code, "b")
	require.NoError(t, err)
	require.Same(t, a, b, "same code hash must hit the cache")
}
