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

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestConstantGasTable(t *testing.T) {
	tests := []struct {
		op   OpCode
		want uint64
	}{
		{STOP, 0},
		{JUMPDEST, 0},
		{ADDRESS, 2},
		{POP, 2},
		{PUSH0, 2},
		{MSIZE, 2},
		{GAS, 2},
		{PC, 2},
		{ADD, 3},
		{NOT, 3},
		{ISZERO, 3},
		{SAR, 3},
		{PUSH1, 3},
		{PUSH32, 3},
		{DUP1, 3},
		{DUP16, 3},
		{SWAP1, 3},
		{SWAP16, 3},
		{MLOAD, 3},
		{MSTORE8, 3},
		{CALLDATALOAD, 3},
		{CALLDATASIZE, 3},
		{CODESIZE, 3},
		{MUL, 5},
		{SDIV, 5},
		{SIGNEXTEND, 5},
		{SELFBALANCE, 5},
		{ADDMOD, 8},
		{MULMOD, 8},
		{JUMP, 8},
		{JUMPI, 10},
		{EXP, 10},
		{KECCAK256, 30},
		{BLOCKHASH, 20},
		{LOG0, 375},
		{LOG1, 750},
		{LOG4, 1875},
		// Whole-cost-dynamic opcodes charge nothing up front.
		{SLOAD, 0},
		{SSTORE, 0},
		{BALANCE, 0},
		{EXTCODESIZE, 0},
		{EXTCODEHASH, 0},
		{CALL, 0},
		{RETURN, 0},
		{REVERT, 0},
		{INVALID, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ConstantGas(tt.op), "opcode %v", tt.op)
	}
}

func TestMemoryGasCost(t *testing.T) {
	require.Equal(t, uint64(0), MemoryGasCost(0))
	require.Equal(t, uint64(3), MemoryGasCost(1))
	// 32 words: 3*32 + 32*32/512 = 96 + 2
	require.Equal(t, uint64(98), MemoryGasCost(32))
	// 1024 words: 3*1024 + 1024*1024/512 = 3072 + 2048
	require.Equal(t, uint64(5120), MemoryGasCost(1024))
}

func TestMemoryExpansionGas(t *testing.T) {
	require.Equal(t, uint64(3), MemoryExpansionGas(0, 1))
	require.Equal(t, uint64(0), MemoryExpansionGas(4, 4))
	require.Equal(t, uint64(0), MemoryExpansionGas(4, 2), "memory never shrinks")
	require.Equal(t, MemoryGasCost(32)-MemoryGasCost(1), MemoryExpansionGas(1, 32))
}

func TestToWordSize(t *testing.T) {
	require.Equal(t, uint64(0), ToWordSize(0))
	require.Equal(t, uint64(1), ToWordSize(1))
	require.Equal(t, uint64(1), ToWordSize(32))
	require.Equal(t, uint64(2), ToWordSize(33))
}

func TestExpDynamicGas(t *testing.T) {
	require.Equal(t, uint64(0), ExpDynamicGas(uint256.NewInt(0)))
	require.Equal(t, uint64(50), ExpDynamicGas(uint256.NewInt(0xFF)))
	require.Equal(t, uint64(100), ExpDynamicGas(uint256.NewInt(0x100)))
	require.Equal(t, uint64(1600), ExpDynamicGas(new(uint256.Int).Not(uint256.NewInt(0))))
}
