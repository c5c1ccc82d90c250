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
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/aotevm/aotevm/core/compiler/ir"
)

const testGas = 10_000_000

// execute compiles and runs code against a fresh in-memory host.
func execute(t *testing.T, code []byte, gas uint64) *ExecutionResult {
	t.Helper()
	res, _ := executeDb(t, code, gas, nil)
	return res
}

func executeDb(t *testing.T, code []byte, gas uint64, env *Env) (*ExecutionResult, *MemoryDb) {
	t.Helper()
	if env == nil {
		env = &Env{}
	}
	db := NewMemoryDb()
	res, err := Run(code, env, gas, db)
	require.NoError(t, err)
	return res, db
}

// returnTop is appended to code that leaves one word on the stack; it
// stores the word at memory 0 and returns it.
var returnTop = []byte{0x5F, 0x52, 0x60, 0x20, 0x5F, 0xF3}

// returnTopGas is what the suffix itself costs on fresh memory.
const returnTopGas = 13

func topWord(t *testing.T, res *ExecutionResult) *uint256.Int {
	t.Helper()
	require.Len(t, res.ReturnData, 32)
	return new(uint256.Int).SetBytes(res.ReturnData)
}

func TestReturnArithmetic(t *testing.T) {
	// PUSH1 42; PUSH1 3; ADD; PUSH1 0; MSTORE; PUSH1 32; PUSH1 0; RETURN
	code := []byte{0x60, 0x2A, 0x60, 0x03, 0x01, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xF3}
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, uint64(24), res.GasUsed)

	want := make([]byte, 32)
	want[31] = 45
	require.Equal(t, want, res.ReturnData)
}

func TestRevertEmpty(t *testing.T) {
	// PUSH0; PUSH0; REVERT
	res := execute(t, []byte{0x5F, 0x5F, 0xFD}, testGas)
	require.Equal(t, ir.StatusRevert, res.Status)
	require.Empty(t, res.ReturnData)
	require.Equal(t, uint64(4), res.GasUsed, "2*PUSH0 plus free REVERT")
}

func TestInvalidJumpOutOfRange(t *testing.T) {
	// PUSH1 8; JUMP - offset 8 is past the end of the 7-byte code.
	res := execute(t, []byte{0x60, 0x08, 0x56, 0x5B, 0x00, 0x5B, 0x00}, testGas)
	require.Equal(t, ir.StatusInvalidJump, res.Status)
	require.Equal(t, uint64(testGas), res.GasUsed, "invalid jump consumes all gas")
}

func TestInvalidJumpNotJumpdest(t *testing.T) {
	// PUSH1 4; JUMP - offset 4 holds STOP, not JUMPDEST.
	res := execute(t, []byte{0x60, 0x04, 0x56, 0x5B, 0x00}, testGas)
	require.Equal(t, ir.StatusInvalidJump, res.Status)
}

func TestValidJump(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST; STOP
	res := execute(t, []byte{0x60, 0x03, 0x56, 0x5B, 0x00}, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, uint64(3+8), res.GasUsed)
}

func TestJumpDestinationBeyond32Bits(t *testing.T) {
	// PUSH5 0x0100000000; JUMP - destinations >= 2^32 never hit the table.
	res := execute(t, []byte{0x64, 0x01, 0x00, 0x00, 0x00, 0x00, 0x56}, testGas)
	require.Equal(t, ir.StatusInvalidJump, res.Status)
}

func TestJumpiTakenAndNot(t *testing.T) {
	// PUSH1 1; PUSH1 6; JUMPI; INVALID; JUMPDEST; STOP
	taken := []byte{0x60, 0x01, 0x60, 0x06, 0x57, 0xFE, 0x5B, 0x00}
	res := execute(t, taken, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)

	// PUSH1 0; PUSH1 6; JUMPI; STOP; ...: condition zero falls through.
	notTaken := []byte{0x60, 0x00, 0x60, 0x06, 0x57, 0x00, 0x5B, 0xFE}
	res = execute(t, notTaken, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
}

func TestStackOverflow(t *testing.T) {
	code := bytes.Repeat([]byte{0x5F}, 1025)
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusStackOverflow, res.Status)
	require.Equal(t, uint64(testGas), res.GasUsed)
}

func TestStackLimitExactFit(t *testing.T) {
	code := bytes.Repeat([]byte{0x5F}, 1024)
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, uint64(2*1024), res.GasUsed)
}

func TestStackUnderflow(t *testing.T) {
	res := execute(t, []byte{0x01}, testGas) // ADD on an empty stack
	require.Equal(t, ir.StatusStackUnderflow, res.Status)
	require.Equal(t, uint64(testGas), res.GasUsed)
}

func TestOutOfGas(t *testing.T) {
	res := execute(t, []byte{0x5F}, 1)
	require.Equal(t, ir.StatusOutOfGas, res.Status)
	require.Equal(t, uint64(1), res.GasUsed)
}

func TestInvalidOpcode(t *testing.T) {
	for _, code := range [][]byte{
		{0xFE}, // INVALID proper
		{0xF0}, // CREATE, not in the implemented set
		{0x3D}, // RETURNDATASIZE, not in the implemented set
		{0x0C}, // hole in the opcode space
	} {
		res := execute(t, code, testGas)
		require.Equal(t, ir.StatusInvalidOpcode, res.Status, "code %x", code)
		require.Equal(t, uint64(testGas), res.GasUsed, "code %x", code)
	}
}

func TestModularWrap(t *testing.T) {
	// MAX_U256 + 1 wraps to zero.
	code := append([]byte{0x7F}, bytes.Repeat([]byte{0xFF}, 32)...)
	code = append(code, 0x60, 0x01, 0x01) // PUSH1 1; ADD
	code = append(code, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.True(t, topWord(t, res).IsZero())
	require.Equal(t, uint64(3+3+3+returnTopGas), res.GasUsed)
}

func TestDivModByZero(t *testing.T) {
	tests := []struct {
		name string
		op   byte
	}{
		{"DIV", 0x04}, {"SDIV", 0x05}, {"MOD", 0x06}, {"SMOD", 0x07},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// x=5, divisor=0: PUSH1 0; PUSH1 5; <op>
			code := append([]byte{0x60, 0x00, 0x60, 0x05, tt.op}, returnTop...)
			res := execute(t, code, testGas)
			require.Equal(t, ir.StatusSuccess, res.Status)
			require.True(t, topWord(t, res).IsZero())
		})
	}
}

func TestSdivMinByMinusOne(t *testing.T) {
	// MIN_I256 / -1 must produce MIN_I256 without trapping.
	minI256 := append([]byte{0x80}, bytes.Repeat([]byte{0x00}, 31)...)
	code := append([]byte{0x7F}, bytes.Repeat([]byte{0xFF}, 32)...) // PUSH32 -1
	code = append(code, 0x7F)
	code = append(code, minI256...) // PUSH32 MIN (numerator on top)
	code = append(code, 0x05)       // SDIV
	code = append(code, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, minI256, res.ReturnData)
}

func TestAddmodMulmodZeroModulus(t *testing.T) {
	// (1 + 2) mod 0 and (1 * 2) mod 0 are zero.
	for _, op := range []byte{0x08, 0x09} {
		code := append([]byte{0x60, 0x00, 0x60, 0x02, 0x60, 0x01, op}, returnTop...)
		res := execute(t, code, testGas)
		require.Equal(t, ir.StatusSuccess, res.Status)
		require.True(t, topWord(t, res).IsZero(), "op %x", op)
	}
}

func TestExp(t *testing.T) {
	// 10^2 = 100; exponent on the second slot.
	code := append([]byte{0x60, 0x02, 0x60, 0x0A, 0x0A}, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, uint64(100), topWord(t, res).Uint64())
	// 3 + 3 + (10 + 50*1 byte of exponent) + suffix
	require.Equal(t, uint64(3+3+60+returnTopGas), res.GasUsed)
}

func TestByte(t *testing.T) {
	word := append([]byte{0x7F, 0xAA}, bytes.Repeat([]byte{0x00}, 30)...)
	word = append(word, 0xBB) // PUSH32 0xAA...BB
	tests := []struct {
		index byte
		want  uint64
	}{
		{0, 0xAA}, {31, 0xBB}, {15, 0},
	}
	for _, tt := range tests {
		code := append(append([]byte{}, word...), 0x60, tt.index, 0x1A)
		code = append(code, returnTop...)
		res := execute(t, code, testGas)
		require.Equal(t, tt.want, topWord(t, res).Uint64(), "index %d", tt.index)
	}
	// Index >= 32 yields zero.
	code := append(append([]byte{}, word...), 0x60, 0x20, 0x1A)
	code = append(code, returnTop...)
	require.True(t, topWord(t, execute(t, code, testGas)).IsZero())
}

func TestShifts(t *testing.T) {
	// value 1, shift 255: SHL keeps the top bit.
	code := append([]byte{0x60, 0x01, 0x60, 0xFF, 0x1B}, returnTop...)
	res := execute(t, code, testGas)
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	require.Equal(t, want, topWord(t, res))

	// Shift count 256 clears the word for SHL and SHR.
	for _, op := range []byte{0x1B, 0x1C} {
		code := append([]byte{0x60, 0x01, 0x61, 0x01, 0x00, op}, returnTop...)
		require.True(t, topWord(t, execute(t, code, testGas)).IsZero(), "op %x", op)
	}
}

func TestSarSignFill(t *testing.T) {
	// -1 >> 256 (arithmetic) stays all ones.
	code := append([]byte{0x7F}, bytes.Repeat([]byte{0xFF}, 32)...)
	code = append(code, 0x61, 0x01, 0x00, 0x1D) // PUSH2 256; SAR
	code = append(code, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 32), res.ReturnData)

	// +1 >> 256 is zero.
	code = append([]byte{0x60, 0x01, 0x61, 0x01, 0x00, 0x1D}, returnTop...)
	require.True(t, topWord(t, execute(t, code, testGas)).IsZero())
}

func TestSignExtend(t *testing.T) {
	// Extending 0xFF from byte 0 gives -1.
	code := append([]byte{0x60, 0xFF, 0x60, 0x00, 0x0B}, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 32), res.ReturnData)
}

func TestComparisons(t *testing.T) {
	// 1 < 2, computed as LT(top=1, next=2).
	code := append([]byte{0x60, 0x02, 0x60, 0x01, 0x10}, returnTop...)
	require.Equal(t, uint64(1), topWord(t, execute(t, code, testGas)).Uint64())

	// SLT: -1 < 1 signed.
	code = append([]byte{0x60, 0x01, 0x7F}, bytes.Repeat([]byte{0xFF}, 32)...)
	code = append(code, 0x12)
	code = append(code, returnTop...)
	require.Equal(t, uint64(1), topWord(t, execute(t, code, testGas)).Uint64())
}

func TestDupSwap(t *testing.T) {
	// PUSH1 1; PUSH1 2; DUP2: top becomes the deeper 1.
	code := append([]byte{0x60, 0x01, 0x60, 0x02, 0x81}, returnTop...)
	require.Equal(t, uint64(1), topWord(t, execute(t, code, testGas)).Uint64())

	// PUSH1 1; PUSH1 2; SWAP1: top becomes 1.
	code = append([]byte{0x60, 0x01, 0x60, 0x02, 0x90}, returnTop...)
	require.Equal(t, uint64(1), topWord(t, execute(t, code, testGas)).Uint64())
}

func TestMemoryExpansionGasCharge(t *testing.T) {
	// MLOAD at 992 grows memory to 1024 bytes = 32 words: 3*32+32*32/512.
	code := []byte{0x61, 0x03, 0xE0, 0x51, 0x00}
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)
	require.Equal(t, uint64(3+3+98), res.GasUsed)
}

func TestMsize(t *testing.T) {
	// MLOAD at 0 grows memory to one word; MSIZE reports 32.
	code := append([]byte{0x5F, 0x51, 0x50, 0x59}, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, uint64(32), topWord(t, res).Uint64())
}

func TestMstore8(t *testing.T) {
	// MSTORE8 truncates to the low byte.
	code := []byte{0x61, 0x01, 0xAB, 0x5F, 0x53, 0x60, 0x01, 0x5F, 0xF3}
	res := execute(t, code, testGas)
	require.Equal(t, []byte{0xAB}, res.ReturnData)
}

func TestMcopyOverlap(t *testing.T) {
	// Fill the first word, then copy it forward by 8 bytes over itself.
	word := append([]byte{0x7F}, bytes.Repeat([]byte{0x11}, 24)...)
	word = append(word, bytes.Repeat([]byte{0x22}, 8)...)
	code := append(append([]byte{}, word...), 0x5F, 0x52) // MSTORE at 0
	code = append(code, 0x60, 0x20, 0x5F, 0x60, 0x08, 0x5E) // MCOPY dst=8 src=0 len=32
	code = append(code, 0x60, 0x28, 0x5F, 0xF3)             // RETURN 40 bytes
	res := execute(t, code, testGas)
	require.Equal(t, ir.StatusSuccess, res.Status)

	want := make([]byte, 40)
	copy(want, bytes.Repeat([]byte{0x11}, 8)) // untouched prefix
	copy(want[8:], append(bytes.Repeat([]byte{0x11}, 24), bytes.Repeat([]byte{0x22}, 8)...))
	require.Equal(t, want, res.ReturnData)
}

func TestKeccakEmpty(t *testing.T) {
	code := append([]byte{0x5F, 0x5F, 0x20}, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t,
		common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
		common.BytesToHash(res.ReturnData))
	require.Equal(t, uint64(2+2+30+returnTopGas), res.GasUsed)
}

func TestKeccakWordCost(t *testing.T) {
	// Hashing 33 bytes charges 30 + 2*6 plus expansion of 2 words.
	code := []byte{0x60, 0x21, 0x5F, 0x20, 0x00} // PUSH1 33; PUSH0; KECCAK256; STOP
	res := execute(t, code, testGas)
	require.Equal(t, uint64(3+2+30+12+6), res.GasUsed)
}

func TestCalldata(t *testing.T) {
	env := &Env{CallData: []byte{0xAA, 0xBB}}

	// CALLDATALOAD at 0: bytes land in the most significant positions.
	code := append([]byte{0x5F, 0x35}, returnTop...)
	res, _ := executeDb(t, code, testGas, env)
	want := new(uint256.Int).Lsh(uint256.NewInt(0xAABB), 240)
	require.Equal(t, want, topWord(t, res))

	// CALLDATASIZE
	env = &Env{CallData: []byte{0xAA, 0xBB}}
	code = append([]byte{0x36}, returnTop...)
	res, _ = executeDb(t, code, testGas, env)
	require.Equal(t, uint64(2), topWord(t, res).Uint64())

	// CALLDATACOPY pads past the end of calldata with zeros.
	env = &Env{CallData: []byte{0xAA, 0xBB}}
	code = []byte{0x60, 0x20, 0x5F, 0x5F, 0x37, 0x60, 0x20, 0x5F, 0xF3}
	res, _ = executeDb(t, code, testGas, env)
	wantData := make([]byte, 32)
	wantData[0], wantData[1] = 0xAA, 0xBB
	require.Equal(t, wantData, res.ReturnData)
}

func TestCodecopy(t *testing.T) {
	// Copy the first 4 code bytes to memory and return them.
	code := []byte{0x60, 0x04, 0x5F, 0x5F, 0x39, 0x60, 0x04, 0x5F, 0xF3}
	res := execute(t, code, testGas)
	require.Equal(t, []byte{0x60, 0x04, 0x5F, 0x5F}, res.ReturnData)
}

func TestPCOpcode(t *testing.T) {
	// PUSH1 0; POP; PC: the PC opcode sits at offset 3.
	code := append([]byte{0x60, 0x00, 0x50, 0x58}, returnTop...)
	res := execute(t, code, testGas)
	require.Equal(t, uint64(3), topWord(t, res).Uint64())
}

func TestGasOpcode(t *testing.T) {
	// GAS pushes the counter after its own charge.
	code := append([]byte{0x5A}, returnTop...)
	res := execute(t, code, 100)
	require.Equal(t, uint64(98), topWord(t, res).Uint64())
	require.Equal(t, uint64(2+returnTopGas), res.GasUsed)
}

func TestEnvReads(t *testing.T) {
	env := &Env{
		Address:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Caller:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		CallValue: uint256.NewInt(7),
		Timestamp: 1234,
		Number:    5678,
		ChainID:   uint256.NewInt(56),
	}
	tests := []struct {
		name string
		op   byte
		want *uint256.Int
	}{
		{"ADDRESS", 0x30, new(uint256.Int).SetBytes(env.Address.Bytes())},
		{"CALLER", 0x33, new(uint256.Int).SetBytes(env.Caller.Bytes())},
		{"CALLVALUE", 0x34, uint256.NewInt(7)},
		{"TIMESTAMP", 0x42, uint256.NewInt(1234)},
		{"NUMBER", 0x43, uint256.NewInt(5678)},
		{"CHAINID", 0x46, uint256.NewInt(56)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := *env
			code := append([]byte{tt.op}, returnTop...)
			res, _ := executeDb(t, code, testGas, &e)
			require.Equal(t, tt.want, topWord(t, res))
		})
	}
}

func TestBlobHash(t *testing.T) {
	h := common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	env := &Env{BlobHashes: []common.Hash{h}}
	code := append([]byte{0x5F, 0x49}, returnTop...)
	res, _ := executeDb(t, code, testGas, env)
	require.Equal(t, h, common.BytesToHash(res.ReturnData))

	// Out-of-range index yields zero.
	env = &Env{BlobHashes: []common.Hash{h}}
	code = append([]byte{0x60, 0x01, 0x49}, returnTop...)
	res, _ = executeDb(t, code, testGas, env)
	require.True(t, topWord(t, res).IsZero())
}
