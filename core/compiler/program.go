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
	"strings"

	"github.com/holiman/uint256"
)

// Operation is a single decoded instruction. Immutable after decode.
type Operation struct {
	Op OpCode
	PC uint64 // byte offset of the opcode within the original code

	// Imm holds the PUSH immediate, left-padded to 32 bytes. Nil for
	// anything that is not PUSH1..PUSH32.
	Imm *uint256.Int
}

func (op Operation) String() string {
	if op.Imm != nil {
		return fmt.Sprintf("%v 0x%x", op.Op, op.Imm)
	}
	return op.Op.String()
}

// Program is the decoded form of a contract: the ordered operation list, the
// mapping from byte offset to operation index, and the jump destination
// bitmap. The decoder is total; undecodable bytes become INVALID operations
// so that jump destinations behind them stay reachable.
type Program struct {
	Code      []byte
	Ops       []Operation
	PCToIndex map[uint64]int

	jumpdests bitvec
}

// Decode parses runtime bytecode into a Program. It cannot fail: unknown
// opcodes decode to INVALID and a PUSH whose immediate runs past the end of
// the code is zero-padded, mirroring execution-layer semantics.
func Decode(code []byte) *Program {
	p := &Program{
		Code:      code,
		Ops:       make([]Operation, 0, len(code)),
		PCToIndex: make(map[uint64]int, len(code)),
		jumpdests: jumpdestBitmap(code),
	}
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		p.PCToIndex[pc] = len(p.Ops)

		if op.IsPush() {
			n := uint64(op.PushBytes())
			var buf [32]byte
			end := pc + 1 + n
			if end > uint64(len(code)) {
				end = uint64(len(code))
			}
			imm := code[pc+1 : end]
			// Right-pad with zeros when the code ends inside the
			// immediate, then left-pad it to the 32-byte word.
			copy(buf[32-int(n):], imm)
			p.Ops = append(p.Ops, Operation{Op: op, PC: pc, Imm: new(uint256.Int).SetBytes(buf[:])})
			pc += 1 + n
			continue
		}
		if opCodeToString[op] == "" || notImplemented(op) {
			op = INVALID
		}
		p.Ops = append(p.Ops, Operation{Op: op, PC: pc})
		pc++
	}
	return p
}

// notImplemented reports opcodes that decode but are not part of the
// supported set; they execute as INVALID.
func notImplemented(op OpCode) bool {
	switch op {
	case RETURNDATASIZE, RETURNDATACOPY, TLOAD, TSTORE,
		CREATE, CREATE2, CALLCODE, DELEGATECALL, STATICCALL, SELFDESTRUCT:
		return true
	}
	return false
}

// ValidJumpdest reports whether dest is a JUMPDEST opcode outside of any
// PUSH immediate.
func (p *Program) ValidJumpdest(dest uint64) bool {
	return p.jumpdests.isSet(dest)
}

// Jumpdests returns the byte offsets of every valid jump destination in
// ascending order.
func (p *Program) Jumpdests() []uint64 {
	var dests []uint64
	for pc := uint64(0); pc < uint64(len(p.Code)); pc++ {
		if p.jumpdests.isSet(pc) {
			dests = append(dests, pc)
		}
	}
	return dests
}

// Disassemble renders the operation list, one instruction per line, with
// byte offsets. Valid jump destinations are suffixed with a marker.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for _, op := range p.Ops {
		if op.Op == JUMPDEST && p.ValidJumpdest(op.PC) {
			fmt.Fprintf(&b, "%05x: %v <-\n", op.PC, op)
			continue
		}
		fmt.Fprintf(&b, "%05x: %v\n", op.PC, op)
	}
	return b.String()
}
