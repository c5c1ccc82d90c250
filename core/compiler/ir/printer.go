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

package ir

import (
	"fmt"
	"strings"
)

// Layout supplies the context/env offsets baked into the rendered module.
// The compiler's symbol table implements it; keeping it an interface avoids
// an import cycle between the IR and the symbol table.
type Layout interface {
	EnvFieldOffset(field int64) uint64
	EnvFieldSymbol(field int64) string
}

// Syscall symbol names referenced by the rendered module. The runtime
// registers the same names when loading an artifact.
var syscallSymbols = map[Op]string{
	Keccak:        "evm_mlir__keccak256",
	SLoad:         "evm_mlir__sload",
	SStore:        "evm_mlir__sstore",
	Balance:       "evm_mlir__balance",
	SelfBalance:   "evm_mlir__selfbalance",
	ExtCodeSize:   "evm_mlir__extcodesize",
	ExtCodeCopy:   "evm_mlir__extcodecopy",
	ExtCodeHash:   "evm_mlir__extcodehash",
	BlockHash:     "evm_mlir__blockhash",
	Log:           "evm_mlir__log",
	Call:          "evm_mlir__call",
	ReturnDataSet: "evm_mlir__return_data_set",
	MemExpand:     "evm_mlir__extend_memory",
}

// opMnemonic maps register ops to the evm dialect mnemonics used in the
// textual form. The external pipeline legalizes the evm dialect into arith
// and llvm before lowering.
var opMnemonic = map[Op]string{
	Add: "arith.addi", Sub: "arith.subi", Mul: "arith.muli",
	UDiv: "evm.udiv", SDiv: "evm.sdiv", UMod: "evm.umod", SMod: "evm.smod",
	AddMod: "evm.addmod", MulMod: "evm.mulmod", Exp: "evm.exp",
	SignExtend: "evm.signextend",
	Lt:         "evm.lt", Gt: "evm.gt", Slt: "evm.slt", Sgt: "evm.sgt",
	Eq: "evm.eq", IsZero: "evm.iszero",
	And: "arith.andi", Or: "arith.ori", Xor: "arith.xori", Not: "evm.not",
	Byte: "evm.byte", Shl: "evm.shl", Shr: "evm.shr", Sar: "evm.sar",
	MLoad: "evm.mload", MStore: "evm.mstore", MStore8: "evm.mstore8",
	MSize: "evm.msize", MCopy: "evm.mcopy",
	CallDataLoad: "evm.calldataload", CallDataCopy: "evm.calldatacopy",
	CodeCopy: "evm.codecopy", BlobHash: "evm.blobhash",
	GasRemaining: "evm.gas",
	StackPush:    "evm.stack_push", StackPop: "evm.stack_pop",
	StackPeek: "evm.stack_peek", StackSwap: "evm.stack_swap",
}

// Print renders the function as a textual MLIR module. The rendering is
// deterministic so pass-pipeline artifacts diff cleanly between runs.
func Print(f *Func, l Layout) string {
	var w strings.Builder
	fmt.Fprintf(&w, "module attributes {evm.code_size = %d : i64} {\n", f.CodeLen)

	printJumpTable(&w, f)
	printDeclarations(&w)

	fmt.Fprintf(&w, "  llvm.func @main(%%ctx: !llvm.ptr, %%initial_gas: i64) -> i8 {\n")
	for _, b := range f.Blocks {
		printBlock(&w, b, l)
	}
	printTrampoline(&w, f.Trampoline)
	fmt.Fprintf(&w, "  }\n}\n")
	return w.String()
}

func printJumpTable(w *strings.Builder, f *Func) {
	elems := make([]string, len(f.JumpTable))
	for i, t := range f.JumpTable {
		elems[i] = fmt.Sprintf("%d", t)
	}
	fmt.Fprintf(w, "  llvm.mlir.global internal constant @evm_jump_table(dense<[%s]> : tensor<%dxi64>) : !llvm.array<%d x i64>\n",
		strings.Join(elems, ", "), len(f.JumpTable), len(f.JumpTable))
}

func printDeclarations(w *strings.Builder) {
	// Order the declarations by symbol name for stable output.
	decls := []string{
		"evm_mlir__balance", "evm_mlir__blockhash", "evm_mlir__call",
		"evm_mlir__extcodecopy", "evm_mlir__extcodehash", "evm_mlir__extcodesize",
		"evm_mlir__extend_memory", "evm_mlir__keccak256", "evm_mlir__log",
		"evm_mlir__return_data_set", "evm_mlir__selfbalance",
		"evm_mlir__sload", "evm_mlir__sstore",
	}
	for _, d := range decls {
		fmt.Fprintf(w, "  llvm.func @%s(!llvm.ptr, ...) -> i8\n", d)
	}
}

func printBlock(w *strings.Builder, b *Block, l Layout) {
	fmt.Fprintf(w, "  ^bb%d:  // pc %d\n", b.Num, b.EntryPC)
	sub := 0 // synthetic continuation labels for expanded checks
	for _, ins := range b.Instrs {
		switch ins.Op {
		case GasCheck:
			fmt.Fprintf(w, "    %%gas = evm.gas_sub %%ctx, %d : i64\n", ins.Imm64)
			fmt.Fprintf(w, "    %%oog = arith.cmpi slt, %%gas, %%c0_i64 : i64\n")
			fmt.Fprintf(w, "    cf.cond_br %%oog, ^trampoline(%d), ^bb%d_%d\n", statusOutOfGas, b.Num, sub)
			fmt.Fprintf(w, "  ^bb%d_%d:\n", b.Num, sub)
			sub++
		case StackCheck:
			fmt.Fprintf(w, "    %%sp = evm.stack_depth %%ctx : i64\n")
			fmt.Fprintf(w, "    %%bad = evm.stack_bounds %%sp, %d, %d : i1\n", ins.Imm64, ins.Aux)
			fmt.Fprintf(w, "    cf.cond_br %%bad, ^trampoline(%%bad_status), ^bb%d_%d\n", b.Num, sub)
			fmt.Fprintf(w, "  ^bb%d_%d:\n", b.Num, sub)
			sub++
		case ChargeDyn:
			fmt.Fprintf(w, "    evm.charge_dyn %s, %d, %d : i64\n", val(ins.Args[0]), ins.Imm64, ins.Aux)
		case Const:
			fmt.Fprintf(w, "    %s = arith.constant %s : i256\n", val(ins.Result), ins.Imm.Dec())
		case EnvRead:
			fmt.Fprintf(w, "    %s = evm.env_read @%s[%d] : i256\n",
				val(ins.Result), l.EnvFieldSymbol(ins.Imm64), l.EnvFieldOffset(ins.Imm64))
		case MemExpand, Keccak, SLoad, SStore, Balance, SelfBalance,
			ExtCodeSize, ExtCodeCopy, ExtCodeHash, BlockHash, Log, Call,
			ReturnDataSet:
			printSyscall(w, b, &sub, ins)
		case Br:
			fmt.Fprintf(w, "    cf.br ^bb%d\n", ins.Imm64)
		case Jump:
			fmt.Fprintf(w, "    evm.dispatch %s, @evm_jump_table : i256\n", val(ins.Args[0]))
		case JumpI:
			fmt.Fprintf(w, "    evm.dispatch_if %s, %s, ^bb%d, @evm_jump_table : i256\n",
				val(ins.Args[0]), val(ins.Args[1]), ins.Imm64)
		case Exit:
			fmt.Fprintf(w, "    %%status = arith.constant %d : i8\n", ins.Imm64)
			fmt.Fprintf(w, "    llvm.return %%status : i8\n")
		default:
			printSimple(w, ins)
		}
	}
}

func printSyscall(w *strings.Builder, b *Block, sub *int, ins Instr) {
	args := make([]string, 0, len(ins.Args)+1)
	args = append(args, "%ctx")
	for _, a := range ins.Args {
		args = append(args, val(a))
	}
	if ins.Op == Log {
		// topic count travels as a leading immediate
		args = append(args[:1], append([]string{fmt.Sprintf("%d", ins.Aux)}, args[1:]...)...)
	}
	if ins.Result != None {
		fmt.Fprintf(w, "    %s = llvm.call @%s(%s) : i256\n", val(ins.Result), syscallSymbols[ins.Op], strings.Join(args, ", "))
	} else {
		fmt.Fprintf(w, "    llvm.call @%s(%s) : i8\n", syscallSymbols[ins.Op], strings.Join(args, ", "))
	}
	// A host-signaled fatal error must not resume execution; the emitted
	// check branches straight to the function exit.
	fmt.Fprintf(w, "    %%fatal = evm.host_fatal %%ctx : i1\n")
	fmt.Fprintf(w, "    cf.cond_br %%fatal, ^exit, ^bb%d_%d\n", b.Num, *sub)
	fmt.Fprintf(w, "  ^bb%d_%d:\n", b.Num, *sub)
	*sub++
}

func printSimple(w *strings.Builder, ins Instr) {
	mn, ok := opMnemonic[ins.Op]
	if !ok {
		mn = fmt.Sprintf("evm.op%d", ins.Op)
	}
	args := make([]string, len(ins.Args))
	for i, a := range ins.Args {
		args[i] = val(a)
	}
	if ins.Op == StackPeek || ins.Op == StackSwap {
		args = append(args, fmt.Sprintf("%d", ins.Imm64))
	}
	if ins.Result != None {
		fmt.Fprintf(w, "    %s = %s %s : i256\n", val(ins.Result), mn, strings.Join(args, ", "))
		return
	}
	fmt.Fprintf(w, "    %s %s\n", mn, strings.Join(args, ", "))
}

func printTrampoline(w *strings.Builder, b *Block) {
	if b == nil {
		return
	}
	fmt.Fprintf(w, "  ^trampoline(%%err_status: i8):  // shared error exit\n")
	fmt.Fprintf(w, "    evm.consume_gas %%ctx\n")
	fmt.Fprintf(w, "    evm.set_status %%ctx, %%err_status\n")
	fmt.Fprintf(w, "    llvm.return %%err_status : i8\n")
}

func val(v Value) string {
	return fmt.Sprintf("%%v%d", v)
}

const statusOutOfGas = int(StatusOutOfGas)
