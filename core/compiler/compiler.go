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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/aotevm/aotevm/core/compiler/ir"
)

// compiledCacheSize bounds the per-process cache of lowered contracts.
// Compiling the same code twice (e.g. repeated invocations of one contract)
// hits the cache; entries are keyed by code hash.
const compiledCacheSize = 128

var compiledCache, _ = lru.New(compiledCacheSize)

// Compiled is the result of lowering one contract: the decoded program, its
// control-flow graph, the emitted IR and its textual MLIR rendering.
type Compiled struct {
	CodeHash common.Hash
	Program  *Program
	CFG      *CFG
	IR       *ir.Func
	MLIR     string
}

// Compile lowers runtime bytecode to IR. The decoder is total, so the only
// failure mode is an emission error, which indicates a bug rather than bad
// input.
func Compile(code []byte, name string) (*Compiled, error) {
	hash := crypto.Keccak256Hash(code)
	if cached, ok := compiledCache.Get(hash); ok {
		return cached.(*Compiled), nil
	}

	program := Decode(code)
	cfg := BuildCFG(program)
	f, err := EmitIR(cfg, name)
	if err != nil {
		return nil, err
	}
	c := &Compiled{
		CodeHash: hash,
		Program:  program,
		CFG:      cfg,
		IR:       f,
		MLIR:     ir.Print(f, Layout{}),
	}
	compiledCache.Add(hash, c)

	log.Debug("Compiled contract", "hash", hash, "code", len(code),
		"ops", len(program.Ops), "blocks", len(cfg.Blocks),
		"jumpdests", len(program.Jumpdests()))
	return c, nil
}
