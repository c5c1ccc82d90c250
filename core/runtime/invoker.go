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
	"github.com/ethereum/go-ethereum/log"

	"github.com/aotevm/aotevm/core/compiler"
	"github.com/aotevm/aotevm/core/compiler/ir"
)

// ExecutionResult is what the invoker reports after a call returns.
type ExecutionResult struct {
	Status     ir.Status
	GasUsed    uint64
	ReturnData []byte
	Logs       []Log
}

// Failed reports whether the execution ended in anything but STOP/RETURN.
func (r *ExecutionResult) Failed() bool {
	return r.Status != ir.StatusSuccess
}

// Invoker prepares an execution context for a compiled program, calls the
// entry, and interprets the terminal status. One invoker can serve many
// executions; each call gets a fresh context.
type Invoker struct {
	Host Host
}

// NewInvoker binds an invoker to a host backend.
func NewInvoker(host Host) *Invoker {
	return &Invoker{Host: host}
}

// Execute runs a compiled program to its terminal status. The env's code
// slice is filled in from the compiled program if unset.
func (inv *Invoker) Execute(c *compiler.Compiled, env *Env, gasLimit uint64) *ExecutionResult {
	if env.Code == nil {
		env.Code = c.Program.Code
	}
	ctx := NewExecutionContext(env, gasLimit)
	ex := &Executor{F: c.IR, Sys: NewSyscalls(inv.Host)}

	status := ex.Run(ctx)

	remaining := uint64(0)
	if ctx.Gas > 0 {
		remaining = uint64(ctx.Gas)
	}
	res := &ExecutionResult{
		Status:     status,
		GasUsed:    gasLimit - remaining,
		ReturnData: ctx.ReturnData(),
		Logs:       ctx.Logs,
	}
	log.Debug("Executed contract", "hash", c.CodeHash, "status", status,
		"gasUsed", res.GasUsed, "return", len(res.ReturnData), "logs", len(res.Logs))
	return res
}

// Run compiles and executes bytecode in one step.
func Run(code []byte, env *Env, gasLimit uint64, host Host) (*ExecutionResult, error) {
	c, err := compiler.Compile(code, "main")
	if err != nil {
		return nil, err
	}
	return NewInvoker(host).Execute(c, env, gasLimit), nil
}
