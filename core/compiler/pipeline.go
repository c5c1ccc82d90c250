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
	"os"
	"os/exec"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// OptLevel selects the external pass bundle applied to the emitted module.
type OptLevel int

const (
	// OptNone leaves the emitted IR essentially unchanged.
	OptNone OptLevel = iota
	OptBasic
	OptDefault
	OptAggressive
)

// passBundles maps each level to the mlir-opt pass list. Level 0 still runs
// the evm-dialect legalization; it has to, or nothing downstream can parse
// the module.
var passBundles = [...][]string{
	OptNone:       {"--convert-evm-to-llvm"},
	OptBasic:      {"--convert-evm-to-llvm", "--canonicalize"},
	OptDefault:    {"--convert-evm-to-llvm", "--canonicalize", "--mem2reg", "--cse"},
	OptAggressive: {"--convert-evm-to-llvm", "--canonicalize", "--mem2reg", "--cse", "--sccp", "--symbol-dce"},
}

// Artifact names the files the pipeline leaves next to the input, in the
// order they are produced.
type Artifact struct {
	MLIR      string // name.mlir, as emitted
	AfterPass string // name.after-pass.mlir
	LLVMIR    string // name.ll
	Object    string // name.o
	Binary    string // name, the loadable artifact exporting the entry
}

// Pipeline drives the external MLIR/LLVM toolchain. The toolchain is an
// opaque collaborator: the driver only writes the module, invokes the
// binaries and collects the outputs.
type Pipeline struct {
	Opt OptLevel

	// Tool names, overridable for pinned toolchains.
	MLIROpt       string
	MLIRTranslate string
	Clang         string
}

// NewPipeline returns a driver at the given level with default tool names.
func NewPipeline(opt OptLevel) *Pipeline {
	if opt < OptNone || opt > OptAggressive {
		opt = OptDefault
	}
	return &Pipeline{
		Opt:           opt,
		MLIROpt:       "mlir-opt",
		MLIRTranslate: "mlir-translate",
		Clang:         "clang",
	}
}

// Lower writes the compiled module's artifacts under base (a path without
// extension) and runs the external toolchain over them. It fails if any
// toolchain binary is missing from PATH.
func (p *Pipeline) Lower(c *Compiled, base string) (*Artifact, error) {
	a := &Artifact{
		MLIR:      base + ".mlir",
		AfterPass: base + ".after-pass.mlir",
		LLVMIR:    base + ".ll",
		Object:    base + ".o",
		Binary:    base,
	}
	if err := os.WriteFile(a.MLIR, []byte(c.MLIR), 0o644); err != nil {
		return nil, err
	}
	for _, tool := range []string{p.MLIROpt, p.MLIRTranslate, p.Clang} {
		if _, err := exec.LookPath(tool); err != nil {
			return nil, errors.Wrapf(err, "toolchain binary %q not found in PATH", tool)
		}
	}

	args := append(append([]string{}, passBundles[p.Opt]...), a.MLIR, "-o", a.AfterPass)
	if err := runTool(p.MLIROpt, args...); err != nil {
		return nil, errors.Wrap(err, "pass pipeline failed")
	}
	if err := runTool(p.MLIRTranslate, "--mlir-to-llvmir", a.AfterPass, "-o", a.LLVMIR); err != nil {
		return nil, errors.Wrap(err, "llvm translation failed")
	}
	if err := runTool(p.Clang, fmt.Sprintf("-O%d", p.Opt), "-c", a.LLVMIR, "-o", a.Object); err != nil {
		return nil, errors.Wrap(err, "object lowering failed")
	}
	if err := runTool(p.Clang, a.Object, "-o", a.Binary); err != nil {
		return nil, errors.Wrap(err, "link failed")
	}

	log.Info("Lowered module", "opt", int(p.Opt), "binary", a.Binary)
	return a, nil
}

func runTool(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	log.Debug("Running toolchain step", "cmd", name, "args", args)
	return cmd.Run()
}
