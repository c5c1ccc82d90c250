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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineLevels(t *testing.T) {
	// Every level legalizes the evm dialect; higher levels add passes.
	for lvl := OptNone; lvl <= OptAggressive; lvl++ {
		passes := passBundles[lvl]
		require.NotEmpty(t, passes)
		require.Equal(t, "--convert-evm-to-llvm", passes[0])
		if lvl > OptNone {
			require.Greater(t, len(passes), len(passBundles[lvl-1]))
		}
	}
}

func TestNewPipelineClampsLevel(t *testing.T) {
	require.Equal(t, OptDefault, NewPipeline(OptLevel(7)).Opt)
	require.Equal(t, OptDefault, NewPipeline(OptLevel(-1)).Opt)
	require.Equal(t, OptAggressive, NewPipeline(OptAggressive).Opt)
}

func TestPipelineWritesModuleBeforeToolchain(t *testing.T) {
	c, err := Compile([]byte{0x5F, 0x5F, 0xFD}, "prog")
	require.NoError(t, err)

	p := NewPipeline(OptNone)
	p.MLIROpt = "aotevm-test-no-such-tool"
	base := filepath.Join(t.TempDir(), "prog")
	_, err = p.Lower(c, base)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found in PATH")

	// The textual module is written even when the toolchain is absent,
	// so it can be inspected or shipped elsewhere.
	data, err := os.ReadFile(base + ".mlir")
	require.NoError(t, err)
	require.Contains(t, string(data), "llvm.func @main")
}
