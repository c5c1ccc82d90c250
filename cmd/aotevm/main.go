// Copyright 2024 The aotevm Authors
// This file is part of aotevm.
//
// aotevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// aotevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with aotevm. If not, see <http://www.gnu.org/licenses/>.

// aotevm is the command-line front end of the compiler: it reads contract
// bytecode (raw or hex), lowers it through the pass pipeline, and can run
// the result against an in-memory host.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"

	"github.com/aotevm/aotevm/core/compiler"
	"github.com/aotevm/aotevm/core/runtime"
)

var (
	optFlag = &cli.IntFlag{
		Name:  "opt",
		Usage: "optimization level (0-3)",
		Value: int(compiler.OptDefault),
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "directory for the produced artifacts (default: next to the input)",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML config file with defaults",
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "gas limit for execution",
		Value: 10_000_000,
	}
	calldataFlag = &cli.StringFlag{
		Name:  "calldata",
		Usage: "hex-encoded calldata",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=error .. 4=trace)",
		Value: 2,
	}
)

func main() {
	app := &cli.App{
		Name:  "aotevm",
		Usage: "ahead-of-time EVM bytecode compiler",
		Flags: []cli.Flag{verbosityFlag},
		Before: func(c *cli.Context) error {
			setupLogging(c.Int(verbosityFlag.Name))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "compile",
				Usage:     "compile bytecode to a native artifact",
				ArgsUsage: "<path> [opt_level]",
				Flags:     []cli.Flag{optFlag, outFlag, configFlag},
				Action:    compileCmd,
			},
			{
				Name:      "run",
				Usage:     "compile and execute bytecode against an in-memory host",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{optFlag, gasFlag, calldataFlag, configFlag},
				Action:    runCmd,
			},
			{
				Name:      "disasm",
				Usage:     "print the decoded operation list",
				ArgsUsage: "<path>",
				Action:    disasmCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogging(verbosity int) {
	usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	output := colorable.NewColorableStderr()
	levels := []slog.Level{log.LevelError, log.LevelWarn, log.LevelInfo, log.LevelDebug, log.LevelTrace}
	if verbosity < 0 {
		verbosity = 0
	}
	if verbosity >= len(levels) {
		verbosity = len(levels) - 1
	}
	handler := log.NewTerminalHandlerWithLevel(output, levels[verbosity], usecolor)
	log.SetDefault(log.NewLogger(handler))
}

func compileCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing bytecode path")
	}
	path := c.Args().Get(0)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opt := compiler.OptLevel(cfg.OptLevel)
	if c.IsSet(optFlag.Name) {
		opt = compiler.OptLevel(c.Int(optFlag.Name))
	} else if c.NArg() > 1 {
		n, err := strconv.Atoi(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("bad opt level %q", c.Args().Get(1))
		}
		opt = compiler.OptLevel(n)
	}

	code, err := loadBytecode(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	compiled, err := compiler.Compile(code, name)
	if err != nil {
		return err
	}

	outDir := filepath.Dir(path)
	if cfg.OutDir != "" {
		outDir = cfg.OutDir
	}
	if c.IsSet(outFlag.Name) {
		outDir = c.String(outFlag.Name)
	}
	artifact, err := compiler.NewPipeline(opt).Lower(compiled, filepath.Join(outDir, name))
	if err != nil {
		return err
	}
	log.Info("Compilation finished", "binary", artifact.Binary)
	return nil
}

func runCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing bytecode path")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	gas := cfg.Gas
	if c.IsSet(gasFlag.Name) || gas == 0 {
		gas = c.Uint64(gasFlag.Name)
	}

	code, err := loadBytecode(c.Args().Get(0))
	if err != nil {
		return err
	}
	var calldata []byte
	if hexData := c.String(calldataFlag.Name); hexData != "" {
		calldata, err = hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
		if err != nil {
			return fmt.Errorf("bad calldata: %w", err)
		}
	}

	env := &runtime.Env{
		CallValue:   new(uint256.Int),
		GasPrice:    new(uint256.Int),
		ChainID:     uint256.NewInt(1),
		BaseFee:     new(uint256.Int),
		BlobBaseFee: new(uint256.Int),
		GasLimit:    gas,
		CallData:    calldata,
	}
	res, err := runtime.Run(code, env, gas, runtime.NewMemoryDb())
	if err != nil {
		return err
	}

	fmt.Printf("status:   %v\n", res.Status)
	fmt.Printf("gas used: %d\n", res.GasUsed)
	fmt.Printf("return:   0x%x\n", res.ReturnData)
	for i, l := range res.Logs {
		fmt.Printf("log %d:    topics=%v data=0x%x\n", i, l.Topics, l.Data)
	}
	if res.Status.Failed() {
		os.Exit(1)
	}
	return nil
}

func disasmCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing bytecode path")
	}
	code, err := loadBytecode(c.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Print(compiler.Decode(code).Disassemble())
	return nil
}

// loadBytecode reads a file and auto-detects hex versus raw bytes. Hex may
// carry an 0x prefix and arbitrary whitespace.
func loadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := strings.Join(strings.Fields(string(raw)), "")
	s = strings.TrimPrefix(s, "0x")
	if decoded, err := hex.DecodeString(s); err == nil {
		return decoded, nil
	}
	return raw, nil
}
