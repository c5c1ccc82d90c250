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

package main

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/aotevm/aotevm/core/compiler"
)

// Config holds the file-configurable defaults; flags override it.
type Config struct {
	OptLevel int
	OutDir   string
	Gas      uint64
}

func defaultConfig() *Config {
	return &Config{
		OptLevel: int(compiler.OptDefault),
	}
}

// loadConfig reads the --config file when given, otherwise returns the
// defaults. Unknown keys are rejected so typos don't silently fall back.
func loadConfig(c *cli.Context) (*Config, error) {
	cfg := defaultConfig()
	path := c.String(configFlag.Name)
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.OptLevel < int(compiler.OptNone) || cfg.OptLevel > int(compiler.OptAggressive) {
		return nil, fmt.Errorf("config %s: opt level %d out of range", path, cfg.OptLevel)
	}
	return cfg, nil
}
