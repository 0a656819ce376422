// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultWallets       = 3
	defaultBlocks        = 24
	defaultForkDepth     = 3
	defaultSecurityDepth = 6
	defaultBatchSize     = 8
	defaultLogLevel      = "info"
	defaultSeed          = 1

	defaultDbFilename  = "sim.db"
	defaultLogDirname  = "logs"
	defaultLogFilename = "mirrorsim.log"
)

var defaultDataDir = filepath.Join(
	btcutil.AppDataDir("walletmirror", false), "sim")

// config holds the simulation knobs parsed from the command line.
type config struct {
	DataDir       string `short:"d" long:"datadir" description:"Directory for the simulation database and logs"`
	Wallets       int    `long:"wallets" description:"Number of simulated wallets"`
	Blocks        int    `long:"blocks" description:"Blocks to mine before the reorg"`
	ForkDepth     int    `long:"forkdepth" description:"Blocks the mid-run reorg unwinds; 0 disables the reorg"`
	SecurityDepth uint64 `long:"securitydepth" description:"Blocks below the chain tip treated as final"`
	BatchSize     int    `long:"batchsize" description:"Blocks folded into one database commit"`
	DebugLevel    string `short:"l" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Seed          int64  `long:"seed" description:"Pseudorandom seed so runs repeat"`
}

// validLogLevel returns whether logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// loadConfig parses and validates the command line.  Parse errors are
// printed by the flags package itself.
func loadConfig() (*config, error) {
	cfg := config{
		DataDir:       defaultDataDir,
		Wallets:       defaultWallets,
		Blocks:        defaultBlocks,
		ForkDepth:     defaultForkDepth,
		SecurityDepth: defaultSecurityDepth,
		BatchSize:     defaultBatchSize,
		DebugLevel:    defaultLogLevel,
		Seed:          defaultSeed,
	}
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.Wallets < 2 {
		return nil, errors.Errorf("--wallets must be at least 2 to "+
			"simulate payments between wallets, got %d", cfg.Wallets)
	}
	if cfg.Blocks < 1 {
		return nil, errors.Errorf("--blocks must be positive, got %d",
			cfg.Blocks)
	}
	if cfg.ForkDepth < 0 || cfg.ForkDepth > cfg.Blocks {
		return nil, errors.Errorf("--forkdepth must stay within the "+
			"mined chain, got %d of %d blocks", cfg.ForkDepth,
			cfg.Blocks)
	}
	if uint64(cfg.ForkDepth) > cfg.SecurityDepth {
		return nil, errors.Errorf("--forkdepth %d exceeds "+
			"--securitydepth %d; blocks below the security depth "+
			"are final and cannot reorganize", cfg.ForkDepth,
			cfg.SecurityDepth)
	}
	if cfg.BatchSize < 1 {
		return nil, errors.Errorf("--batchsize must be positive, got %d",
			cfg.BatchSize)
	}
	if cfg.SecurityDepth < 1 {
		return nil, errors.Errorf("--securitydepth must be positive, "+
			"got %d", cfg.SecurityDepth)
	}
	if !validLogLevel(cfg.DebugLevel) {
		return nil, errors.Errorf("invalid debug level %q", cfg.DebugLevel)
	}
	return &cfg, nil
}
