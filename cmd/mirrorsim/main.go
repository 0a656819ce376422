// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// mirrorsim mines a simulated chain, pays coins between mnemonic-derived
// wallets, and drives their projections through catch-up, rollback, and
// fork-side recovery.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/jessevdk/go-flags"
)

const dbTimeout = 10 * time.Second

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	cfg, err := loadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok {
			if e.Type == flags.ErrHelp {
				return 0
			}
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	initLogRotator(filepath.Join(cfg.DataDir, defaultLogDirname,
		defaultLogFilename))
	defer logRotator.Close()
	setLogLevels(cfg.DebugLevel)

	// A previous run's projections reference a chain that no longer
	// exists, so every run starts from an empty database.
	dbPath := filepath.Join(cfg.DataDir, defaultDbFilename)
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		log.Errorf("Failed to remove stale database %s: %v", dbPath, err)
		return 1
	}
	db, err := walletdb.Create("bdb", dbPath, true, dbTimeout)
	if err != nil {
		log.Errorf("Failed to create database %s: %v", dbPath, err)
		return 1
	}
	defer db.Close()

	sim, err := newSimulator(cfg, db)
	if err != nil {
		log.Errorf("Failed to set up simulation: %v", err)
		return 1
	}
	ctx := interruptListener(context.Background())
	if err := sim.run(ctx); err != nil {
		log.Errorf("Simulation failed: %v", err)
		return 1
	}
	log.Infof("Simulation finished")
	return 0
}
