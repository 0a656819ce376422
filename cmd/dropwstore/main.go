// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/jessevdk/go-flags"
	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wstore"
)

const dbTimeout = 10 * time.Second

var datadir = btcutil.AppDataDir("walletmirror", false)

// Flags.
var opts = struct {
	Force  bool   `short:"f" description:"Force removal without prompt"`
	DbPath string `long:"db" description:"Path to wallet database"`
	Wallet string `long:"wallet" description:"Wipe a single wallet instead of all of them"`
}{
	Force:  false,
	DbPath: filepath.Join(datadir, "wallet.db"),
}

func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}
}

// Namespace keys.
var wstoreNamespace = []byte("wstore")

func yes(s string) bool {
	switch s {
	case "y", "Y", "yes", "Yes":
		return true
	default:
		return false
	}
}

func no(s string) bool {
	switch s {
	case "n", "N", "no", "No":
		return true
	default:
		return false
	}
}

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	fmt.Println("Database path:", opts.DbPath)
	_, err := os.Stat(opts.DbPath)
	if os.IsNotExist(err) {
		fmt.Println("Database file does not exist")
		return 1
	}

	prompt := "Drop projection history for every wallet? [y/N] "
	if opts.Wallet != "" {
		prompt = fmt.Sprintf("Drop projection history for wallet %q? [y/N] ",
			opts.Wallet)
	}

	for !opts.Force {
		fmt.Print(prompt)

		scanner := bufio.NewScanner(bufio.NewReader(os.Stdin))
		if !scanner.Scan() {
			// Exit on EOF.
			return 0
		}
		err := scanner.Err()
		if err != nil {
			fmt.Println()
			fmt.Println(err)
			return 1
		}
		resp := scanner.Text()
		if yes(resp) {
			break
		}
		if no(resp) || resp == "" {
			return 0
		}

		fmt.Println("Enter yes or no.")
	}

	db, err := walletdb.Open("bdb", opts.DbPath, true, dbTimeout)
	if err != nil {
		fmt.Println("Failed to open database:", err)
		return 1
	}
	defer db.Close()

	fmt.Println("Wiping wallet projections")
	var wiped []wmod.WalletID
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(wstoreNamespace)
		if ns == nil {
			return fmt.Errorf("database has no %q namespace",
				wstoreNamespace)
		}
		s, err := wstore.Open(ns)
		if err != nil {
			return err
		}
		if opts.Wallet != "" {
			id := wmod.WalletID(opts.Wallet)
			if err := s.WipeWallet(ns, id); err != nil {
				return err
			}
			wiped = append(wiped, id)
			return nil
		}
		ids, err := s.Wallets(ns)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.WipeWallet(ns, id); err != nil {
				return err
			}
		}
		wiped = ids
		return nil
	})
	if err != nil {
		fmt.Println("Failed to wipe wallet projections:", err)
		return 1
	}

	for _, id := range wiped {
		fmt.Printf("Wiped wallet %q; the next sync rebuilds it from genesis\n", id)
	}
	return 0
}
