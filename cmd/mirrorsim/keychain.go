// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wtrack"
)

const (
	externalBranch uint32 = 0
	internalBranch uint32 = 1

	// addrWindow is how many addresses per branch a wallet registers up
	// front.  Payments cycle through the window, so addresses get
	// reused once a wallet has seen more than addrWindow transactions.
	addrWindow = 8
)

// simWallet is one simulated wallet: a mnemonic-derived keychain plus the
// address book the sync layer classifies against.
type simWallet struct {
	id       wmod.WalletID
	mnemonic string
	book     *wtrack.StaticBook

	receive []btcutil.Address
	change  []btcutil.Address

	nextReceive int
	nextChange  int
}

// newSimWallet creates wallet number n from entropy drawn off the shared
// simulation rng, so a fixed seed reproduces the same wallets.
func newSimWallet(n int, rng *rand.Rand,
	params *chaincfg.Params) (*simWallet, error) {

	entropy := make([]byte, 16)
	rng.Read(entropy)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "building mnemonic")
	}
	master, err := hdkeychain.NewMaster(bip39.NewSeed(mnemonic, ""), params)
	if err != nil {
		return nil, errors.Wrap(err, "deriving master key")
	}

	id := wmod.WalletID(fmt.Sprintf("sim-%d", n))
	w := &simWallet{
		id:       id,
		mnemonic: mnemonic,
		book:     wtrack.NewStaticBook(id, params),
	}
	w.receive, err = w.deriveBranch(master, externalBranch, params)
	if err != nil {
		return nil, err
	}
	w.change, err = w.deriveBranch(master, internalBranch, params)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// deriveBranch derives the address window of one branch and registers
// every address in the wallet's book.
func (w *simWallet) deriveBranch(master *hdkeychain.ExtendedKey,
	branch uint32, params *chaincfg.Params) ([]btcutil.Address, error) {

	branchKey, err := master.Derive(branch)
	if err != nil {
		return nil, errors.Wrapf(err, "deriving branch %d", branch)
	}
	addrs := make([]btcutil.Address, 0, addrWindow)
	for index := uint32(0); index < addrWindow; index++ {
		key, err := branchKey.Derive(index)
		if err != nil {
			return nil, errors.Wrapf(err, "deriving index %d of "+
				"branch %d", index, branch)
		}
		pub, err := key.ECPubKey()
		if err != nil {
			return nil, errors.Wrapf(err, "extracting pubkey at "+
				"index %d of branch %d", index, branch)
		}
		addr, err := pkhAddress(pub, params)
		if err != nil {
			return nil, err
		}
		w.book.AddAddress(addr, 0, branch, index)
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// pkhAddress collapses a public key to its pay-to-pubkey-hash address.
func pkhAddress(pub *btcec.PublicKey,
	params *chaincfg.Params) (btcutil.Address, error) {

	pkHash := btcutil.Hash160(pub.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, params)
	if err != nil {
		return nil, errors.Wrap(err, "building p2pkh address")
	}
	return addr, nil
}

// receiveAddr returns the wallet's next external address, cycling the
// window.
func (w *simWallet) receiveAddr() btcutil.Address {
	addr := w.receive[w.nextReceive%addrWindow]
	w.nextReceive++
	return addr
}

// changeAddr returns the wallet's next internal address, cycling the
// window.
func (w *simWallet) changeAddr() btcutil.Address {
	addr := w.change[w.nextChange%addrWindow]
	w.nextChange++
	return addr
}
