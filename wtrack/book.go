// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtrack

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/walletmirror/walletmirror/wmod"
)

// AddrBook is the ownership credential consumed by the classifier: given an
// output script it answers whether this wallet controls it and under which
// derivation coordinates.  Implementations must answer deterministically
// for the duration of a sync.
type AddrBook interface {
	// WalletID identifies the wallet this book belongs to.
	WalletID() wmod.WalletID

	// LookupPkScript reports whether the wallet controls the output
	// script and returns the owning address metadata when it does.
	LookupPkScript(pkScript []byte) (wmod.AddrMeta, bool)
}

// StaticBook is an AddrBook over a fixed set of registered addresses.
// Scripts are matched by extracting their payment address, so only
// single-address script forms are claimable.  Registration is not safe for
// use concurrently with lookups.
type StaticBook struct {
	id     wmod.WalletID
	params *chaincfg.Params
	addrs  map[wmod.AddrKey]wmod.AddrMeta
}

// NewStaticBook returns an empty book for the wallet on the given network.
func NewStaticBook(id wmod.WalletID, params *chaincfg.Params) *StaticBook {
	return &StaticBook{
		id:     id,
		params: params,
		addrs:  make(map[wmod.AddrKey]wmod.AddrMeta),
	}
}

// AddAddress registers addr as owned under the given derivation
// coordinates and returns the stored metadata.
func (b *StaticBook) AddAddress(addr btcutil.Address, account, branch,
	index uint32) wmod.AddrMeta {

	key := wmod.AddrKey(addr.EncodeAddress())
	meta := wmod.AddrMeta{
		Addr:    key,
		Account: account,
		Branch:  branch,
		Index:   index,
	}
	b.addrs[key] = meta
	return meta
}

// WalletID identifies the wallet this book belongs to.
func (b *StaticBook) WalletID() wmod.WalletID {
	return b.id
}

// LookupPkScript reports whether the wallet controls the output script.
func (b *StaticBook) LookupPkScript(pkScript []byte) (wmod.AddrMeta, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, b.params)
	if err != nil || len(addrs) != 1 {
		return wmod.AddrMeta{}, false
	}
	meta, ok := b.addrs[wmod.AddrKey(addrs[0].EncodeAddress())]
	return meta, ok
}

var _ AddrBook = (*StaticBook)(nil)
