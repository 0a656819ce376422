// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtrack

import "github.com/walletmirror/walletmirror/wmod"

// EvalChange classifies which of a transaction's owned output addresses are
// change rather than genuine transfers.  isUsed must report whether an
// address has been observed as an output anywhere on-chain before this
// transaction.
//
// The heuristic:
//
//  1. Without owned inputs the transaction is not an outgoing transfer, so
//     nothing is change.
//  2. The first owned input selects the spending account; candidates are
//     the owned output addresses on that account.
//  3. An address that has independently received funds before cannot be
//     change and is dropped from the candidates.
//  4. When every output is owned and the candidates cover the whole owned
//     output set, the transaction is a wallet-to-self transfer with no
//     external party, so nothing is change.
//
// Rule 4 conflates a genuine self-transfer with address reuse; callers rely
// on this exact tie-break.
func EvalChange(extra *TxExtra, isUsed func(wmod.AddrKey) bool) []wmod.AddrKey {
	if len(extra.Inputs) == 0 {
		return nil
	}
	account := extra.Inputs[0].Meta.Account

	ownedAddrs := make(map[wmod.AddrKey]struct{}, len(extra.Outputs))
	candSeen := make(map[wmod.AddrKey]struct{})
	var candidates []wmod.AddrKey
	for _, out := range extra.Outputs {
		addr := out.Meta.Addr
		ownedAddrs[addr] = struct{}{}

		if out.Meta.Account != account {
			continue
		}
		if _, dup := candSeen[addr]; dup {
			continue
		}
		candSeen[addr] = struct{}{}
		if isUsed(addr) {
			continue
		}
		candidates = append(candidates, addr)
	}

	if extra.AllOutputsOwned && len(candidates) == len(ownedAddrs) {
		return nil
	}
	return candidates
}
