// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtrack

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pkg/errors"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
)

// TxExtra is the classifier's view of one transaction: the sides the wallet
// owns, whole-transaction totals, and the fee when every input could be
// resolved.
type TxExtra struct {
	TxID     chainhash.Hash
	TotalIn  btcutil.Amount
	TotalOut btcutil.Amount
	Fee      fn.Option[btcutil.Amount]

	// Inputs are the owned consumed outputs in input order; Outputs the
	// owned created outputs in output order.
	Inputs  []wmod.OwnedIO
	Outputs []wmod.OwnedIO

	// AllOutputsOwned reports that no output pays an external party.
	AllOutputsOwned bool
}

// Interesting reports whether the transaction touches the wallet at all.
func (e *TxExtra) Interesting() bool {
	return len(e.Inputs) > 0 || len(e.Outputs) > 0
}

// BuildTxExtra classifies tx against the wallet's address book.  The undo
// data must carry one entry per input; an entry with a nil TxOut marks an
// input that could not be resolved, which leaves the fee unknown and that
// input unclaimable.
func BuildTxExtra(book AddrBook, tx *wire.MsgTx,
	undo []chain.SpentOutput) (*TxExtra, error) {

	if len(undo) != len(tx.TxIn) {
		return nil, errors.Errorf("undo resolves %d inputs, tx %v "+
			"has %d", len(undo), tx.TxHash(), len(tx.TxIn))
	}

	extra := &TxExtra{
		TxID:            tx.TxHash(),
		AllOutputsOwned: true,
	}

	allResolved := true
	for _, spent := range undo {
		if spent.TxOut == nil {
			allResolved = false
			continue
		}
		extra.TotalIn += btcutil.Amount(spent.TxOut.Value)
		meta, ok := book.LookupPkScript(spent.TxOut.PkScript)
		if !ok {
			continue
		}
		extra.Inputs = append(extra.Inputs, wmod.OwnedIO{
			OutPoint: spent.PrevOut,
			Amount:   btcutil.Amount(spent.TxOut.Value),
			PkScript: spent.TxOut.PkScript,
			Meta:     meta,
		})
	}

	for i, txOut := range tx.TxOut {
		extra.TotalOut += btcutil.Amount(txOut.Value)
		meta, ok := book.LookupPkScript(txOut.PkScript)
		if !ok {
			extra.AllOutputsOwned = false
			continue
		}
		extra.Outputs = append(extra.Outputs, wmod.OwnedIO{
			OutPoint: wire.OutPoint{
				Hash:  extra.TxID,
				Index: uint32(i),
			},
			Amount:   btcutil.Amount(txOut.Value),
			PkScript: txOut.PkScript,
			Meta:     meta,
		})
	}

	// Only a transaction with fully resolved inputs has a knowable fee.
	// Allocation transactions spend nothing and pay none.
	if allResolved && len(tx.TxIn) > 0 &&
		extra.TotalIn >= extra.TotalOut {

		extra.Fee = fn.Some(extra.TotalIn - extra.TotalOut)
	}
	return extra, nil
}
