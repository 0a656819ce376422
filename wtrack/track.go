// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtrack

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pkg/errors"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
)

// BlockTx is one unit of the tracking fold: a transaction with its undo
// data and the header of its containing block.  Unmined transactions carry
// a zero header.
type BlockTx struct {
	Tx     *wire.MsgTx
	Undo   []chain.SpentOutput
	Header chain.Header
}

// Resolvers supplies the tracking fold with everything that depends on
// state outside the transaction list.  Nil functions resolve to "none" or
// zero.
type Resolvers struct {
	// UsedMarkers reports how many used-address markers the persistent
	// store holds for an address, one marker per block that paid it.
	// The fold layers its own marker changes on top of these counts.
	UsedMarkers func(wmod.AddrKey) int

	// Difficulty resolves the containing block's cumulative difficulty.
	// Unmined transactions resolve to None.
	Difficulty func(chain.Header) fn.Option[uint64]

	// Timestamp resolves the containing block's wall-clock time.
	Timestamp func(chain.Header) fn.Option[time.Time]

	// PendingInfo resolves containing-block info for the tracked
	// candidate log.  None keeps the transaction out of the log.
	PendingInfo func(chain.Header) fn.Option[wmod.PendingMeta]
}

func (r *Resolvers) usedMarkers(a wmod.AddrKey) int {
	if r == nil || r.UsedMarkers == nil {
		return 0
	}
	return r.UsedMarkers(a)
}

func (r *Resolvers) difficulty(h chain.Header) fn.Option[uint64] {
	if r == nil || r.Difficulty == nil {
		return fn.None[uint64]()
	}
	return r.Difficulty(h)
}

func (r *Resolvers) timestamp(h chain.Header) fn.Option[time.Time] {
	if r == nil || r.Timestamp == nil {
		return fn.None[time.Time]()
	}
	return r.Timestamp(h)
}

func (r *Resolvers) pendingInfo(h chain.Header) fn.Option[wmod.PendingMeta] {
	if r == nil || r.PendingInfo == nil {
		return fn.None[wmod.PendingMeta]()
	}
	return r.PendingInfo(h)
}

// markerView is the used-address state a fold consults when classifying
// change: the persistent store's marker counts layered with the fold's own
// progress through the transaction list.  Change classification must see
// exactly the markers in effect when a transaction was first applied, in
// both fold directions, or a rollback would not cancel the apply that
// produced it.
type markerView struct {
	res *Resolvers

	// events is the fold's running net marker count per address:
	// incremented per owned output while applying, decremented while
	// rolling back.
	events map[wmod.AddrKey]int

	// segEvents and segPairs describe the full segment being rolled
	// back: its total owned-output count and its distinct
	// (address, block) marker pairs per address.  Both stay empty during
	// an apply fold, whose segment is not yet in the store.
	segEvents map[wmod.AddrKey]int
	segPairs  map[wmod.AddrKey]int
}

func newMarkerView(res *Resolvers) *markerView {
	return &markerView{
		res:       res,
		events:    make(map[wmod.AddrKey]int),
		segEvents: make(map[wmod.AddrKey]int),
		segPairs:  make(map[wmod.AddrKey]int),
	}
}

// usedBefore reports whether some block paid the address strictly before
// the transaction now being folded.  The first term counts the segment's
// own payments up to this point; the second is the store's markers minus
// the segment's, leaving only markers from blocks outside the fold.
func (v *markerView) usedBefore(a wmod.AddrKey) bool {
	if v.segEvents[a]+v.events[a] > 0 {
		return true
	}
	return v.res.usedMarkers(a) > v.segPairs[a]
}

func (v *markerView) extend(extra *TxExtra) {
	for _, out := range extra.Outputs {
		v.events[out.Meta.Addr]++
	}
}

func (v *markerView) retract(extra *TxExtra) {
	for _, out := range extra.Outputs {
		v.events[out.Meta.Addr]--
	}
}

// Apply folds transactions in chain order, oldest first, into a fresh
// modifier describing their wallet-relevant effects: discovered addresses,
// marker updates, UTXO consumption and creation, history entries, and
// tracked candidates.
func Apply(book AddrBook, res *Resolvers,
	txs []BlockTx) (*wmod.AccModifier, error) {

	acc := &wmod.AccModifier{}
	view := newMarkerView(res)
	for i, bt := range txs {
		extra, err := BuildTxExtra(book, bt.Tx, bt.Undo)
		if err != nil {
			return nil, errors.Wrapf(err, "classifying tx %d "+
				"of block %v", i, bt.Header.Hash)
		}
		if !extra.Interesting() {
			continue
		}
		applyTx(acc, res, view, extra, bt.Header)
	}

	log.Tracef("Applied %d txs for wallet %v: %s", len(txs),
		book.WalletID(), acc)
	return acc, nil
}

func applyTx(acc *wmod.AccModifier, res *Resolvers, view *markerView,
	extra *TxExtra, hdr chain.Header) {

	// Change is classified before this transaction's own markers are
	// recorded; an address only counts as used if some earlier
	// transaction paid it.
	for _, addr := range EvalChange(extra, view.usedBefore) {
		acc.Change.Insert(wmod.AddrMark{
			Addr:  addr,
			Block: hdr.Hash,
		}, struct{}{})
	}
	view.extend(extra)

	for _, in := range extra.Inputs {
		acc.Utxo.Delete(in.OutPoint)
	}
	for _, out := range extra.Outputs {
		acc.Addrs.Insert(out.Meta.Addr, out.Meta)
		acc.Used.Insert(wmod.AddrMark{
			Addr:  out.Meta.Addr,
			Block: hdr.Hash,
		}, struct{}{})
		acc.Utxo.Insert(out.OutPoint, wmod.Credit{
			OutPoint: out.OutPoint,
			Amount:   out.Amount,
			PkScript: out.PkScript,
			Meta:     out.Meta,
		})
	}

	acc.History.Insert(extra.TxID, wmod.TxHistoryEntry{
		TxID:       extra.TxID,
		TotalIn:    extra.TotalIn,
		TotalOut:   extra.TotalOut,
		Fee:        extra.Fee,
		Inputs:     extra.Inputs,
		Outputs:    extra.Outputs,
		Difficulty: res.difficulty(hdr),
		Timestamp:  res.timestamp(hdr),
	})

	res.pendingInfo(hdr).WhenSome(func(meta wmod.PendingMeta) {
		acc.Pending.Insert(extra.TxID, meta)
	})
}

// Rollback folds transactions into a fresh modifier undoing their effects
// field by field: what Apply inserted is deleted and what it deleted is
// reconstructed from undo data, so no store lookups are needed.  The caller
// must supply the transactions newest first, blocks reversed and the
// transactions within each block reversed; a rollback over the reversal of
// an applied list exactly cancels it.
func Rollback(book AddrBook, res *Resolvers,
	txs []BlockTx) (*wmod.AccModifier, error) {

	// Classify the whole segment up front.  The change recomputation
	// for each transaction needs the segment's total marker counts to
	// reconstruct the marker state Apply classified it under, since the
	// store already contains every marker the segment inserted.
	extras := make([]*TxExtra, len(txs))
	view := newMarkerView(res)
	seen := make(map[wmod.AddrMark]struct{})
	for i, bt := range txs {
		extra, err := BuildTxExtra(book, bt.Tx, bt.Undo)
		if err != nil {
			return nil, errors.Wrapf(err, "classifying tx %d "+
				"of block %v", i, bt.Header.Hash)
		}
		extras[i] = extra
		if !extra.Interesting() {
			continue
		}
		for _, out := range extra.Outputs {
			view.segEvents[out.Meta.Addr]++
			mark := wmod.AddrMark{
				Addr:  out.Meta.Addr,
				Block: bt.Header.Hash,
			}
			if _, ok := seen[mark]; !ok {
				seen[mark] = struct{}{}
				view.segPairs[out.Meta.Addr]++
			}
		}
	}

	acc := &wmod.AccModifier{}
	for i, bt := range txs {
		if !extras[i].Interesting() {
			continue
		}
		rollbackTx(acc, res, view, extras[i], bt.Header)
	}

	log.Tracef("Rolled back %d txs for wallet %v: %s", len(txs),
		book.WalletID(), acc)
	return acc, nil
}

func rollbackTx(acc *wmod.AccModifier, res *Resolvers, view *markerView,
	extra *TxExtra, hdr chain.Header) {

	// Drop this transaction's own markers first so the change
	// classification recomputes against the same marker state Apply saw.
	view.retract(extra)
	for _, out := range extra.Outputs {
		acc.Used.Delete(wmod.AddrMark{
			Addr:  out.Meta.Addr,
			Block: hdr.Hash,
		})
	}
	for _, addr := range EvalChange(extra, view.usedBefore) {
		acc.Change.Delete(wmod.AddrMark{
			Addr:  addr,
			Block: hdr.Hash,
		})
	}

	for _, out := range extra.Outputs {
		acc.Addrs.Delete(out.Meta.Addr)
		acc.Utxo.Delete(out.OutPoint)
	}
	for _, in := range extra.Inputs {
		acc.Utxo.Insert(in.OutPoint, wmod.Credit{
			OutPoint: in.OutPoint,
			Amount:   in.Amount,
			PkScript: in.PkScript,
			Meta:     in.Meta,
		})
	}

	acc.History.Delete(extra.TxID)

	res.pendingInfo(hdr).WhenSome(func(_ wmod.PendingMeta) {
		acc.Pending.Delete(extra.TxID)
	})
}
