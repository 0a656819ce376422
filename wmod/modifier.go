// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wmod

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// WalletID distinguishes one wallet's projection from another's.  The
// engine treats it as opaque.
type WalletID string

// AddrKey is the canonical string encoding of an address, usable as a map
// key across the modifier algebra and the projection store.
type AddrKey string

// AddrMark keys one used- or change-address marker: an address paired with
// the block hash that recorded it.  Markers from different blocks stay
// independent, so rolling back a block removes exactly the markers that
// block added and an address stays marked while any other marker for it
// survives.
type AddrMark struct {
	Addr  AddrKey
	Block chainhash.Hash
}

// AddrMeta describes an owned address: where it sits in the wallet's
// derivation hierarchy.  Branch 0 is the external (receive) branch, branch 1
// the internal (change) branch.
type AddrMeta struct {
	Addr    AddrKey
	Account uint32
	Branch  uint32
	Index   uint32
}

// Credit is an unspent transaction output controlled by the wallet.  A
// credit is fully determined by the output it wraps and the owning address,
// so one deleted by a spend is reconstructed bit for bit from undo data
// during rollback.
type Credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
	Meta     AddrMeta
}

// OwnedIO is one side of a transaction resolved to an output the wallet
// owns: for inputs this is the consumed prior output, for outputs the
// created one, in both cases tagged with the owning address metadata.
type OwnedIO struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
	Meta     AddrMeta
}

// TxHistoryEntry is one transaction in the wallet's history log.  Totals
// cover the whole transaction, not just the owned sides.  Fee is present
// only when every input of the transaction could be resolved from undo
// data.  Difficulty and timestamp are absent for unmined transactions.
type TxHistoryEntry struct {
	TxID       chainhash.Hash
	TotalIn    btcutil.Amount
	TotalOut   btcutil.Amount
	Fee        fn.Option[btcutil.Amount]
	Inputs     []OwnedIO
	Outputs    []OwnedIO
	Difficulty fn.Option[uint64]
	Timestamp  fn.Option[time.Time]
}

// PendingMeta records the block a tracked transaction candidate was included
// in.
type PendingMeta struct {
	BlockHash  chainhash.Hash
	Difficulty uint64
	Slot       uint64
}

// AccModifier accumulates the wallet-state changes of one or more blocks as
// a single mergeable delta.  Each component is an independent modifier; the
// whole is applied to the projection store atomically at commit time.
//
// The zero value is the identity: merging it into any modifier, or any
// modifier into it, changes nothing.
type AccModifier struct {
	// Addrs is the owned-address index delta.  Insertion positions
	// survive merging, so folding per-block modifiers in any grouping
	// replays the index in the same deterministic order.
	Addrs IndexedModifier[AddrKey, AddrMeta]

	// Used marks addresses observed as outputs on-chain, one marker per
	// address and originating block.
	Used MapModifier[AddrMark, struct{}]

	// Change marks addresses classified as change outputs, keyed like
	// Used.
	Change MapModifier[AddrMark, struct{}]

	// Utxo is the unspent-output delta: consumed outpoints deleted,
	// newly created owned outputs inserted.
	Utxo MapModifier[wire.OutPoint, Credit]

	// History is the transaction-history delta, insertion-ordered.
	History MapModifier[chainhash.Hash, TxHistoryEntry]

	// Pending tracks candidate transactions the wallet is watching,
	// keyed by txid with their containing-block info as value.
	Pending MapModifier[chainhash.Hash, PendingMeta]
}

// Merge folds other into m component-wise.  The operation is associative,
// so per-block modifiers may be folded in any grouping as long as the block
// order is preserved.
func (m *AccModifier) Merge(other *AccModifier) {
	m.Addrs.Merge(&other.Addrs)
	m.Used.Merge(&other.Used)
	m.Change.Merge(&other.Change)
	m.Utxo.Merge(&other.Utxo)
	m.History.Merge(&other.History)
	m.Pending.Merge(&other.Pending)
}

// IsEmpty reports whether every component carries no changes.
func (m *AccModifier) IsEmpty() bool {
	return m.Addrs.IsEmpty() && m.Used.IsEmpty() && m.Change.IsEmpty() &&
		m.Utxo.IsEmpty() && m.History.IsEmpty() && m.Pending.IsEmpty()
}

// Clone returns a deep copy of the modifier's bookkeeping.  Entry values
// are copied shallowly; callers must treat committed entries as immutable.
func (m *AccModifier) Clone() *AccModifier {
	return &AccModifier{
		Addrs:   m.Addrs.Clone(),
		Used:    m.Used.Clone(),
		Change:  m.Change.Clone(),
		Utxo:    m.Utxo.Clone(),
		History: m.History.Clone(),
		Pending: m.Pending.Clone(),
	}
}

// String summarises the modifier's component sizes for debug logging.
func (m *AccModifier) String() string {
	return fmt.Sprintf("AccModifier(addrs +%d/-%d, used +%d/-%d, "+
		"change +%d/-%d, utxo +%d/-%d, history +%d/-%d, "+
		"pending +%d/-%d)",
		m.Addrs.NumInsertions(), m.Addrs.NumDeletions(),
		m.Used.NumInsertions(), m.Used.NumDeletions(),
		m.Change.NumInsertions(), m.Change.NumDeletions(),
		m.Utxo.NumInsertions(), m.Utxo.NumDeletions(),
		m.History.NumInsertions(), m.History.NumDeletions(),
		m.Pending.NumInsertions(), m.Pending.NumDeletions())
}
