// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/walletmirror/walletmirror/wmod"
)

// TipStamp names the block a wallet's projection is synced through.  The
// difficulty doubles as a monotonic position on the wallet's view of the
// chain.
type TipStamp struct {
	Hash       chainhash.Hash
	Difficulty uint64
}

func (t TipStamp) String() string {
	return fmt.Sprintf("%v (difficulty %d)", t.Hash, t.Difficulty)
}

// Store provides durable per-wallet ledger projections inside a walletdb
// namespace.  All methods operate within the caller's database transaction,
// so a commit and the reads deciding it can share one atomic view.
type Store struct{}

// Create creates a fresh projection store in the passed namespace.  An
// error is returned if the namespace was already initialized.
func Create(ns walletdb.ReadWriteBucket) error {
	if ns.Get(rootVersion) != nil {
		str := "namespace is already initialized"
		return storeError(ErrDatabase, str, nil)
	}
	if err := putVersion(ns, LatestVersion); err != nil {
		return err
	}
	if err := putCreateDate(ns, time.Now()); err != nil {
		return err
	}
	_, err := ns.CreateBucketIfNotExists(bucketWallets)
	if err != nil {
		str := "failed to create wallets bucket"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// Open opens the projection store in the passed namespace, which must have
// been initialized by Create.
func Open(ns walletdb.ReadBucket) (*Store, error) {
	version, err := fetchVersion(ns)
	if err != nil {
		return nil, err
	}
	if version < LatestVersion {
		str := fmt.Sprintf("database version %d is older than the "+
			"latest version %d", version, LatestVersion)
		return nil, storeError(ErrNeedsUpgrade, str, nil)
	}
	if version > LatestVersion {
		str := fmt.Sprintf("database version %d is newer than the "+
			"latest understood version %d", version, LatestVersion)
		return nil, storeError(ErrData, str, nil)
	}
	return &Store{}, nil
}

// Exists reports whether a projection store has already been created in
// the namespace.
func Exists(ns walletdb.ReadBucket) bool {
	return ns.Get(rootVersion) != nil
}

// RegisterWallet creates the bucket family for a wallet's projection.  It
// is idempotent; registering an existing wallet leaves its state alone.
func (s *Store) RegisterWallet(ns walletdb.ReadWriteBucket,
	id wmod.WalletID) error {

	wallets := ns.NestedReadWriteBucket(bucketWallets)
	if wallets == nil {
		str := "missing wallets bucket"
		return storeError(ErrData, str, nil)
	}
	w, err := wallets.CreateBucketIfNotExists(walletKey(id))
	if err != nil {
		str := fmt.Sprintf("failed to create bucket for wallet %q", id)
		return storeError(ErrDatabase, str, err)
	}
	return createWalletBuckets(w)
}

// WalletExists reports whether a wallet has been registered.
func (s *Store) WalletExists(ns walletdb.ReadBucket, id wmod.WalletID) bool {
	wallets := ns.NestedReadBucket(bucketWallets)
	if wallets == nil {
		return false
	}
	return wallets.NestedReadBucket(walletKey(id)) != nil
}

// Wallets returns the registered wallet IDs in byte order.
func (s *Store) Wallets(ns walletdb.ReadBucket) ([]wmod.WalletID, error) {
	wallets := ns.NestedReadBucket(bucketWallets)
	if wallets == nil {
		str := "missing wallets bucket"
		return nil, storeError(ErrData, str, nil)
	}
	var ids []wmod.WalletID
	err := wallets.ForEach(func(k, v []byte) error {
		ids = append(ids, wmod.WalletID(k))
		return nil
	})
	if err != nil {
		str := "failed to iterate wallets"
		return nil, storeError(ErrDatabase, str, err)
	}
	return ids, nil
}

// WipeWallet drops a wallet's projection while keeping it registered.  The
// wallet comes back with no addresses, no markers, no outputs and no sync
// tip, as if freshly registered.
func (s *Store) WipeWallet(ns walletdb.ReadWriteBucket,
	id wmod.WalletID) error {

	wallets := ns.NestedReadWriteBucket(bucketWallets)
	if wallets == nil {
		str := "missing wallets bucket"
		return storeError(ErrData, str, nil)
	}
	if wallets.NestedReadWriteBucket(walletKey(id)) == nil {
		str := fmt.Sprintf("wallet %q is not registered", id)
		return storeError(ErrWalletNotFound, str, nil)
	}
	if err := wallets.DeleteNestedBucket(walletKey(id)); err != nil {
		str := fmt.Sprintf("failed to drop wallet %q", id)
		return storeError(ErrDatabase, str, err)
	}
	w, err := wallets.CreateBucket(walletKey(id))
	if err != nil {
		str := fmt.Sprintf("failed to recreate wallet %q", id)
		return storeError(ErrDatabase, str, err)
	}
	return createWalletBuckets(w)
}

// SyncTip returns the block the wallet is synced through.  ErrNoSyncTip is
// returned for a registered wallet that has never been seeded.
func (s *Store) SyncTip(ns walletdb.ReadBucket,
	id wmod.WalletID) (TipStamp, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return TipStamp{}, err
	}
	v := existsSyncTip(w)
	if v == nil {
		str := fmt.Sprintf("wallet %q has no sync tip", id)
		return TipStamp{}, storeError(ErrNoSyncTip, str, nil)
	}
	return fetchTipStamp(v)
}

// checkSyncTip verifies that the stored tip matches the caller's
// expectation before a commit mutates anything.  A nil expectation means
// the wallet must be unseeded.
func checkSyncTip(w walletdb.ReadBucket, id wmod.WalletID,
	expect *TipStamp) error {

	v := existsSyncTip(w)
	if expect == nil {
		if v != nil {
			str := fmt.Sprintf("wallet %q is already seeded", id)
			return storeError(ErrTipMismatch, str, nil)
		}
		return nil
	}
	if v == nil {
		str := fmt.Sprintf("wallet %q has no sync tip, expected %v",
			id, *expect)
		return storeError(ErrTipMismatch, str, nil)
	}
	tip, err := fetchTipStamp(v)
	if err != nil {
		return err
	}
	if tip != *expect {
		str := fmt.Sprintf("wallet %q sync tip is %v, expected %v",
			id, tip, *expect)
		return storeError(ErrTipMismatch, str, nil)
	}
	return nil
}

func componentBucket(w walletdb.ReadBucket,
	name []byte) (walletdb.ReadBucket, error) {

	b := w.NestedReadBucket(name)
	if b == nil {
		str := fmt.Sprintf("missing component bucket %q", name)
		return nil, storeError(ErrData, str, nil)
	}
	return b, nil
}

func componentBucketRW(w walletdb.ReadWriteBucket,
	name []byte) (walletdb.ReadWriteBucket, error) {

	b := w.NestedReadWriteBucket(name)
	if b == nil {
		str := fmt.Sprintf("missing component bucket %q", name)
		return nil, storeError(ErrData, str, nil)
	}
	return b, nil
}

// applyAddrDelta replays the owned-address delta onto the position and
// lookup buckets.  New addresses take the next position from the bucket
// sequence; a re-inserted address keeps the position it was first
// discovered at with its metadata replaced.
func applyAddrDelta(w walletdb.ReadWriteBucket,
	m *wmod.IndexedModifier[wmod.AddrKey, wmod.AddrMeta]) error {

	if m.IsEmpty() {
		return nil
	}
	addrs, err := componentBucketRW(w, bucketAddrs)
	if err != nil {
		return err
	}
	idx, err := componentBucketRW(w, bucketAddrIdx)
	if err != nil {
		return err
	}

	for _, key := range m.Deletions() {
		ak := []byte(key)
		pos := idx.Get(ak)
		if pos == nil {
			continue
		}
		posCopy := make([]byte, len(pos))
		copy(posCopy, pos)
		if err := addrs.Delete(posCopy); err != nil {
			str := fmt.Sprintf("failed to delete address %s", key)
			return storeError(ErrDatabase, str, err)
		}
		if err := idx.Delete(ak); err != nil {
			str := fmt.Sprintf("failed to unindex address %s", key)
			return storeError(ErrDatabase, str, err)
		}
	}
	for _, pair := range m.Insertions() {
		ak := []byte(pair.Key)
		meta := pair.Value

		var posKey []byte
		if pos := idx.Get(ak); pos != nil {
			posKey = make([]byte, len(pos))
			copy(posKey, pos)
		} else {
			seq, err := addrs.NextSequence()
			if err != nil {
				str := "failed to advance address sequence"
				return storeError(ErrDatabase, str, err)
			}
			posKey = keyPosition(seq)
			if err := idx.Put(ak, posKey); err != nil {
				str := fmt.Sprintf("failed to index address %s",
					pair.Key)
				return storeError(ErrDatabase, str, err)
			}
		}
		if err := addrs.Put(posKey, valueAddrMeta(&meta)); err != nil {
			str := fmt.Sprintf("failed to store address %s", pair.Key)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// applyMarkDelta replays a used- or change-marker delta.
func applyMarkDelta(w walletdb.ReadWriteBucket, name []byte,
	m *wmod.MapModifier[wmod.AddrMark, struct{}]) error {

	if m.IsEmpty() {
		return nil
	}
	b, err := componentBucketRW(w, name)
	if err != nil {
		return err
	}
	for _, mark := range m.Deletions() {
		if err := deleteAddrMark(b, mark); err != nil {
			return err
		}
	}
	for _, pair := range m.Insertions() {
		if err := putAddrMark(b, pair.Key); err != nil {
			return err
		}
	}
	return nil
}

// applyUtxoDelta replays the unspent-output delta.
func applyUtxoDelta(w walletdb.ReadWriteBucket,
	m *wmod.MapModifier[wire.OutPoint, wmod.Credit]) error {

	if m.IsEmpty() {
		return nil
	}
	b, err := componentBucketRW(w, bucketUtxo)
	if err != nil {
		return err
	}
	for _, op := range m.Deletions() {
		k := canonicalOutPoint(&op.Hash, op.Index)
		if err := b.Delete(k); err != nil {
			str := fmt.Sprintf("failed to delete output %v", op)
			return storeError(ErrDatabase, str, err)
		}
	}
	for _, pair := range m.Insertions() {
		op := pair.Key
		cred := pair.Value
		k := canonicalOutPoint(&op.Hash, op.Index)
		if err := b.Put(k, valueCredit(&cred)); err != nil {
			str := fmt.Sprintf("failed to store output %v", op)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// applyHistoryDelta replays the transaction-history delta.
func applyHistoryDelta(w walletdb.ReadWriteBucket,
	m *wmod.MapModifier[chainhash.Hash, wmod.TxHistoryEntry]) error {

	if m.IsEmpty() {
		return nil
	}
	b, err := componentBucketRW(w, bucketHistory)
	if err != nil {
		return err
	}
	for _, txid := range m.Deletions() {
		if err := b.Delete(txid[:]); err != nil {
			str := fmt.Sprintf("failed to delete history of %v", txid)
			return storeError(ErrDatabase, str, err)
		}
	}
	for _, pair := range m.Insertions() {
		txid := pair.Key
		entry := pair.Value
		v, err := valueHistoryEntry(&entry)
		if err != nil {
			return err
		}
		if err := b.Put(txid[:], v); err != nil {
			str := fmt.Sprintf("failed to store history of %v", txid)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// applyPendingDelta replays the pending-transaction delta.
func applyPendingDelta(w walletdb.ReadWriteBucket,
	m *wmod.MapModifier[chainhash.Hash, wmod.PendingMeta]) error {

	if m.IsEmpty() {
		return nil
	}
	b, err := componentBucketRW(w, bucketPending)
	if err != nil {
		return err
	}
	for _, txid := range m.Deletions() {
		if err := b.Delete(txid[:]); err != nil {
			str := fmt.Sprintf("failed to delete pending %v", txid)
			return storeError(ErrDatabase, str, err)
		}
	}
	for _, pair := range m.Insertions() {
		txid := pair.Key
		meta := pair.Value
		if err := b.Put(txid[:], valuePendingMeta(&meta)); err != nil {
			str := fmt.Sprintf("failed to store pending %v", txid)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// commit verifies the tip expectation, replays every component delta, and
// records the new tip.  The tip write comes last so a projection whose tip
// matches a block is known to contain that block's changes.
func (s *Store) commit(ns walletdb.ReadWriteBucket, id wmod.WalletID,
	oldTip *TipStamp, newTip TipStamp, m *wmod.AccModifier) error {

	w, err := fetchWalletBucketRW(ns, id)
	if err != nil {
		return err
	}
	if err := checkSyncTip(w, id, oldTip); err != nil {
		return err
	}

	if err := applyAddrDelta(w, &m.Addrs); err != nil {
		return err
	}
	if err := applyMarkDelta(w, bucketUsed, &m.Used); err != nil {
		return err
	}
	if err := applyMarkDelta(w, bucketChange, &m.Change); err != nil {
		return err
	}
	if err := applyUtxoDelta(w, &m.Utxo); err != nil {
		return err
	}
	if err := applyHistoryDelta(w, &m.History); err != nil {
		return err
	}
	if err := applyPendingDelta(w, &m.Pending); err != nil {
		return err
	}

	return putSyncTip(w, newTip)
}

// CommitApply advances the wallet's projection with a forward modifier and
// moves the sync tip to newTip.  oldTip must match the stored tip (nil for
// an unseeded wallet) or ErrTipMismatch is returned and nothing changes.
func (s *Store) CommitApply(ns walletdb.ReadWriteBucket, id wmod.WalletID,
	oldTip *TipStamp, newTip TipStamp, m *wmod.AccModifier) error {

	if err := s.commit(ns, id, oldTip, newTip, m); err != nil {
		return err
	}
	log.Debugf("Wallet %q advanced to %v: %v", id, newTip, m)
	return nil
}

// CommitRollback rewinds the wallet's projection with a rollback modifier
// and moves the sync tip back to newTip.  It returns the txids whose
// pending entries the rollback removed; those transactions have lost their
// confirmation and await re-inclusion.
func (s *Store) CommitRollback(ns walletdb.ReadWriteBucket, id wmod.WalletID,
	oldTip *TipStamp, newTip TipStamp,
	m *wmod.AccModifier) ([]chainhash.Hash, error) {

	w, err := fetchWalletBucketRW(ns, id)
	if err != nil {
		return nil, err
	}
	pending, err := componentBucket(w, bucketPending)
	if err != nil {
		return nil, err
	}
	var reverted []chainhash.Hash
	for _, txid := range m.Pending.Deletions() {
		if pending.Get(txid[:]) != nil {
			reverted = append(reverted, txid)
		}
	}
	sort.Slice(reverted, func(i, j int) bool {
		return bytes.Compare(reverted[i][:], reverted[j][:]) < 0
	})

	if err := s.commit(ns, id, oldTip, newTip, m); err != nil {
		return nil, err
	}
	log.Debugf("Wallet %q rewound to %v: %v", id, newTip, m)
	return reverted, nil
}

// OrderedAddrs returns the wallet's owned addresses in discovery order.
func (s *Store) OrderedAddrs(ns walletdb.ReadBucket,
	id wmod.WalletID) ([]wmod.AddrMeta, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return nil, err
	}
	b, err := componentBucket(w, bucketAddrs)
	if err != nil {
		return nil, err
	}
	var addrs []wmod.AddrMeta
	err = b.ForEach(func(k, v []byte) error {
		meta, err := fetchAddrMeta(v)
		if err != nil {
			return err
		}
		addrs = append(addrs, meta)
		return nil
	})
	if err != nil {
		return nil, convertErr("failed to iterate addresses", err)
	}
	return addrs, nil
}

// UsedMarkers returns the number of used markers recorded for an address,
// one per block that delivered an output to it.
func (s *Store) UsedMarkers(ns walletdb.ReadBucket, id wmod.WalletID,
	addr wmod.AddrKey) (int, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return 0, err
	}
	b, err := componentBucket(w, bucketUsed)
	if err != nil {
		return 0, err
	}
	return countAddrMarks(b, addr), nil
}

// IsUsed reports whether any block marked the address as used.
func (s *Store) IsUsed(ns walletdb.ReadBucket, id wmod.WalletID,
	addr wmod.AddrKey) (bool, error) {

	n, err := s.UsedMarkers(ns, id, addr)
	return n > 0, err
}

// IsChange reports whether any block classified the address as change.
func (s *Store) IsChange(ns walletdb.ReadBucket, id wmod.WalletID,
	addr wmod.AddrKey) (bool, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return false, err
	}
	b, err := componentBucket(w, bucketChange)
	if err != nil {
		return false, err
	}
	return countAddrMarks(b, addr) > 0, nil
}

// Utxo returns the wallet's unspent outputs keyed by outpoint.
func (s *Store) Utxo(ns walletdb.ReadBucket,
	id wmod.WalletID) (map[wire.OutPoint]wmod.Credit, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return nil, err
	}
	b, err := componentBucket(w, bucketUtxo)
	if err != nil {
		return nil, err
	}
	utxo := make(map[wire.OutPoint]wmod.Credit)
	err = b.ForEach(func(k, v []byte) error {
		cred, err := fetchCredit(k, v)
		if err != nil {
			return err
		}
		utxo[cred.OutPoint] = cred
		return nil
	})
	if err != nil {
		return nil, convertErr("failed to iterate outputs", err)
	}
	return utxo, nil
}

// Balance returns the sum of the wallet's unspent output amounts.
func (s *Store) Balance(ns walletdb.ReadBucket,
	id wmod.WalletID) (btcutil.Amount, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return 0, err
	}
	b, err := componentBucket(w, bucketUtxo)
	if err != nil {
		return 0, err
	}
	var total btcutil.Amount
	err = b.ForEach(func(k, v []byte) error {
		if len(v) < 8 {
			str := "credit: short read"
			return storeError(ErrData, str, nil)
		}
		total += btcutil.Amount(byteOrder.Uint64(v[0:8]))
		return nil
	})
	if err != nil {
		return 0, convertErr("failed to iterate outputs", err)
	}
	return total, nil
}

// History returns the wallet's transaction history sorted by confirmation
// difficulty with unconfirmed entries last, ties broken by txid.
func (s *Store) History(ns walletdb.ReadBucket,
	id wmod.WalletID) ([]wmod.TxHistoryEntry, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return nil, err
	}
	b, err := componentBucket(w, bucketHistory)
	if err != nil {
		return nil, err
	}
	var entries []wmod.TxHistoryEntry
	err = b.ForEach(func(k, v []byte) error {
		if len(k) != 32 {
			str := "history: malformed txid key"
			return storeError(ErrData, str, nil)
		}
		var txid chainhash.Hash
		copy(txid[:], k)
		entry, err := fetchHistoryEntry(txid, v)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, convertErr("failed to iterate history", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		iSome := entries[i].Difficulty.IsSome()
		jSome := entries[j].Difficulty.IsSome()
		if iSome != jSome {
			return iSome
		}
		if iSome {
			di := entries[i].Difficulty.UnwrapOr(0)
			dj := entries[j].Difficulty.UnwrapOr(0)
			if di != dj {
				return di < dj
			}
		}
		return bytes.Compare(entries[i].TxID[:], entries[j].TxID[:]) < 0
	})
	return entries, nil
}

// PendingTxs returns the wallet's tracked pending transactions keyed by
// txid.
func (s *Store) PendingTxs(ns walletdb.ReadBucket,
	id wmod.WalletID) (map[chainhash.Hash]wmod.PendingMeta, error) {

	w, err := fetchWalletBucket(ns, id)
	if err != nil {
		return nil, err
	}
	b, err := componentBucket(w, bucketPending)
	if err != nil {
		return nil, err
	}
	pending := make(map[chainhash.Hash]wmod.PendingMeta)
	err = b.ForEach(func(k, v []byte) error {
		if len(k) != 32 {
			str := "pending: malformed txid key"
			return storeError(ErrData, str, nil)
		}
		var txid chainhash.Hash
		copy(txid[:], k)
		meta, err := fetchPendingMeta(v)
		if err != nil {
			return err
		}
		pending[txid] = meta
		return nil
	})
	if err != nil {
		return nil, convertErr("failed to iterate pending txs", err)
	}
	return pending, nil
}

// convertErr passes through errors this package raised and wraps driver
// errors escaping a bucket iteration.
func convertErr(str string, err error) error {
	if _, ok := err.(StoreError); ok {
		return err
	}
	return storeError(ErrDatabase, str, err)
}
