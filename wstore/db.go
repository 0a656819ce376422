// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/walletmirror/walletmirror/wmod"
)

// Naming
//
// The following variables are commonly used in this file and given
// reserved names:
//
//   ns: The namespace bucket for this package
//   w:  A single wallet's family bucket
//   b:  The primary bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//   c:  A bucket cursor
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, which performs the
// operation `Op` on the type `Type`, optionally dealing with raw keys and
// values if `Raw` is used.  Fetch and extract operations may only need to
// read some portion of a key or value, in which case `Field` describes the
// component being returned.  The following operations are used:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   exists:  return the raw (nil if not found) value for some data
//   delete:  remove a k/v pair
//
// Other operations which are specific to the types being operated on
// should be explained in a comment.

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// This package makes assumptions that the width of a chainhash.Hash is
// always 32 bytes.  If this is ever changed, scan offsets have to be
// rewritten.  Use a compile-time assertion that this assumption holds.
var _ [32]byte = chainhash.Hash{}

// Database versions.  Versions start at 1 and increment for each database
// change.
const (
	// LatestVersion is the most recent store version.
	LatestVersion = 1
)

// Bucket names.  Wallet family buckets are nested under bucketWallets,
// keyed by the raw wallet ID; each family holds the component buckets.
var (
	bucketWallets = []byte("w")

	bucketAddrs   = []byte("a")  // position -> address meta
	bucketAddrIdx = []byte("ai") // address -> position
	bucketUsed    = []byte("u")  // address || block hash -> marker
	bucketChange  = []byte("c")  // address || block hash -> marker
	bucketUtxo    = []byte("x")  // outpoint -> credit
	bucketHistory = []byte("h")  // txid -> history entry (TLV)
	bucketPending = []byte("p")  // txid -> pending block meta
)

// Root (namespace) bucket keys.
var (
	rootCreateDate = []byte("date")
	rootVersion    = []byte("vers")
)

// Wallet family bucket keys.
var (
	walletSyncTip = []byte("tip")
)

// Marker values carry no data.  A single byte is stored so a driver that
// returns nil for empty values cannot make an existing marker look absent.
var markerValue = []byte{0}

func putVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	v := make([]byte, 4)
	byteOrder.PutUint32(v, version)
	if err := ns.Put(rootVersion, v); err != nil {
		str := "failed to store version"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func fetchVersion(ns walletdb.ReadBucket) (uint32, error) {
	v := ns.Get(rootVersion)
	if len(v) != 4 {
		str := "version: short read"
		return 0, storeError(ErrData, str, nil)
	}
	return byteOrder.Uint32(v), nil
}

func putCreateDate(ns walletdb.ReadWriteBucket, when time.Time) error {
	v := make([]byte, 8)
	byteOrder.PutUint64(v, uint64(when.Unix()))
	if err := ns.Put(rootCreateDate, v); err != nil {
		str := "failed to store creation time"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// walletKey returns the db key naming a wallet's family bucket.
func walletKey(id wmod.WalletID) []byte {
	return []byte(id)
}

func fetchWalletBucket(ns walletdb.ReadBucket,
	id wmod.WalletID) (walletdb.ReadBucket, error) {

	wallets := ns.NestedReadBucket(bucketWallets)
	if wallets == nil {
		str := "missing wallets bucket"
		return nil, storeError(ErrData, str, nil)
	}
	w := wallets.NestedReadBucket(walletKey(id))
	if w == nil {
		str := fmt.Sprintf("wallet %q is not registered", id)
		return nil, storeError(ErrWalletNotFound, str, nil)
	}
	return w, nil
}

func fetchWalletBucketRW(ns walletdb.ReadWriteBucket,
	id wmod.WalletID) (walletdb.ReadWriteBucket, error) {

	wallets := ns.NestedReadWriteBucket(bucketWallets)
	if wallets == nil {
		str := "missing wallets bucket"
		return nil, storeError(ErrData, str, nil)
	}
	w := wallets.NestedReadWriteBucket(walletKey(id))
	if w == nil {
		str := fmt.Sprintf("wallet %q is not registered", id)
		return nil, storeError(ErrWalletNotFound, str, nil)
	}
	return w, nil
}

// createWalletBuckets populates a fresh wallet family bucket with its
// component buckets.
func createWalletBuckets(w walletdb.ReadWriteBucket) error {
	components := [][]byte{
		bucketAddrs, bucketAddrIdx, bucketUsed, bucketChange,
		bucketUtxo, bucketHistory, bucketPending,
	}
	for _, name := range components {
		_, err := w.CreateBucketIfNotExists(name)
		if err != nil {
			str := fmt.Sprintf("failed to create bucket %q", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// The canonical outpoint serialization format is:
//
//   [0:32]  Transaction hash (32 bytes)
//   [32:36] Output index (4 bytes)

func canonicalOutPoint(hash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, hash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) < 36 {
		str := "short canonical outpoint"
		return storeError(ErrData, str, nil)
	}
	copy(op.Hash[:], k[:32])
	op.Index = byteOrder.Uint32(k[32:36])
	return nil
}

// The address meta serialization format is:
//
//   [0:4]   Account (4 bytes)
//   [4:8]   Branch (4 bytes)
//   [8:12]  Index (4 bytes)
//   [12:]   Address key (remainder)

func valueAddrMeta(meta *wmod.AddrMeta) []byte {
	addr := []byte(meta.Addr)
	v := make([]byte, 12+len(addr))
	byteOrder.PutUint32(v[0:4], meta.Account)
	byteOrder.PutUint32(v[4:8], meta.Branch)
	byteOrder.PutUint32(v[8:12], meta.Index)
	copy(v[12:], addr)
	return v
}

func fetchAddrMeta(v []byte) (wmod.AddrMeta, error) {
	if len(v) < 12 {
		str := "address meta: short read"
		return wmod.AddrMeta{}, storeError(ErrData, str, nil)
	}
	return wmod.AddrMeta{
		Account: byteOrder.Uint32(v[0:4]),
		Branch:  byteOrder.Uint32(v[4:8]),
		Index:   byteOrder.Uint32(v[8:12]),
		Addr:    wmod.AddrKey(v[12:]),
	}, nil
}

// keyPosition returns the big-endian key for an address index position, so
// cursor order is discovery order.
func keyPosition(pos uint64) []byte {
	k := make([]byte, 8)
	byteOrder.PutUint64(k, pos)
	return k
}

// The marker key format is the raw address bytes followed by the marking
// block's hash:
//
//   [0:len-32]  Address key
//   [len-32:]   Block hash (32 bytes)
//
// All markers for one address form a contiguous key range, so membership
// and counting are prefix scans.  A scan must also match on total key
// length, since one address may be a byte prefix of another.

func keyAddrMark(mark wmod.AddrMark) []byte {
	addr := []byte(mark.Addr)
	k := make([]byte, len(addr)+32)
	copy(k, addr)
	copy(k[len(addr):], mark.Block[:])
	return k
}

func putAddrMark(b walletdb.ReadWriteBucket, mark wmod.AddrMark) error {
	if err := b.Put(keyAddrMark(mark), markerValue); err != nil {
		str := fmt.Sprintf("failed to store marker for %s", mark.Addr)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func deleteAddrMark(b walletdb.ReadWriteBucket, mark wmod.AddrMark) error {
	if err := b.Delete(keyAddrMark(mark)); err != nil {
		str := fmt.Sprintf("failed to delete marker for %s", mark.Addr)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// countAddrMarks returns the number of marker entries recorded for the
// address.
func countAddrMarks(b walletdb.ReadBucket, addr wmod.AddrKey) int {
	prefix := []byte(addr)
	wantLen := len(prefix) + 32

	n := 0
	c := b.ReadCursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) == wantLen {
			n++
		}
	}
	return n
}

// The credit value serialization format is:
//
//   [0:8]       Amount (8 bytes)
//   [8:12]      Account (4 bytes)
//   [12:16]     Branch (4 bytes)
//   [16:20]     Index (4 bytes)
//   [20:24]     Script length (4 bytes)
//   [24:24+n]   Output script (n bytes)
//   [24+n:]     Address key (remainder)

func valueCredit(cred *wmod.Credit) []byte {
	addr := []byte(cred.Meta.Addr)
	v := make([]byte, 24+len(cred.PkScript)+len(addr))
	byteOrder.PutUint64(v[0:8], uint64(cred.Amount))
	byteOrder.PutUint32(v[8:12], cred.Meta.Account)
	byteOrder.PutUint32(v[12:16], cred.Meta.Branch)
	byteOrder.PutUint32(v[16:20], cred.Meta.Index)
	byteOrder.PutUint32(v[20:24], uint32(len(cred.PkScript)))
	copy(v[24:], cred.PkScript)
	copy(v[24+len(cred.PkScript):], addr)
	return v
}

func fetchCredit(k, v []byte) (wmod.Credit, error) {
	var cred wmod.Credit
	if err := readCanonicalOutPoint(k, &cred.OutPoint); err != nil {
		return cred, err
	}
	if len(v) < 24 {
		str := "credit: short read"
		return cred, storeError(ErrData, str, nil)
	}
	scriptLen := byteOrder.Uint32(v[20:24])
	if uint32(len(v)-24) < scriptLen {
		str := "credit: script overruns value"
		return cred, storeError(ErrData, str, nil)
	}
	cred.Amount = btcutil.Amount(byteOrder.Uint64(v[0:8]))
	cred.Meta.Account = byteOrder.Uint32(v[8:12])
	cred.Meta.Branch = byteOrder.Uint32(v[12:16])
	cred.Meta.Index = byteOrder.Uint32(v[16:20])
	if scriptLen > 0 {
		cred.PkScript = make([]byte, scriptLen)
		copy(cred.PkScript, v[24:24+scriptLen])
	}
	cred.Meta.Addr = wmod.AddrKey(v[24+scriptLen:])
	return cred, nil
}

// The pending meta serialization format is:
//
//   [0:32]  Block hash (32 bytes)
//   [32:40] Difficulty (8 bytes)
//   [40:48] Slot (8 bytes)

func valuePendingMeta(meta *wmod.PendingMeta) []byte {
	v := make([]byte, 48)
	copy(v[0:32], meta.BlockHash[:])
	byteOrder.PutUint64(v[32:40], meta.Difficulty)
	byteOrder.PutUint64(v[40:48], meta.Slot)
	return v
}

func fetchPendingMeta(v []byte) (wmod.PendingMeta, error) {
	if len(v) != 48 {
		str := "pending meta: short read"
		return wmod.PendingMeta{}, storeError(ErrData, str, nil)
	}
	var meta wmod.PendingMeta
	copy(meta.BlockHash[:], v[0:32])
	meta.Difficulty = byteOrder.Uint64(v[32:40])
	meta.Slot = byteOrder.Uint64(v[40:48])
	return meta, nil
}

// The sync tip serialization format is:
//
//   [0:32]  Block hash (32 bytes)
//   [32:40] Difficulty (8 bytes)

func valueTipStamp(tip *TipStamp) []byte {
	v := make([]byte, 40)
	copy(v[0:32], tip.Hash[:])
	byteOrder.PutUint64(v[32:40], tip.Difficulty)
	return v
}

func fetchTipStamp(v []byte) (TipStamp, error) {
	if len(v) != 40 {
		str := "sync tip: short read"
		return TipStamp{}, storeError(ErrData, str, nil)
	}
	var tip TipStamp
	copy(tip.Hash[:], v[0:32])
	tip.Difficulty = byteOrder.Uint64(v[32:40])
	return tip, nil
}

func putSyncTip(w walletdb.ReadWriteBucket, tip TipStamp) error {
	if err := w.Put(walletSyncTip, valueTipStamp(&tip)); err != nil {
		str := "failed to store sync tip"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// existsSyncTip returns the raw sync tip value, or nil when the wallet has
// never been seeded.
func existsSyncTip(w walletdb.ReadBucket) []byte {
	return w.Get(walletSyncTip)
}
