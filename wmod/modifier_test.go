// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wmod

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func testOutPoint(b byte, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: testHash(b), Index: index}
}

// genAccModifier builds a composite modifier from a random operation
// sequence spread across all six components.
func genAccModifier(t *rapid.T, label string) *AccModifier {
	m := &AccModifier{}
	numOps := rapid.IntRange(0, 24).Draw(t, label+".numOps")
	for i := 0; i < numOps; i++ {
		b := byte(rapid.IntRange(0, 5).Draw(t, label+".k"))
		addr := AddrKey(testKeys[b])
		isInsert := rapid.Bool().Draw(t, label+".isInsert")

		switch rapid.IntRange(0, 5).Draw(t, label+".component") {
		case 0:
			if isInsert {
				m.Addrs.Insert(addr, AddrMeta{
					Addr:    addr,
					Account: uint32(b),
					Index:   uint32(i),
				})
			} else {
				m.Addrs.Delete(addr)
			}
		case 1:
			mark := AddrMark{Addr: addr, Block: testHash(b)}
			if isInsert {
				m.Used.Insert(mark, struct{}{})
			} else {
				m.Used.Delete(mark)
			}
		case 2:
			mark := AddrMark{Addr: addr, Block: testHash(b)}
			if isInsert {
				m.Change.Insert(mark, struct{}{})
			} else {
				m.Change.Delete(mark)
			}
		case 3:
			op := testOutPoint(b, 0)
			if isInsert {
				m.Utxo.Insert(op, Credit{
					OutPoint: op,
					Amount:   btcutil.Amount(b) * 1000,
					PkScript: []byte{b},
				})
			} else {
				m.Utxo.Delete(op)
			}
		case 4:
			h := testHash(b)
			if isInsert {
				m.History.Insert(h, TxHistoryEntry{
					TxID:     h,
					TotalIn:  btcutil.Amount(b) * 10,
					TotalOut: btcutil.Amount(b) * 9,
				})
			} else {
				m.History.Delete(h)
			}
		case 5:
			h := testHash(b)
			if isInsert {
				m.Pending.Insert(h, PendingMeta{
					BlockHash:  testHash(b + 100),
					Difficulty: uint64(b),
				})
			} else {
				m.Pending.Delete(h)
			}
		}
	}
	return m
}

func requireSameAccModifier(t require.TestingT, want, got *AccModifier) {
	requireSameIndexedModifier(t, &want.Addrs, &got.Addrs)
	requireSameMapModifier(t, &want.Used, &got.Used)
	requireSameMapModifier(t, &want.Change, &got.Change)
	requireSameMapModifier(t, &want.Utxo, &got.Utxo)
	requireSameMapModifier(t, &want.History, &got.History)
	requireSameMapModifier(t, &want.Pending, &got.Pending)
}

func TestAccModifierZeroIsIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := genAccModifier(rt, "m")

		left := m.Clone()
		left.Merge(&AccModifier{})
		requireSameAccModifier(rt, m, left)

		right := &AccModifier{}
		right.Merge(m)
		requireSameAccModifier(rt, m, right)
	})
}

func TestAccModifierMergeAssociative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m1 := genAccModifier(rt, "m1")
		m2 := genAccModifier(rt, "m2")
		m3 := genAccModifier(rt, "m3")

		left := m1.Clone()
		left.Merge(m2)
		left.Merge(m3)

		inner := m2.Clone()
		inner.Merge(m3)
		right := m1.Clone()
		right.Merge(inner)

		requireSameAccModifier(rt, left, right)
	})
}

// Folding two per-block modifiers where the second block spends an output
// created by the first nets the spent outpoint to a pending deletion while
// both history entries survive in block order.
func TestAccModifierMergeSpendAcrossBlocks(t *testing.T) {
	blockOne := testHash(101)
	blockTwo := testHash(102)
	created := testOutPoint(1, 0)
	replacement := testOutPoint(2, 0)

	m1 := &AccModifier{}
	m1.Addrs.Insert("addrA", AddrMeta{Addr: "addrA"})
	m1.Used.Insert(AddrMark{Addr: "addrA", Block: blockOne}, struct{}{})
	m1.Utxo.Insert(created, Credit{OutPoint: created, Amount: 5000})
	m1.History.Insert(testHash(1), TxHistoryEntry{TxID: testHash(1)})

	m2 := &AccModifier{}
	m2.Addrs.Insert("addrB", AddrMeta{Addr: "addrB"})
	m2.Used.Insert(AddrMark{Addr: "addrB", Block: blockTwo}, struct{}{})
	m2.Utxo.Delete(created)
	m2.Utxo.Insert(replacement, Credit{OutPoint: replacement, Amount: 4000})
	m2.History.Insert(testHash(2), TxHistoryEntry{TxID: testHash(2)})

	m1.Merge(m2)

	utxoIns := m1.Utxo.Insertions()
	require.Len(t, utxoIns, 1)
	require.Equal(t, replacement, utxoIns[0].Key)
	require.Equal(t, []wire.OutPoint{created}, m1.Utxo.Deletions())

	histIns := m1.History.Insertions()
	require.Len(t, histIns, 2)
	require.Equal(t, testHash(1), histIns[0].Key)
	require.Equal(t, testHash(2), histIns[1].Key)

	addrIns := m1.Addrs.Insertions()
	require.Len(t, addrIns, 2)
	require.Equal(t, AddrKey("addrA"), addrIns[0].Key)
	require.Equal(t, AddrKey("addrB"), addrIns[1].Key)
}

func TestAccModifierIsEmpty(t *testing.T) {
	m := &AccModifier{}
	require.True(t, m.IsEmpty())

	m.Pending.Insert(testHash(1), PendingMeta{})
	require.False(t, m.IsEmpty())

	m.Pending.Delete(testHash(1))
	// A recorded deletion is still a change.
	require.False(t, m.IsEmpty())
}

func TestAccModifierCloneIndependent(t *testing.T) {
	m := &AccModifier{}
	m.Addrs.Insert("addrA", AddrMeta{Addr: "addrA"})
	m.Utxo.Insert(testOutPoint(1, 0), Credit{Amount: 1})

	c := m.Clone()
	c.Addrs.Delete("addrA")
	c.Utxo.Insert(testOutPoint(2, 1), Credit{Amount: 2})

	require.Equal(t, 1, m.Addrs.NumInsertions())
	require.Equal(t, 0, m.Addrs.NumDeletions())
	require.Equal(t, 1, m.Utxo.NumInsertions())

	require.Equal(t, 0, c.Addrs.NumInsertions())
	require.Equal(t, 2, c.Utxo.NumInsertions())
}
