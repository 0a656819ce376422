// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wstore"
	"github.com/walletmirror/walletmirror/wtrack"
)

var namespaceKey = []byte("wsynctest")

const (
	dbTimeout   = 10 * time.Second
	testSlotLen = 10 * time.Second
)

var (
	testGenesisTime = time.Unix(1_700_000_000, 0).UTC()

	// testNow is what the frozen test clock reports, well past any slot
	// timestamp the test chains produce.
	testNow = time.Unix(1_700_009_000, 0).UTC()
)

// pkhAddr derives a deterministic pay-to-pubkey-hash address from a single
// byte, so tests can name addresses without key material.
func pkhAddr(t *testing.T, b byte) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		bytes.Repeat([]byte{b}, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	return addr
}

func payTo(t *testing.T, addr btcutil.Address) []byte {
	t.Helper()

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

func outPoint(b byte, index uint32) wire.OutPoint {
	var op wire.OutPoint
	op.Hash[0] = b
	op.Index = index
	return op
}

// prevOutput describes one consumed output: the outpoint a test
// transaction spends and the output data its undo entry resolves to.
type prevOutput struct {
	op     wire.OutPoint
	value  int64
	script []byte
}

// buildTx assembles a transaction spending prevs and creating outs,
// together with the matching undo data.
func buildTx(prevs []prevOutput, outs []*wire.TxOut) (*wire.MsgTx,
	[]chain.SpentOutput) {

	tx := wire.NewMsgTx(wire.TxVersion)
	undo := make([]chain.SpentOutput, 0, len(prevs))
	for i := range prevs {
		tx.AddTxIn(wire.NewTxIn(&prevs[i].op, nil, nil))

		spent := chain.SpentOutput{PrevOut: prevs[i].op}
		if prevs[i].script != nil {
			spent.TxOut = wire.NewTxOut(
				prevs[i].value, prevs[i].script,
			)
		}
		undo = append(undo, spent)
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx, undo
}

// testBlockHash derives a block hash from the block's difficulty.  Fork
// blocks flip a marker byte so a replacement branch never collides with
// the blocks it replaces.
func testBlockHash(difficulty uint64, fork bool) chainhash.Hash {
	var h chainhash.Hash
	binary.BigEndian.PutUint64(h[:8], difficulty)
	h[31] = 0xbb
	if fork {
		h[30] = 0xff
	}
	return h
}

// testChain grows a deterministic in-memory chain: block hashes derive
// from difficulty, slots advance ten per block.
type testChain struct {
	t   *testing.T
	idx *chain.MemIndex
}

func newTestChain(t *testing.T, genesisTxs ...*wire.MsgTx) *testChain {
	t.Helper()

	gen := &chain.BlockAndUndo{
		Block: &chain.Block{
			Header: chain.Header{Hash: testBlockHash(0, false)},
			Txs:    genesisTxs,
		},
		Undo: make(chain.Undo, len(genesisTxs)),
	}
	idx, err := chain.NewMemIndex(gen)
	require.NoError(t, err)
	return &testChain{t: t, idx: idx}
}

func (c *testChain) tip() chain.Header {
	hdr, err := c.idx.TipHeader(context.Background())
	require.NoError(c.t, err)
	return hdr
}

func (c *testChain) tipStamp() wstore.TipStamp {
	hdr := c.tip()
	return wstore.TipStamp{Hash: hdr.Hash, Difficulty: hdr.Difficulty}
}

// mine appends one block holding the given transactions and returns it.
func (c *testChain) mine(fork bool, txs []*wire.MsgTx,
	undo chain.Undo) *chain.BlockAndUndo {

	c.t.Helper()

	tip := c.tip()
	bu := &chain.BlockAndUndo{
		Block: &chain.Block{
			Header: chain.Header{
				Hash:       testBlockHash(tip.Difficulty+1, fork),
				Prev:       tip.Hash,
				Difficulty: tip.Difficulty + 1,
				Slot:       (tip.Difficulty + 1) * 10,
			},
			Txs: txs,
		},
		Undo: undo,
	}
	require.NoError(c.t, c.idx.Extend(bu))
	return bu
}

// payBlock mines one block carrying a single transaction.
func (c *testChain) payBlock(tx *wire.MsgTx,
	undo []chain.SpentOutput) *chain.BlockAndUndo {

	c.t.Helper()
	return c.mine(false, []*wire.MsgTx{tx}, chain.Undo{undo})
}

// emptyBlocks mines n blocks without transactions.
func (c *testChain) emptyBlocks(n int) {
	c.t.Helper()
	for i := 0; i < n; i++ {
		c.mine(false, nil, nil)
	}
}

// rewind detaches n blocks without attaching replacements, the state a
// node is in when a rollback was cut short.
func (c *testChain) rewind(n uint64) {
	c.t.Helper()
	require.NoError(c.t, c.idx.Reorg(n, nil))
}

// testSyncer wires a Syncer over the chain with a shallow security depth
// and small batches, so a handful of blocks exercises the batching and
// locking paths.
func testSyncer(t *testing.T, tc *testChain, opts ...func(*Config)) *Syncer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := walletdb.Create("bdb", path, true, dbTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	cfg := Config{
		Index:         tc.idx,
		Lock:          tc.idx,
		DB:            db,
		Namespace:     namespaceKey,
		SecurityDepth: 3,
		BatchSize:     4,
		Clock:         clock.NewTestClock(testNow),
		SlotTimer:     chain.NewSlotTimer(testGenesisTime, testSlotLen),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func readTip(t *testing.T, s *Syncer, id wmod.WalletID) wstore.TipStamp {
	t.Helper()

	var tip wstore.TipStamp
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		tip, err = s.store.SyncTip(ns, id)
		return err
	}))
	return tip
}

func readBalance(t *testing.T, s *Syncer, id wmod.WalletID) btcutil.Amount {
	t.Helper()

	var bal btcutil.Amount
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		bal, err = s.store.Balance(ns, id)
		return err
	}))
	return bal
}

func readUtxo(t *testing.T, s *Syncer,
	id wmod.WalletID) map[wire.OutPoint]wmod.Credit {

	t.Helper()

	var utxo map[wire.OutPoint]wmod.Credit
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		utxo, err = s.store.Utxo(ns, id)
		return err
	}))
	return utxo
}

func readAddrs(t *testing.T, s *Syncer, id wmod.WalletID) []wmod.AddrMeta {
	t.Helper()

	var addrs []wmod.AddrMeta
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		addrs, err = s.store.OrderedAddrs(ns, id)
		return err
	}))
	return addrs
}

func readHistory(t *testing.T, s *Syncer,
	id wmod.WalletID) []wmod.TxHistoryEntry {

	t.Helper()

	var hist []wmod.TxHistoryEntry
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		hist, err = s.store.History(ns, id)
		return err
	}))
	return hist
}

func readPending(t *testing.T, s *Syncer,
	id wmod.WalletID) map[chainhash.Hash]wmod.PendingMeta {

	t.Helper()

	var pending map[chainhash.Hash]wmod.PendingMeta
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		pending, err = s.store.PendingTxs(ns, id)
		return err
	}))
	return pending
}

func readIsUsed(t *testing.T, s *Syncer, id wmod.WalletID,
	addr wmod.AddrKey) bool {

	t.Helper()

	var used bool
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		used, err = s.store.IsUsed(ns, id, addr)
		return err
	}))
	return used
}

func readIsChange(t *testing.T, s *Syncer, id wmod.WalletID,
	addr wmod.AddrKey) bool {

	t.Helper()

	var change bool
	require.NoError(t, s.View(func(ns walletdb.ReadBucket) error {
		var err error
		change, err = s.store.IsChange(ns, id, addr)
		return err
	}))
	return change
}

// plantTip records an arbitrary sync tip for a registered wallet, standing
// in for a projection whose chain has since been discarded.
func plantTip(t *testing.T, s *Syncer, id wmod.WalletID,
	tip wstore.TipStamp) {

	t.Helper()

	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		return s.store.CommitApply(ns, id, nil, tip,
			&wmod.AccModifier{})
	})
	require.NoError(t, err)
}

// panicBook blows up during classification, standing in for a misbehaving
// address source.
type panicBook struct {
	id wmod.WalletID
}

func (p panicBook) WalletID() wmod.WalletID {
	return p.id
}

func (p panicBook) LookupPkScript([]byte) (wmod.AddrMeta, bool) {
	panic("address book exploded")
}

func TestDecideAction(t *testing.T) {
	fresh := chain.Header{Hash: testBlockHash(5, false), Difficulty: 5}
	tipAt := func(d uint64) wstore.TipStamp {
		return wstore.TipStamp{
			Hash:       testBlockHash(d, false),
			Difficulty: d,
		}
	}

	require.Equal(t, actionForward, decideAction(tipAt(3), fresh).kind)
	require.Equal(t, actionBackward, decideAction(tipAt(7), fresh).kind)
	require.Equal(t, actionNoop, decideAction(tipAt(5), fresh).kind)

	// A wallet resting on a fork block at the tip difficulty is left
	// alone: neither direction can be derived from difficulty.
	forkTip := wstore.TipStamp{Hash: testBlockHash(5, true), Difficulty: 5}
	require.Equal(t, actionNoop, decideAction(forkTip, fresh).kind)
}

func TestResultTaxonomy(t *testing.T) {
	require.Equal(t, Succeeded, resultFor("w", nil).Outcome)

	require.Equal(t, NoTipAvailable, resultFor("w",
		syncError(ErrNotRegistered, "x", nil)).Outcome)
	require.Equal(t, NoTipAvailable, resultFor("w",
		errors.Wrap(chain.ErrNoTip, "reading chain tip")).Outcome)

	require.Equal(t, NotSyncable, resultFor("w",
		syncError(ErrUnresolvable, "x", nil)).Outcome)

	require.Equal(t, Failed, resultFor("w",
		syncError(ErrClassification, "x", nil)).Outcome)
	require.Equal(t, Failed, resultFor("w", errors.New("boom")).Outcome)
}

func TestSyncUnregisteredWallet(t *testing.T) {
	tc := newTestChain(t)
	s := testSyncer(t, tc)

	book := wtrack.NewStaticBook("w-ghost", &chaincfg.MainNetParams)
	res := s.Sync(context.Background(), book)
	require.Equal(t, NoTipAvailable, res.Outcome)
	require.True(t, IsError(res.Err, ErrNotRegistered))
}

func TestSyncSeedsGenesisAllocation(t *testing.T) {
	book := wtrack.NewStaticBook("w-seed", &chaincfg.MainNetParams)
	metaA := book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	payA := payTo(t, pkhAddr(t, 0x0a))
	payX := payTo(t, pkhAddr(t, 0xee))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	foreignTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(9_000, payX)})
	tc := newTestChain(t, allocTx, foreignTx)
	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-seed"))

	res := s.Sync(context.Background(), book)
	require.Equal(t, Succeeded, res.Outcome)
	require.NoError(t, res.Err)

	tip := readTip(t, s, "w-seed")
	require.Equal(t, testBlockHash(0, false), tip.Hash)
	require.Equal(t, uint64(0), tip.Difficulty)

	// The projection holds exactly the genesis allocation: the wallet's
	// address, its output, and nothing of the foreign transaction.
	require.Equal(t, []wmod.AddrMeta{metaA}, readAddrs(t, s, "w-seed"))

	utxo := readUtxo(t, s, "w-seed")
	require.Len(t, utxo, 1)
	op := wire.OutPoint{Hash: allocTx.TxHash(), Index: 0}
	require.Contains(t, utxo, op)
	require.Equal(t, btcutil.Amount(50_000), utxo[op].Amount)
	require.Equal(t, btcutil.Amount(50_000), readBalance(t, s, "w-seed"))

	hist := readHistory(t, s, "w-seed")
	require.Len(t, hist, 1)
	require.Equal(t, allocTx.TxHash(), hist[0].TxID)
	require.Equal(t, fn.Some(uint64(0)), hist[0].Difficulty)
	require.Equal(t, fn.Some(testGenesisTime), hist[0].Timestamp)

	// Genesis allocations never enter the candidate log.
	require.Empty(t, readPending(t, s, "w-seed"))

	require.True(t, readIsUsed(t, s, "w-seed", metaA.Addr))
	require.False(t, readIsChange(t, s, "w-seed", metaA.Addr))
}

func TestSyncIdempotent(t *testing.T) {
	book := wtrack.NewStaticBook("w-idem", &chaincfg.MainNetParams)
	book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	book.AddAddress(pkhAddr(t, 0x0b), 0, 0, 1)
	payA := payTo(t, pkhAddr(t, 0x0a))
	payB := payTo(t, pkhAddr(t, 0x0b))
	payX := payTo(t, pkhAddr(t, 0xee))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	tc := newTestChain(t, allocTx)

	payTx, payUndo := buildTx(
		[]prevOutput{{op: outPoint(0x77, 0), value: 8_000, script: payX}},
		[]*wire.TxOut{
			wire.NewTxOut(7_000, payB),
			wire.NewTxOut(900, payX),
		},
	)
	tc.payBlock(payTx, payUndo)
	tc.emptyBlocks(1)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-idem"))

	ctx := context.Background()
	res := s.Sync(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)

	tip := readTip(t, s, "w-idem")
	require.Equal(t, tc.tipStamp(), tip)
	bal := readBalance(t, s, "w-idem")
	require.Equal(t, btcutil.Amount(57_000), bal)
	hist := readHistory(t, s, "w-idem")

	// A second run has nothing to do and changes nothing.
	res = s.Sync(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tip, readTip(t, s, "w-idem"))
	require.Equal(t, bal, readBalance(t, s, "w-idem"))
	require.Equal(t, hist, readHistory(t, s, "w-idem"))
}

// TestSyncCatchesUpAcrossBatches drives two wallets through a chain long
// enough to split the run into a fast-forward over final blocks and a
// locked walk over the last few, with batch commits in between.  A change
// candidate in a late block must see a payment committed by an earlier
// batch of the same run.
func TestSyncCatchesUpAcrossBatches(t *testing.T) {
	bookMain := wtrack.NewStaticBook("w-main", &chaincfg.MainNetParams)
	metaA := bookMain.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	metaB := bookMain.AddAddress(pkhAddr(t, 0x0b), 0, 1, 0)
	bookSide := wtrack.NewStaticBook("w-side", &chaincfg.MainNetParams)
	metaE := bookSide.AddAddress(pkhAddr(t, 0x1e), 0, 0, 0)
	metaF := bookSide.AddAddress(pkhAddr(t, 0x1f), 0, 1, 0)

	payA := payTo(t, pkhAddr(t, 0x0a))
	payB := payTo(t, pkhAddr(t, 0x0b))
	payE := payTo(t, pkhAddr(t, 0x1e))
	payF := payTo(t, pkhAddr(t, 0x1f))
	payX := payTo(t, pkhAddr(t, 0xee))

	alloc1, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	alloc2, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(30_000, payE)})
	tc := newTestChain(t, alloc1, alloc2)

	// Block 3 pays w-main's B from a foreign source, marking B used.
	tc.emptyBlocks(2)
	payBTx, payBUndo := buildTx(
		[]prevOutput{{op: outPoint(0x77, 0), value: 8_000, script: payX}},
		[]*wire.TxOut{
			wire.NewTxOut(7_000, payB),
			wire.NewTxOut(900, payX),
		},
	)
	tc.payBlock(payBTx, payBUndo)
	tc.emptyBlocks(2)

	// Block 6: both wallets spend their allocation.  B was paid in block
	// 3, so it cannot be w-main's change; F is fresh, so it is w-side's.
	spend1, spend1Undo := buildTx(
		[]prevOutput{{
			op:     wire.OutPoint{Hash: alloc1.TxHash(), Index: 0},
			value:  50_000,
			script: payA,
		}},
		[]*wire.TxOut{
			wire.NewTxOut(10_000, payB),
			wire.NewTxOut(39_900, payX),
		},
	)
	spend2, spend2Undo := buildTx(
		[]prevOutput{{
			op:     wire.OutPoint{Hash: alloc2.TxHash(), Index: 0},
			value:  30_000,
			script: payE,
		}},
		[]*wire.TxOut{
			wire.NewTxOut(5_000, payF),
			wire.NewTxOut(24_900, payX),
		},
	)
	tc.mine(false, []*wire.MsgTx{spend1, spend2},
		chain.Undo{spend1Undo, spend2Undo})
	tc.emptyBlocks(3)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-main"))
	require.NoError(t, s.RegisterWallet("w-side"))

	ctx := context.Background()
	require.Equal(t, Succeeded, s.Sync(ctx, bookMain).Outcome)
	require.Equal(t, Succeeded, s.Sync(ctx, bookSide).Outcome)

	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-main"))
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-side"))

	// w-main: allocation spent, two payments to B remain.
	require.Equal(t, []wmod.AddrMeta{metaA, metaB},
		readAddrs(t, s, "w-main"))
	require.Equal(t, btcutil.Amount(17_000), readBalance(t, s, "w-main"))
	utxo := readUtxo(t, s, "w-main")
	require.Len(t, utxo, 2)
	require.Contains(t, utxo, wire.OutPoint{Hash: payBTx.TxHash()})
	require.Contains(t, utxo, wire.OutPoint{Hash: spend1.TxHash()})

	hist := readHistory(t, s, "w-main")
	require.Len(t, hist, 3)
	require.Equal(t, alloc1.TxHash(), hist[0].TxID)
	require.Equal(t, payBTx.TxHash(), hist[1].TxID)
	require.Equal(t, fn.Some(uint64(3)), hist[1].Difficulty)
	require.Equal(t, fn.Some(testGenesisTime.Add(30*testSlotLen)),
		hist[1].Timestamp)
	require.Equal(t, spend1.TxHash(), hist[2].TxID)
	require.Equal(t, fn.Some(uint64(6)), hist[2].Difficulty)

	// B's block 3 payment was part of an earlier commit of this same
	// run, and still disqualifies B as change in block 6.
	require.True(t, readIsUsed(t, s, "w-main", metaB.Addr))
	require.False(t, readIsChange(t, s, "w-main", metaB.Addr))

	pending := readPending(t, s, "w-main")
	require.Len(t, pending, 2)
	require.Equal(t, wmod.PendingMeta{
		BlockHash:  testBlockHash(3, false),
		Difficulty: 3,
		Slot:       30,
	}, pending[payBTx.TxHash()])

	// w-side: same spend shape, but F was never paid before, so the
	// self-payment is change.
	require.Equal(t, []wmod.AddrMeta{metaE, metaF},
		readAddrs(t, s, "w-side"))
	require.Equal(t, btcutil.Amount(5_000), readBalance(t, s, "w-side"))
	require.True(t, readIsUsed(t, s, "w-side", metaF.Addr))
	require.True(t, readIsChange(t, s, "w-side", metaF.Addr))
	require.Len(t, readPending(t, s, "w-side"), 1)
}

func TestSyncUnresolvableTipRestores(t *testing.T) {
	book := wtrack.NewStaticBook("w-lost", &chaincfg.MainNetParams)
	book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	payA := payTo(t, pkhAddr(t, 0x0a))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	tc := newTestChain(t, allocTx)
	tc.emptyBlocks(1)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-lost"))

	// The recorded tip points at a block the index has never seen.
	bogus := wstore.TipStamp{
		Hash:       chainhash.Hash{0xde, 0xad},
		Difficulty: 4,
	}
	plantTip(t, s, "w-lost", bogus)

	ctx := context.Background()
	res := s.Sync(ctx, book)
	require.Equal(t, NotSyncable, res.Outcome)
	require.True(t, IsError(res.Err, ErrUnresolvable))
	require.Equal(t, bogus, readTip(t, s, "w-lost"))

	// A restore rebuilds the projection from the genesis allocation.
	res = s.RestoreWalletHistory(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-lost"))
	require.Equal(t, btcutil.Amount(50_000), readBalance(t, s, "w-lost"))
}

// TestSyncRepairsInterruptedRollback leaves the chain shorter than the
// wallet, the state a crashed rollback leaves behind, and expects the next
// sync to rewind the projection onto the surviving chain in one step.
func TestSyncRepairsInterruptedRollback(t *testing.T) {
	book := wtrack.NewStaticBook("w-rb", &chaincfg.MainNetParams)
	book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	metaB := book.AddAddress(pkhAddr(t, 0x0b), 0, 1, 0)
	payA := payTo(t, pkhAddr(t, 0x0a))
	payB := payTo(t, pkhAddr(t, 0x0b))
	payX := payTo(t, pkhAddr(t, 0xee))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	tc := newTestChain(t, allocTx)

	tc.emptyBlocks(1)
	payB1, payB1Undo := buildTx(
		[]prevOutput{{op: outPoint(0x77, 0), value: 8_000, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(7_000, payB)},
	)
	tc.payBlock(payB1, payB1Undo)
	tc.emptyBlocks(1)
	payB2, payB2Undo := buildTx(
		[]prevOutput{{op: outPoint(0x78, 0), value: 4_000, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(3_000, payB)},
	)
	tc.payBlock(payB2, payB2Undo)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-rb"))

	ctx := context.Background()
	require.Equal(t, Succeeded, s.Sync(ctx, book).Outcome)
	require.Equal(t, btcutil.Amount(60_000), readBalance(t, s, "w-rb"))
	require.Len(t, readPending(t, s, "w-rb"), 2)

	// The chain loses its two newest blocks; the wallet is now ahead.
	tc.rewind(2)

	res := s.Sync(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-rb"))
	require.Equal(t, btcutil.Amount(57_000), readBalance(t, s, "w-rb"))

	hist := readHistory(t, s, "w-rb")
	require.Len(t, hist, 2)
	require.Equal(t, payB1.TxHash(), hist[1].TxID)

	pending := readPending(t, s, "w-rb")
	require.Len(t, pending, 1)
	require.Contains(t, pending, payB1.TxHash())
	require.True(t, readIsUsed(t, s, "w-rb", metaB.Addr))

	// Rewinding an already-repaired wallet changes nothing.
	res = s.Sync(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-rb"))

	// The replacement branch arrives and the wallet follows it forward.
	payB3, payB3Undo := buildTx(
		[]prevOutput{{op: outPoint(0x79, 0), value: 2_000, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(1_000, payB)},
	)
	tc.mine(true, []*wire.MsgTx{payB3}, chain.Undo{payB3Undo})
	tc.mine(true, nil, nil)

	res = s.Sync(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-rb"))
	require.Equal(t, btcutil.Amount(58_000), readBalance(t, s, "w-rb"))
	require.Contains(t, readPending(t, s, "w-rb"), payB3.TxHash())
}

// TestSyncStrandedOnForkRestores reorgs the chain out from under a synced
// wallet.  The wallet's tip still resolves but has no path to the new
// branch, so sync refuses to guess and a restore is the way back.
func TestSyncStrandedOnForkRestores(t *testing.T) {
	book := wtrack.NewStaticBook("w-fork", &chaincfg.MainNetParams)
	book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	book.AddAddress(pkhAddr(t, 0x0b), 0, 1, 0)
	payA := payTo(t, pkhAddr(t, 0x0a))
	payB := payTo(t, pkhAddr(t, 0x0b))
	payX := payTo(t, pkhAddr(t, 0xee))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	tc := newTestChain(t, allocTx)

	tc.emptyBlocks(1)
	oldPay, oldPayUndo := buildTx(
		[]prevOutput{{op: outPoint(0x77, 0), value: 8_000, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(7_000, payB)},
	)
	tc.payBlock(oldPay, oldPayUndo)
	tc.emptyBlocks(1)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-fork"))

	ctx := context.Background()
	require.Equal(t, Succeeded, s.Sync(ctx, book).Outcome)
	strandedTip := readTip(t, s, "w-fork")

	// Replace the two newest blocks with a longer branch paying B a
	// different amount.
	tc.rewind(2)
	newPay, newPayUndo := buildTx(
		[]prevOutput{{op: outPoint(0x88, 0), value: 9_500, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(9_000, payB)},
	)
	tc.mine(true, []*wire.MsgTx{newPay}, chain.Undo{newPayUndo})
	tc.mine(true, nil, nil)
	tc.mine(true, nil, nil)

	res := s.Sync(ctx, book)
	require.Equal(t, NotSyncable, res.Outcome)
	require.True(t, IsError(res.Err, ErrUnresolvable))
	require.Equal(t, strandedTip, readTip(t, s, "w-fork"))

	res = s.RestoreWalletHistory(ctx, book)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-fork"))
	require.Equal(t, btcutil.Amount(59_000), readBalance(t, s, "w-fork"))

	// The abandoned branch's payment is gone from the rebuilt history.
	hist := readHistory(t, s, "w-fork")
	require.Len(t, hist, 2)
	require.Equal(t, allocTx.TxHash(), hist[0].TxID)
	require.Equal(t, newPay.TxHash(), hist[1].TxID)
	require.Equal(t, wmod.PendingMeta{
		BlockHash:  testBlockHash(2, true),
		Difficulty: 2,
		Slot:       20,
	}, readPending(t, s, "w-fork")[newPay.TxHash()])
}

// TestSyncWalletsIsolation mixes healthy and broken wallets in one batch
// and expects each to get its own outcome, in input order, with the
// healthy one unharmed by its siblings.
func TestSyncWalletsIsolation(t *testing.T) {
	bookGood := wtrack.NewStaticBook("w-good", &chaincfg.MainNetParams)
	bookGood.AddAddress(pkhAddr(t, 0x2a), 0, 0, 0)
	payG := payTo(t, pkhAddr(t, 0x2a))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(40_000, payG)})
	tc := newTestChain(t, allocTx)
	tc.emptyBlocks(2)

	s := testSyncer(t, tc, func(cfg *Config) {
		cfg.MaxParallel = 2
	})
	require.NoError(t, s.RegisterWallet("w-good"))
	require.NoError(t, s.RegisterWallet("w-bogus"))
	require.NoError(t, s.RegisterWallet("w-boom"))
	plantTip(t, s, "w-bogus", wstore.TipStamp{
		Hash:       chainhash.Hash{0xde, 0xad},
		Difficulty: 9,
	})

	bookGhost := wtrack.NewStaticBook("w-ghost", &chaincfg.MainNetParams)
	bookBogus := wtrack.NewStaticBook("w-bogus", &chaincfg.MainNetParams)

	results := s.SyncWallets(context.Background(), []wtrack.AddrBook{
		bookGood,
		bookGhost,
		bookBogus,
		panicBook{id: "w-boom"},
	})
	require.Len(t, results, 4)

	require.Equal(t, wmod.WalletID("w-good"), results[0].Wallet)
	require.Equal(t, Succeeded, results[0].Outcome)

	require.Equal(t, wmod.WalletID("w-ghost"), results[1].Wallet)
	require.Equal(t, NoTipAvailable, results[1].Outcome)
	require.True(t, IsError(results[1].Err, ErrNotRegistered))

	require.Equal(t, wmod.WalletID("w-bogus"), results[2].Wallet)
	require.Equal(t, NotSyncable, results[2].Outcome)

	require.Equal(t, wmod.WalletID("w-boom"), results[3].Wallet)
	require.Equal(t, Failed, results[3].Outcome)
	require.ErrorContains(t, results[3].Err, "panic")

	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-good"))
	require.Equal(t, btcutil.Amount(40_000), readBalance(t, s, "w-good"))
}

// TestApplyRollbackBlockHooks feeds single attach and detach events to a
// synced wallet and checks the projection moves in lockstep, refusing any
// event that does not line up with the recorded tip.
func TestApplyRollbackBlockHooks(t *testing.T) {
	book := wtrack.NewStaticBook("w-hook", &chaincfg.MainNetParams)
	book.AddAddress(pkhAddr(t, 0x0a), 0, 0, 0)
	book.AddAddress(pkhAddr(t, 0x0c), 0, 1, 0)
	payA := payTo(t, pkhAddr(t, 0x0a))
	payC := payTo(t, pkhAddr(t, 0x0c))
	payX := payTo(t, pkhAddr(t, 0xee))

	allocTx, _ := buildTx(nil, []*wire.TxOut{wire.NewTxOut(50_000, payA)})
	tc := newTestChain(t, allocTx)
	b1 := tc.mine(false, nil, nil)

	s := testSyncer(t, tc)
	require.NoError(t, s.RegisterWallet("w-hook"))

	ctx := context.Background()
	require.Equal(t, Succeeded, s.Sync(ctx, book).Outcome)

	payCTx, payCUndo := buildTx(
		[]prevOutput{{op: outPoint(0x77, 0), value: 5_000, script: payX}},
		[]*wire.TxOut{wire.NewTxOut(4_000, payC)},
	)
	b2 := tc.payBlock(payCTx, payCUndo)

	// Attach moves the tip and confirms the payment.
	require.NoError(t, s.ApplyBlock(book, b2))
	require.Equal(t, wstore.TipStamp{
		Hash:       b2.Block.Header.Hash,
		Difficulty: 2,
	}, readTip(t, s, "w-hook"))
	require.Equal(t, btcutil.Amount(54_000), readBalance(t, s, "w-hook"))
	require.Contains(t, readPending(t, s, "w-hook"), payCTx.TxHash())

	// Replays and unrelated blocks are rejected without moving the tip.
	err := s.ApplyBlock(book, b2)
	require.True(t, IsError(err, ErrUnresolvable))
	err = s.RollbackBlock(book, b1)
	require.True(t, IsError(err, ErrUnresolvable))

	genesisBlock := &chain.BlockAndUndo{
		Block: &chain.Block{
			Header: chain.Header{Hash: testBlockHash(0, false)},
		},
	}
	err = s.RollbackBlock(book, genesisBlock)
	require.True(t, IsError(err, ErrUnresolvable))

	err = s.ApplyBlock(wtrack.NewStaticBook("w-none",
		&chaincfg.MainNetParams), b2)
	require.True(t, IsError(err, ErrNotRegistered))

	// Detach undoes exactly the attached block.
	require.NoError(t, s.RollbackBlock(book, b2))
	require.Equal(t, wstore.TipStamp{
		Hash:       b1.Block.Header.Hash,
		Difficulty: 1,
	}, readTip(t, s, "w-hook"))
	require.Equal(t, btcutil.Amount(50_000), readBalance(t, s, "w-hook"))
	require.Empty(t, readPending(t, s, "w-hook"))

	err = s.RollbackBlock(book, b2)
	require.True(t, IsError(err, ErrUnresolvable))

	// A pull sync closes the gap the detach reopened.
	require.Equal(t, Succeeded, s.Sync(ctx, book).Outcome)
	require.Equal(t, tc.tipStamp(), readTip(t, s, "w-hook"))
	require.Equal(t, btcutil.Amount(54_000), readBalance(t, s, "w-hook"))
}
