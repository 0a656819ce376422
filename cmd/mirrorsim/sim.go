// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/txfees"
	"github.com/walletmirror/walletmirror/wsync"
	"github.com/walletmirror/walletmirror/wtrack"
)

const (
	// initialAllocation funds each wallet in the genesis block.
	initialAllocation = btcutil.Amount(btcutil.SatoshiPerBitcoin)

	// minPayment is the smallest output the simulation creates.  Coins
	// that cannot cover a payment, change, and fees stay unspent.
	minPayment = btcutil.Amount(10_000)

	slotLength       = 20 * time.Second
	resubmitInterval = 30 * time.Second
)

var wstoreNamespace = []byte("wstore")

// simCoin is one spendable output of the simulated ledger together with
// the wallet that owns it.
type simCoin struct {
	op    wire.OutPoint
	out   *wire.TxOut
	owner int
}

func copyCoins(coins []simCoin) []simCoin {
	out := make([]simCoin, len(coins))
	copy(out, coins)
	return out
}

// simulator owns the whole scenario: the wallets, the authoritative chain,
// the ledger the miner spends from, and the syncer under test.
type simulator struct {
	cfg    *config
	rng    *rand.Rand
	params *chaincfg.Params
	policy txfees.LinearPolicy

	idx    *chain.MemIndex
	syncer *wsync.Syncer

	wallets []*simWallet
	books   []wtrack.AddrBook

	// coins is the current ledger; snapshots holds the ledger after
	// every block so a reorg can rewind it to the surviving prefix.
	coins     []simCoin
	snapshots [][]simCoin

	// maxSlot covers abandoned branches too, so fork-side blocks never
	// reuse a slot already mined at the same difficulty.
	maxSlot uint64
}

// newSimulator builds the wallets, the genesis allocation, the chain index,
// and a syncer over db, and registers every wallet with it.
func newSimulator(cfg *config, db walletdb.DB) (*simulator, error) {
	s := &simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		params: &chaincfg.SimNetParams,
		policy: txfees.LinearPolicy{PerKB: txfees.DefaultPerKB},
	}

	for i := 0; i < cfg.Wallets; i++ {
		w, err := newSimWallet(i, s.rng, s.params)
		if err != nil {
			return nil, err
		}
		s.wallets = append(s.wallets, w)
		s.books = append(s.books, w.book)
	}

	genesis, err := s.genesisBlock()
	if err != nil {
		return nil, err
	}
	idx, err := chain.NewMemIndex(genesis)
	if err != nil {
		return nil, errors.Wrap(err, "building chain index")
	}
	s.idx = idx
	s.snapshots = append(s.snapshots, copyCoins(s.coins))

	syncer, err := wsync.New(wsync.Config{
		Index:          idx,
		Lock:           idx,
		DB:             db,
		Namespace:      wstoreNamespace,
		SecurityDepth:  cfg.SecurityDepth,
		BatchSize:      cfg.BatchSize,
		SlotTimer:      chain.NewSlotTimer(time.Now().UTC().Add(-24*time.Hour), slotLength),
		Broadcast:      s.broadcast,
		ResubmitTicker: ticker.New(resubmitInterval),
	})
	if err != nil {
		return nil, err
	}
	s.syncer = syncer

	for _, w := range s.wallets {
		if err := syncer.RegisterWallet(w.id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// broadcast is the resubmitter's network hook.  The simulation has no
// peers, so announcements are only recorded.
func (s *simulator) broadcast(_ context.Context, tx *wire.MsgTx) error {
	log.Infof("Re-announcing pending transaction %v", tx.TxHash())
	return nil
}

// genesisBlock funds every wallet with one allocation output.  Allocation
// transactions spend nothing, so their undo entries are empty.
func (s *simulator) genesisBlock() (*chain.BlockAndUndo, error) {
	txs := make([]*wire.MsgTx, 0, len(s.wallets))
	for i, w := range s.wallets {
		script, err := txscript.PayToAddrScript(w.receiveAddr())
		if err != nil {
			return nil, errors.Wrapf(err, "allocation script for "+
				"wallet %q", w.id)
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxOut(wire.NewTxOut(int64(initialAllocation), script))
		txs = append(txs, tx)
		s.coins = append(s.coins, simCoin{
			op:    wire.OutPoint{Hash: tx.TxHash(), Index: 0},
			out:   tx.TxOut[0],
			owner: i,
		})
	}
	return chain.NewGenesisBlock(txs), nil
}

// pickCoin returns the index of a random coin big enough to fund a
// payment, change, and fees, or -1 when none can.
func (s *simulator) pickCoin() int {
	eligible := make([]int, 0, len(s.coins))
	for i, c := range s.coins {
		if c.out.Value >= int64(3*minPayment) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return -1
	}
	return eligible[s.rng.Intn(len(eligible))]
}

// pickPayee returns a wallet index other than payer.
func (s *simulator) pickPayee(payer int) int {
	n := s.rng.Intn(len(s.wallets) - 1)
	if n >= payer {
		n++
	}
	return n
}

// paymentTx builds one fee-paying transaction moving a third of a random
// coin to another wallet, with change back to the payer, and settles the
// ledger.  A nil transaction means no coin could fund a payment.
func (s *simulator) paymentTx() (*wire.MsgTx, []chain.SpentOutput, int, error) {
	ci := s.pickCoin()
	if ci < 0 {
		return nil, nil, -1, nil
	}
	coin := s.coins[ci]
	payerIdx := coin.owner
	payeeIdx := s.pickPayee(payerIdx)
	payer := s.wallets[payerIdx]
	payee := s.wallets[payeeIdx]

	amount := coin.out.Value / 3
	payScript, err := txscript.PayToAddrScript(payee.receiveAddr())
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "payment script")
	}
	changeScript, err := txscript.PayToAddrScript(payer.changeAddr())
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "change script")
	}

	build := func(fees txfees.FeeSource) ([]*wire.MsgTx, error) {
		change := coin.out.Value - amount - int64(fees(0))
		if change < int64(minPayment) {
			return nil, errors.Errorf("coin %v cannot fund the "+
				"payment", coin.op)
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&coin.op, nil, nil))
		tx.AddTxOut(wire.NewTxOut(amount, payScript))
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
		return []*wire.MsgTx{tx}, nil
	}
	txs, err := txfees.TwoPass(s.policy, build)
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "pricing payment")
	}
	tx := txs[0]

	s.coins = append(s.coins[:ci], s.coins[ci+1:]...)
	s.addCoins(tx, []int{payeeIdx, payerIdx})

	spent := []chain.SpentOutput{{PrevOut: coin.op, TxOut: coin.out}}
	return tx, spent, payerIdx, nil
}

// addCoins appends a transaction's outputs to the ledger, attributing each
// output to its owner.
func (s *simulator) addCoins(tx *wire.MsgTx, owners []int) {
	h := tx.TxHash()
	for i, out := range tx.TxOut {
		s.coins = append(s.coins, simCoin{
			op:    wire.OutPoint{Hash: h, Index: uint32(i)},
			out:   out,
			owner: owners[i],
		})
	}
}

// mineBlock extends the chain by one block carrying at most one payment
// and snapshots the ledger at the new height.
func (s *simulator) mineBlock(ctx context.Context) (*chain.BlockAndUndo, error) {
	tip, err := s.idx.TipHeader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading chain tip")
	}

	var (
		txs  []*wire.MsgTx
		undo chain.Undo
	)
	tx, spent, _, err := s.paymentTx()
	if err != nil {
		return nil, err
	}
	if tx != nil {
		txs = append(txs, tx)
		undo = append(undo, spent)
	}

	slot := s.maxSlot
	if tip.Slot > slot {
		slot = tip.Slot
	}
	slot += 1 + uint64(s.rng.Intn(3))
	s.maxSlot = slot

	b := chain.NewBlock(tip, slot, txs, undo)
	if err := s.idx.Extend(b); err != nil {
		return nil, errors.Wrap(err, "extending chain")
	}
	s.snapshots = append(s.snapshots, copyCoins(s.coins))
	return b, nil
}

// mine extends the chain by n blocks.
func (s *simulator) mine(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		b, err := s.mineBlock(ctx)
		if err != nil {
			return err
		}
		log.Debugf("Mined block %v at difficulty %d with %d "+
			"transactions", b.Block.Header.Hash,
			b.Block.Header.Difficulty, len(b.Block.Txs))
	}
	tip, err := s.idx.TipHeader(ctx)
	if err != nil {
		return errors.Wrap(err, "reading chain tip")
	}
	log.Infof("Chain extended to difficulty %d (%v)", tip.Difficulty,
		tip.Hash)
	return nil
}

// reorg rewinds the index by the configured fork depth and resets the
// ledger to the surviving prefix.
func (s *simulator) reorg() error {
	depth := uint64(s.cfg.ForkDepth)
	if err := s.idx.Reorg(depth, nil); err != nil {
		return errors.Wrap(err, "reorganizing chain")
	}
	keep := uint64(len(s.snapshots)) - 1 - depth
	s.coins = copyCoins(s.snapshots[keep])
	s.snapshots = s.snapshots[:keep+1]
	return nil
}

// syncAll runs one batch sync and fails the run on any outcome but
// success.
func (s *simulator) syncAll(ctx context.Context, phase string) error {
	log.Infof("Syncing %d wallets (%s)", len(s.books), phase)
	start := time.Now()
	results := s.syncer.SyncWallets(ctx, s.books)
	for _, res := range results {
		if res.Outcome != wsync.Succeeded {
			return errors.Wrapf(res.Err, "wallet %q finished %s "+
				"sync as %v", res.Wallet, phase, res.Outcome)
		}
		log.Debugf("%v", res)
	}
	log.Infof("Sync finished in %v", time.Since(start))
	return nil
}

// report logs every wallet's projected state at its current sync tip.
func (s *simulator) report() error {
	store := s.syncer.Store()
	return s.syncer.View(func(ns walletdb.ReadBucket) error {
		for _, w := range s.wallets {
			tip, err := store.SyncTip(ns, w.id)
			if err != nil {
				return errors.Wrapf(err, "reading sync tip of "+
					"wallet %q", w.id)
			}
			balance, err := store.Balance(ns, w.id)
			if err != nil {
				return errors.Wrapf(err, "reading balance of "+
					"wallet %q", w.id)
			}
			utxo, err := store.Utxo(ns, w.id)
			if err != nil {
				return errors.Wrapf(err, "reading outputs of "+
					"wallet %q", w.id)
			}
			history, err := store.History(ns, w.id)
			if err != nil {
				return errors.Wrapf(err, "reading history of "+
					"wallet %q", w.id)
			}
			pending, err := store.PendingTxs(ns, w.id)
			if err != nil {
				return errors.Wrapf(err, "reading pending txs "+
					"of wallet %q", w.id)
			}
			log.Infof("Wallet %q at %v: balance %v, %d outputs, "+
				"%d history entries, %d pending", w.id, tip,
				balance, len(utxo), len(history), len(pending))
			log.Debugf("Wallet %q history: %v", w.id,
				newLogClosure(func() string {
					return spew.Sdump(history)
				}))
		}
		return nil
	})
}

// mempoolPreview builds one unmined payment, hands it to the resubmitter,
// and logs the speculative modifier the paying wallet would display.
func (s *simulator) mempoolPreview() error {
	tx, spent, payerIdx, err := s.paymentTx()
	if err != nil {
		return err
	}
	if tx == nil {
		log.Infof("No coin left to fund a mempool preview")
		return nil
	}
	payer := s.wallets[payerIdx]

	s.syncer.TrackPending(payer.id, tx)
	m, err := s.syncer.MempoolModifier(payer.book, []*wire.MsgTx{tx},
		[][]chain.SpentOutput{spent})
	if err != nil {
		return errors.Wrap(err, "classifying mempool preview")
	}
	log.Infof("Wallet %q mempool preview of %v: %d history entries, "+
		"%d outputs spent", payer.id, tx.TxHash(),
		m.History.NumInsertions(), m.Utxo.NumDeletions())
	log.Debugf("Wallet %q mempool modifier: %v", payer.id,
		newLogClosure(func() string { return spew.Sdump(m) }))
	return nil
}

// run drives the scenario end to end: catch-up sync over the mined chain,
// a reorg that forces every wallet to roll back, fork-side catch-up, and a
// final mempool preview.
func (s *simulator) run(ctx context.Context) error {
	s.syncer.Start()
	defer s.syncer.Stop()

	log.Infof("Simulating %d wallets on %s", len(s.wallets),
		s.params.Name)
	for _, w := range s.wallets {
		log.Debugf("Wallet %q mnemonic: %s", w.id, w.mnemonic)
	}

	if err := s.mine(ctx, s.cfg.Blocks); err != nil {
		return err
	}
	if err := s.syncAll(ctx, "initial catch-up"); err != nil {
		return err
	}
	if err := s.report(); err != nil {
		return err
	}

	if s.cfg.ForkDepth > 0 {
		log.Infof("Reorganizing %d blocks off the tip", s.cfg.ForkDepth)
		if err := s.reorg(); err != nil {
			return err
		}
		if err := s.syncAll(ctx, "post-reorg rollback"); err != nil {
			return err
		}
		if err := s.report(); err != nil {
			return err
		}

		// Regrow one block past the abandoned branch so the fork
		// side wins on difficulty.
		if err := s.mine(ctx, s.cfg.ForkDepth+1); err != nil {
			return err
		}
		if err := s.syncAll(ctx, "fork-side catch-up"); err != nil {
			return err
		}
		if err := s.report(); err != nil {
			return err
		}
	}

	return s.mempoolPreview()
}
