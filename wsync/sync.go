// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wstore"
	"github.com/walletmirror/walletmirror/wtrack"
)

// Outcome classifies how a sync attempt ended.
type Outcome int

const (
	// Succeeded means the run completed every action derived from the
	// chain tip observed during its locked phase.
	Succeeded Outcome = iota

	// NoTipAvailable means there was nothing to sync: the wallet is not
	// registered, or the chain index holds no blocks.
	NoTipAvailable

	// NotSyncable means the wallet's recorded position cannot be
	// reconciled with the chain index.  RestoreWalletHistory is the way
	// back.
	NotSyncable

	// Failed means a fault interrupted the run.  The wallet's tip is
	// wherever the last commit left it; retrying resumes from there.
	Failed
)

// Map of Outcome values back to their constant names for pretty printing.
var outcomeStrings = map[Outcome]string{
	Succeeded:      "Succeeded",
	NoTipAvailable: "NoTipAvailable",
	NotSyncable:    "NotSyncable",
	Failed:         "Failed",
}

// String returns the Outcome as a human-readable name.
func (o Outcome) String() string {
	if s := outcomeStrings[o]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown Outcome (%d)", int(o))
}

// SyncResult is one wallet's outcome of a sync run.  Err carries the
// underlying fault for every outcome but Succeeded.
type SyncResult struct {
	Wallet  wmod.WalletID
	Outcome Outcome
	Err     error
}

func (r SyncResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("wallet %q: %v (%v)", r.Wallet, r.Outcome,
			r.Err)
	}
	return fmt.Sprintf("wallet %q: %v", r.Wallet, r.Outcome)
}

// resultFor converts a sync error into the wallet's structured result.
func resultFor(id wmod.WalletID, err error) SyncResult {
	switch {
	case err == nil:
		return SyncResult{Wallet: id, Outcome: Succeeded}

	case IsError(err, ErrNotRegistered) || errors.Is(err, chain.ErrNoTip):
		return SyncResult{Wallet: id, Outcome: NoTipAvailable, Err: err}

	case IsError(err, ErrUnresolvable):
		return SyncResult{Wallet: id, Outcome: NotSyncable, Err: err}

	default:
		return SyncResult{Wallet: id, Outcome: Failed, Err: err}
	}
}

// actionKind enumerates the ways a locked finalize can move a wallet.
type actionKind int

const (
	actionNoop actionKind = iota
	actionForward
	actionBackward
)

// action is the decision of one finalize round.  It is derived purely from
// the two tip values, so an interrupted run re-derives the same decision
// when it resumes.
type action struct {
	kind actionKind
	from wstore.TipStamp
	to   wstore.TipStamp
}

func (a action) String() string {
	switch a.kind {
	case actionForward:
		return fmt.Sprintf("forward from %v to %v", a.from, a.to)
	case actionBackward:
		return fmt.Sprintf("backward from %v to %v", a.from, a.to)
	default:
		return fmt.Sprintf("noop at %v", a.from)
	}
}

// decideAction compares the wallet tip against the pinned chain tip.
// Difficulty alone decides the direction; a wallet resting on a fork block
// at the exact tip difficulty is left alone until the chain outgrows it.
func decideAction(tip wstore.TipStamp, fresh chain.Header) action {
	to := wstore.TipStamp{Hash: fresh.Hash, Difficulty: fresh.Difficulty}
	switch {
	case fresh.Difficulty > tip.Difficulty:
		return action{kind: actionForward, from: tip, to: to}
	case fresh.Difficulty < tip.Difficulty:
		return action{kind: actionBackward, from: tip, to: to}
	default:
		return action{kind: actionNoop, from: tip, to: to}
	}
}

// Sync brings one wallet's projection to the chain tip and reports the
// outcome.  Faults are returned inside the result, never panicked or
// half-committed: every batch of folded blocks commits atomically, and a
// rerun resumes from the last committed tip.
func (s *Syncer) Sync(ctx context.Context, book wtrack.AddrBook) SyncResult {
	id := book.WalletID()
	l := s.walletLock(id)
	l.Lock()
	defer l.Unlock()

	res := resultFor(id, s.sync(ctx, book))
	if res.Err != nil {
		log.Debugf("Sync finished: %v", res)
	}
	return res
}

// sync is the driver state machine for one wallet.  A nil return means the
// wallet ended the run exactly at the chain tip pinned by its locked phase.
func (s *Syncer) sync(ctx context.Context, book wtrack.AddrBook) error {
	id := book.WalletID()

	// Resolve the wallet's starting point.  A registered wallet without
	// a tip has never synced and starts from the genesis allocation.
	var (
		tip    wstore.TipStamp
		seeded bool
	)
	err := s.View(func(ns walletdb.ReadBucket) error {
		var err error
		tip, err = s.store.SyncTip(ns, id)
		if err == nil {
			seeded = true
			return nil
		}
		if wstore.IsError(err, wstore.ErrNoSyncTip) {
			return nil
		}
		return err
	})
	if err != nil {
		if wstore.IsError(err, wstore.ErrWalletNotFound) {
			return syncError(ErrNotRegistered, fmt.Sprintf(
				"wallet %q is not registered", id), err)
		}
		return syncError(ErrTransient, fmt.Sprintf(
			"reading sync tip of wallet %q", id), err)
	}

	if _, err := s.cfg.Index.TipHeader(ctx); err != nil {
		return errors.Wrap(err, "reading chain tip")
	}

	counter := s.newMarkerCounter(id)
	res := s.resolvers(counter)

	if !seeded {
		tip, err = s.seedGenesis(ctx, book, res, counter)
		if err != nil {
			return err
		}
	} else {
		// The recorded tip must still resolve against the index, or
		// nothing can be decided from it.
		if _, err := s.headers.Header(ctx, tip.Hash); err != nil {
			if errors.Is(err, chain.ErrHeaderNotFound) {
				return syncError(ErrUnresolvable, fmt.Sprintf(
					"wallet %q tip %v cannot be resolved",
					id, tip), err)
			}
			return syncError(ErrTransient, fmt.Sprintf(
				"resolving wallet %q tip %v", id, tip), err)
		}
	}

	tip, err = s.fastForward(ctx, book, res, counter, tip)
	if err != nil {
		return err
	}

	return s.finalize(ctx, book, res, counter, tip)
}

// seedGenesis folds the genesis allocation into a fresh projection and
// records the genesis block as the wallet's first tip.
func (s *Syncer) seedGenesis(ctx context.Context, book wtrack.AddrBook,
	res *wtrack.Resolvers, counter *markerCounter) (wstore.TipStamp,
	error) {

	id := book.WalletID()
	gen, err := s.cfg.Index.GenesisBlock(ctx)
	if err != nil {
		return wstore.TipStamp{}, errors.Wrap(err,
			"loading genesis block")
	}
	txs, err := blockTriples(gen)
	if err != nil {
		return wstore.TipStamp{}, syncError(ErrTransient,
			"pairing genesis transactions with undo data", err)
	}
	m, err := wtrack.Apply(book, res, txs)
	if err != nil {
		return wstore.TipStamp{}, syncError(ErrTransient, fmt.Sprintf(
			"classifying genesis allocation for wallet %q", id),
			err)
	}
	counter.noteApplied(m)
	if err := counter.fault(); err != nil {
		return wstore.TipStamp{}, syncError(ErrTransient, fmt.Sprintf(
			"counting used markers for wallet %q", id), err)
	}

	hdr := gen.Block.Header
	newTip := wstore.TipStamp{Hash: hdr.Hash, Difficulty: hdr.Difficulty}
	if err := s.commitApply(id, nil, newTip, m); err != nil {
		return wstore.TipStamp{}, err
	}
	log.Infof("Wallet %q seeded from the genesis allocation with %d "+
		"addresses", id, m.Addrs.NumInsertions())
	return newTip, nil
}

// fastForward advances the wallet through final blocks, those more than
// SecurityDepth below the chain tip, without holding the chain lock.  The
// tip is re-read between batches since the chain may advance meanwhile.  A
// missing forward link ends the walk quietly; the locked finalize
// re-decides from whatever tip was reached.
func (s *Syncer) fastForward(ctx context.Context, book wtrack.AddrBook,
	res *wtrack.Resolvers, counter *markerCounter,
	tip wstore.TipStamp) (wstore.TipStamp, error) {

	id := book.WalletID()
	for {
		chainTip, err := s.cfg.Index.TipHeader(ctx)
		if err != nil {
			return tip, errors.Wrap(err, "reading chain tip")
		}
		if chainTip.Difficulty <= tip.Difficulty ||
			chainTip.Difficulty-tip.Difficulty <= s.cfg.SecurityDepth {

			return tip, nil
		}
		target := chainTip.Difficulty - s.cfg.SecurityDepth

		batch := &wmod.AccModifier{}
		oldTip := tip
		cur := tip
		stalled := false
		for n := 0; n < s.cfg.BatchSize && cur.Difficulty < target; n++ {
			next, err := s.cfg.Index.ForwardLink(ctx, cur.Hash)
			if err != nil {
				if errors.Is(err, chain.ErrNoForwardLink) {
					stalled = true
					break
				}
				return tip, syncError(ErrTransient,
					fmt.Sprintf("resolving forward link "+
						"of %v", cur.Hash), err)
			}
			m, hdr, err := s.applyOne(ctx, book, res, counter, next)
			if err != nil {
				return tip, err
			}
			batch.Merge(m)
			cur = wstore.TipStamp{
				Hash:       hdr.Hash,
				Difficulty: hdr.Difficulty,
			}
		}

		if cur != oldTip {
			if err := counter.fault(); err != nil {
				return tip, syncError(ErrTransient,
					fmt.Sprintf("counting used markers "+
						"for wallet %q", id), err)
			}
			if err := s.commitApply(id, &oldTip, cur,
				batch); err != nil {

				return tip, err
			}
			tip = cur
			log.Debugf("Wallet %q fast-forwarded to %v", id, tip)
		}
		if stalled {
			return tip, nil
		}
	}
}

// applyOne loads a block, classifies it for the wallet, and layers its
// markers into the counter.  The returned modifier has not been committed.
func (s *Syncer) applyOne(ctx context.Context, book wtrack.AddrBook,
	res *wtrack.Resolvers, counter *markerCounter,
	hash chainhash.Hash) (*wmod.AccModifier, chain.Header, error) {

	bu, err := s.cfg.Index.BlockWithUndo(ctx, hash)
	if err != nil {
		return nil, chain.Header{}, syncError(ErrTransient,
			fmt.Sprintf("loading block %v", hash), err)
	}
	txs, err := blockTriples(bu)
	if err != nil {
		return nil, chain.Header{}, syncError(ErrTransient,
			fmt.Sprintf("pairing block %v with undo data", hash),
			err)
	}
	m, err := wtrack.Apply(book, res, txs)
	if err != nil {
		return nil, chain.Header{}, syncError(ErrTransient,
			fmt.Sprintf("classifying block %v for wallet %q",
				hash, book.WalletID()), err)
	}
	counter.noteApplied(m)
	return m, bu.Block.Header, nil
}

// finalize finishes the run under the chain lock.  The tip re-read while
// holding it cannot move, so the remaining distance is exact and the
// decision derived from it stays valid until the lock is released.  Faults
// inside the section propagate only after the lock is gone.
func (s *Syncer) finalize(ctx context.Context, book wtrack.AddrBook,
	res *wtrack.Resolvers, counter *markerCounter,
	tip wstore.TipStamp) error {

	id := book.WalletID()
	return s.cfg.Lock.WithExclusive(ctx, chain.LowPriority,
		func(fresh chain.Header) error {
			act := decideAction(tip, fresh)
			log.Debugf("Wallet %q finalize: %v", id, act)

			switch act.kind {
			case actionForward:
				return s.forwardWalk(ctx, book, res, counter,
					tip, fresh)

			case actionBackward:
				return s.backwardWalk(ctx, book, tip, fresh)

			default:
				if tip.Hash != fresh.Hash {
					log.Warnf("Wallet %q rests on fork "+
						"block %v at the tip "+
						"difficulty %d", id, tip.Hash,
						fresh.Difficulty)
				}
				return nil
			}
		})
}

// forwardWalk applies main-chain successors from the wallet tip until the
// pinned fresh tip, committing batches along the way.  A missing forward
// link here is terminal: the wallet tip sits on an abandoned fork with no
// path to the main chain.
func (s *Syncer) forwardWalk(ctx context.Context, book wtrack.AddrBook,
	res *wtrack.Resolvers, counter *markerCounter, tip wstore.TipStamp,
	fresh chain.Header) error {

	id := book.WalletID()
	for tip.Difficulty < fresh.Difficulty {
		batch := &wmod.AccModifier{}
		oldTip := tip
		cur := tip
		for n := 0; n < s.cfg.BatchSize &&
			cur.Difficulty < fresh.Difficulty; n++ {

			next, err := s.cfg.Index.ForwardLink(ctx, cur.Hash)
			if err != nil {
				if errors.Is(err, chain.ErrNoForwardLink) {
					return syncError(ErrUnresolvable,
						fmt.Sprintf("wallet %q tip "+
							"%v has no path to "+
							"chain tip %v", id,
							cur.Hash, fresh.Hash),
						err)
				}
				return syncError(ErrTransient, fmt.Sprintf(
					"resolving forward link of %v",
					cur.Hash), err)
			}
			m, hdr, err := s.applyOne(ctx, book, res, counter, next)
			if err != nil {
				return err
			}
			batch.Merge(m)
			cur = wstore.TipStamp{
				Hash:       hdr.Hash,
				Difficulty: hdr.Difficulty,
			}
		}

		if err := counter.fault(); err != nil {
			return syncError(ErrTransient, fmt.Sprintf(
				"counting used markers for wallet %q", id),
				err)
		}
		if err := s.commitApply(id, &oldTip, cur, batch); err != nil {
			return err
		}
		tip = cur
	}

	if tip.Hash != fresh.Hash {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"forward walk for wallet %q ended on %v, not the "+
				"chain tip %v", id, tip.Hash, fresh.Hash), nil)
	}
	return nil
}

// backwardWalk repairs a wallet left ahead of the chain by an interrupted
// rollback: every block from the wallet tip down to the fresh tip is
// rolled back as one segment in a single commit.
func (s *Syncer) backwardWalk(ctx context.Context, book wtrack.AddrBook,
	tip wstore.TipStamp, fresh chain.Header) error {

	id := book.WalletID()
	blocks, err := s.cfg.Index.BlocksWhile(ctx, tip.Hash,
		func(h chain.Header) bool {
			return h.Difficulty > fresh.Difficulty
		})
	if err != nil {
		if errors.Is(err, chain.ErrBlockNotFound) {
			return syncError(ErrUnresolvable, fmt.Sprintf(
				"wallet %q segment above %v cannot be loaded",
				id, fresh.Hash), err)
		}
		return syncError(ErrTransient, fmt.Sprintf(
			"loading rollback segment for wallet %q", id), err)
	}
	if len(blocks) == 0 {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q tip %v yields an empty rollback segment",
			id, tip), nil)
	}
	oldest := blocks[len(blocks)-1].Block.Header
	if oldest.Prev != fresh.Hash {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q chain at %v does not descend from chain "+
				"tip %v", id, tip.Hash, fresh.Hash), nil)
	}

	txs, err := reverseTriples(blocks)
	if err != nil {
		return syncError(ErrTransient,
			"pairing rollback segment with undo data", err)
	}
	counter := s.newMarkerCounter(id)
	res := s.resolvers(counter)
	m, err := wtrack.Rollback(book, res, txs)
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"classifying rollback segment for wallet %q", id), err)
	}
	if err := counter.fault(); err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"counting used markers for wallet %q", id), err)
	}

	newTip := wstore.TipStamp{Hash: fresh.Hash, Difficulty: fresh.Difficulty}
	if err := s.commitRollback(id, &tip, newTip, m); err != nil {
		return err
	}
	log.Infof("Wallet %q rolled back %d blocks to %v", id, len(blocks),
		newTip)
	return nil
}

// commitApply persists an apply modifier, advances the wallet tip, and
// notifies the resubmitter of candidates the committed blocks confirmed.
func (s *Syncer) commitApply(id wmod.WalletID, oldTip *wstore.TipStamp,
	newTip wstore.TipStamp, m *wmod.AccModifier) error {

	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		return s.store.CommitApply(ns, id, oldTip, newTip, m)
	})
	if err != nil {
		if wstore.IsError(err, wstore.ErrWalletNotFound) {
			return syncError(ErrNotRegistered, fmt.Sprintf(
				"wallet %q is not registered", id), err)
		}
		return syncError(ErrTransient, fmt.Sprintf(
			"committing wallet %q at %v", id, newTip), err)
	}

	if s.resubmit != nil {
		var confirmed []chainhash.Hash
		for _, p := range m.Pending.Insertions() {
			confirmed = append(confirmed, p.Key)
		}
		s.resubmit.confirmed(id, confirmed)
	}
	return nil
}

// commitRollback persists a rollback modifier, rewinds the wallet tip, and
// wakes the resubmitter for candidates whose confirmations were undone.
func (s *Syncer) commitRollback(id wmod.WalletID, oldTip *wstore.TipStamp,
	newTip wstore.TipStamp, m *wmod.AccModifier) error {

	var reverted []chainhash.Hash
	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		var err error
		reverted, err = s.store.CommitRollback(ns, id, oldTip, newTip,
			m)
		return err
	})
	if err != nil {
		if wstore.IsError(err, wstore.ErrWalletNotFound) {
			return syncError(ErrNotRegistered, fmt.Sprintf(
				"wallet %q is not registered", id), err)
		}
		return syncError(ErrTransient, fmt.Sprintf(
			"rewinding wallet %q to %v", id, newTip), err)
	}

	if len(reverted) > 0 {
		log.Infof("Wallet %q: %d transaction(s) lost their "+
			"confirmation", id, len(reverted))
		if s.resubmit != nil {
			s.resubmit.reverted(id, reverted)
		}
	}
	return nil
}

// SyncWallets advances every wallet, at most MaxParallel at a time.  Each
// wallet gets its own result in input order; one wallet's fault never
// aborts its siblings.
func (s *Syncer) SyncWallets(ctx context.Context,
	books []wtrack.AddrBook) []SyncResult {

	results := make([]SyncResult, len(books))
	var eg errgroup.Group
	eg.SetLimit(s.cfg.MaxParallel)
	for i, book := range books {
		eg.Go(func() error {
			results[i] = s.syncSafe(ctx, book)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// syncSafe is Sync with a panic boundary so one misbehaving classifier
// cannot take down a whole batch.
func (s *Syncer) syncSafe(ctx context.Context,
	book wtrack.AddrBook) (res SyncResult) {

	id := book.WalletID()
	defer func() {
		if r := recover(); r != nil {
			log.Criticalf("Panic while syncing wallet %q: %v\n%s",
				id, r, debug.Stack())
			res = SyncResult{
				Wallet:  id,
				Outcome: Failed,
				Err: syncError(ErrTransient, fmt.Sprintf(
					"panic while syncing wallet %q: %v",
					id, r), nil),
			}
		}
	}()
	return s.Sync(ctx, book)
}

// RestoreWalletHistory rebuilds a wallet's projection from scratch: the
// stored components are wiped and the wallet syncs again from the genesis
// allocation.  The wallet stays registered throughout, and its pending
// resubmission candidates are dropped since the rebuilt history decides
// their fate anew.
func (s *Syncer) RestoreWalletHistory(ctx context.Context,
	book wtrack.AddrBook) SyncResult {

	id := book.WalletID()
	l := s.walletLock(id)
	l.Lock()
	defer l.Unlock()

	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		return s.store.WipeWallet(ns, id)
	})
	if err != nil {
		if wstore.IsError(err, wstore.ErrWalletNotFound) {
			return resultFor(id, syncError(ErrNotRegistered,
				fmt.Sprintf("wallet %q is not registered", id),
				err))
		}
		return resultFor(id, syncError(ErrTransient, fmt.Sprintf(
			"wiping wallet %q", id), err))
	}
	if s.resubmit != nil {
		s.resubmit.forget(id)
	}
	log.Infof("Wallet %q wiped for restore", id)

	return resultFor(id, s.sync(ctx, book))
}

// ApplyBlock folds one attached block into the wallet's projection.  The
// wallet must already stand on the block's parent; anything else means the
// caller's event stream and the wallet disagree, and a full Sync is needed
// instead.  The caller is expected to hold chain exclusivity, as the block
// application path does.
func (s *Syncer) ApplyBlock(book wtrack.AddrBook,
	bu *chain.BlockAndUndo) error {

	id := book.WalletID()
	l := s.walletLock(id)
	l.Lock()
	defer l.Unlock()

	tip, err := s.syncTip(id)
	if err != nil {
		return err
	}
	hdr := bu.Block.Header
	if tip.Hash != hdr.Prev {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q tip %v is not the parent of block %v", id,
			tip.Hash, hdr.Hash), nil)
	}

	txs, err := blockTriples(bu)
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"pairing block %v with undo data", hdr.Hash), err)
	}
	counter := s.newMarkerCounter(id)
	m, err := wtrack.Apply(book, s.resolvers(counter), txs)
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"classifying block %v for wallet %q", hdr.Hash, id),
			err)
	}
	if err := counter.fault(); err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"counting used markers for wallet %q", id), err)
	}

	newTip := wstore.TipStamp{Hash: hdr.Hash, Difficulty: hdr.Difficulty}
	return s.commitApply(id, &tip, newTip, m)
}

// RollbackBlock undoes one detached block.  The wallet must stand exactly
// on the block being detached; the genesis block cannot be rolled back.
func (s *Syncer) RollbackBlock(book wtrack.AddrBook,
	bu *chain.BlockAndUndo) error {

	id := book.WalletID()
	l := s.walletLock(id)
	l.Lock()
	defer l.Unlock()

	hdr := bu.Block.Header
	if hdr.IsGenesis() {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q cannot roll back the genesis block %v", id,
			hdr.Hash), nil)
	}

	tip, err := s.syncTip(id)
	if err != nil {
		return err
	}
	if tip.Hash != hdr.Hash {
		return syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q tip %v does not match detached block %v",
			id, tip.Hash, hdr.Hash), nil)
	}

	txs, err := reverseTriples([]*chain.BlockAndUndo{bu})
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"pairing block %v with undo data", hdr.Hash), err)
	}
	counter := s.newMarkerCounter(id)
	m, err := wtrack.Rollback(book, s.resolvers(counter), txs)
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"classifying block %v rollback for wallet %q",
			hdr.Hash, id), err)
	}
	if err := counter.fault(); err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"counting used markers for wallet %q", id), err)
	}

	newTip := wstore.TipStamp{Hash: hdr.Prev, Difficulty: hdr.Difficulty - 1}
	return s.commitRollback(id, &tip, newTip, m)
}

// syncTip reads the wallet's recorded tip, mapping store failures onto the
// sync taxonomy.
func (s *Syncer) syncTip(id wmod.WalletID) (wstore.TipStamp, error) {
	var tip wstore.TipStamp
	err := s.View(func(ns walletdb.ReadBucket) error {
		var err error
		tip, err = s.store.SyncTip(ns, id)
		return err
	})
	switch {
	case err == nil:
		return tip, nil

	case wstore.IsError(err, wstore.ErrWalletNotFound):
		return tip, syncError(ErrNotRegistered, fmt.Sprintf(
			"wallet %q is not registered", id), err)

	case wstore.IsError(err, wstore.ErrNoSyncTip):
		return tip, syncError(ErrUnresolvable, fmt.Sprintf(
			"wallet %q has no sync tip, run a full sync first",
			id), err)

	default:
		return tip, syncError(ErrTransient, fmt.Sprintf(
			"reading sync tip of wallet %q", id), err)
	}
}

// blockTriples pairs a block's transactions with their undo data for the
// tracking fold.
func blockTriples(bu *chain.BlockAndUndo) ([]wtrack.BlockTx, error) {
	if len(bu.Undo) != len(bu.Block.Txs) {
		return nil, errors.Errorf("undo covers %d txs, block %v has "+
			"%d", len(bu.Undo), bu.Block.Header.Hash,
			len(bu.Block.Txs))
	}
	txs := make([]wtrack.BlockTx, len(bu.Block.Txs))
	for i, tx := range bu.Block.Txs {
		txs[i] = wtrack.BlockTx{
			Tx:     tx,
			Undo:   bu.Undo[i],
			Header: bu.Block.Header,
		}
	}
	return txs, nil
}

// reverseTriples flattens blocks into rollback order: blocks newest first,
// transactions within each block reversed.
func reverseTriples(blocks []*chain.BlockAndUndo) ([]wtrack.BlockTx, error) {
	var txs []wtrack.BlockTx
	for _, bu := range blocks {
		if len(bu.Undo) != len(bu.Block.Txs) {
			return nil, errors.Errorf("undo covers %d txs, block "+
				"%v has %d", len(bu.Undo),
				bu.Block.Header.Hash, len(bu.Block.Txs))
		}
		for i := len(bu.Block.Txs) - 1; i >= 0; i-- {
			txs = append(txs, wtrack.BlockTx{
				Tx:     bu.Block.Txs[i],
				Undo:   bu.Undo[i],
				Header: bu.Block.Header,
			})
		}
	}
	return txs, nil
}
