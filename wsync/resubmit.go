// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/walletmirror/walletmirror/wmod"
)

const (
	// resubmitBackoffBase spaces consecutive re-announcements of one
	// candidate.  Every attempt doubles the delay up to
	// resubmitBackoffMax; a lost confirmation resets it.
	resubmitBackoffBase = 30 * time.Second
	resubmitBackoffMax  = 30 * time.Minute
)

// candidateState tracks where a submitted transaction stands.
type candidateState int

const (
	// statePending means no block currently confirms the transaction,
	// so it is eligible for re-announcement.
	statePending candidateState = iota

	// stateConfirmed means an applied block confirmed the transaction.
	// The candidate is kept so a rollback can revive it.
	stateConfirmed
)

// candidate is one wallet transaction awaiting a stable confirmation.
type candidate struct {
	tx          *wire.MsgTx
	state       candidateState
	attempts    int
	nextAttempt time.Time
}

// dueTx is one re-announcement picked up by a resubmission round.
type dueTx struct {
	wallet  wmod.WalletID
	txid    chainhash.Hash
	tx      *wire.MsgTx
	attempt int
}

// resubmitter re-announces submitted wallet transactions until a block
// confirms them, and starts over when a rollback takes a confirmation
// away.  The registry lives in memory; the durable record of confirmed
// candidates is the store's candidate log.
type resubmitter struct {
	broadcast func(context.Context, *wire.MsgTx) error
	tick      ticker.Ticker
	clock     clock.Clock

	mtx        sync.Mutex
	candidates map[wmod.WalletID]map[chainhash.Hash]*candidate
}

func newResubmitter(broadcast func(context.Context, *wire.MsgTx) error,
	tick ticker.Ticker, clock clock.Clock) *resubmitter {

	return &resubmitter{
		broadcast:  broadcast,
		tick:       tick,
		clock:      clock,
		candidates: make(map[wmod.WalletID]map[chainhash.Hash]*candidate),
	}
}

// track registers a transaction for re-announcement.  A zero nextAttempt
// makes it due on the very next round.  Tracking an already-known txid
// leaves its state and backoff alone.
func (r *resubmitter) track(id wmod.WalletID, tx *wire.MsgTx) {
	txid := tx.TxHash()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	wallet, ok := r.candidates[id]
	if !ok {
		wallet = make(map[chainhash.Hash]*candidate)
		r.candidates[id] = wallet
	}
	if _, ok := wallet[txid]; ok {
		return
	}
	wallet[txid] = &candidate{tx: tx, state: statePending}
	log.Debugf("Tracking %v for wallet %q", txid, id)
}

// confirmed marks candidates as confirmed by an applied block, taking them
// out of the re-announcement rotation.
func (r *resubmitter) confirmed(id wmod.WalletID, txids []chainhash.Hash) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	wallet := r.candidates[id]
	for _, txid := range txids {
		c, ok := wallet[txid]
		if !ok {
			continue
		}
		c.state = stateConfirmed
		log.Debugf("Candidate %v for wallet %q confirmed", txid, id)
	}
}

// reverted revives candidates whose confirming blocks were rolled back.
// Their submission timers reset, so the next round re-announces them
// immediately.
func (r *resubmitter) reverted(id wmod.WalletID, txids []chainhash.Hash) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	wallet := r.candidates[id]
	for _, txid := range txids {
		c, ok := wallet[txid]
		if !ok {
			log.Debugf("Reverted %v for wallet %q is not tracked",
				txid, id)
			continue
		}
		c.state = statePending
		c.attempts = 0
		c.nextAttempt = time.Time{}
		log.Infof("Candidate %v for wallet %q lost its confirmation, "+
			"resubmission timer reset", txid, id)
	}
}

// forget drops every candidate of one wallet.
func (r *resubmitter) forget(id wmod.WalletID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	delete(r.candidates, id)
}

// collectDue gathers pending candidates whose time has come and schedules
// their next attempt.  Rescheduling happens here, before the broadcast, so
// a slow or failing broadcast cannot turn the loop hot.
func (r *resubmitter) collectDue(now time.Time) []dueTx {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var due []dueTx
	for id, wallet := range r.candidates {
		for txid, c := range wallet {
			if c.state != statePending || c.nextAttempt.After(now) {
				continue
			}
			c.attempts++
			c.nextAttempt = now.Add(resubmitBackoff(c.attempts))
			due = append(due, dueTx{
				wallet:  id,
				txid:    txid,
				tx:      c.tx,
				attempt: c.attempts,
			})
		}
	}
	return due
}

// resubmitBackoff doubles the delay per attempt up to the cap.
func resubmitBackoff(attempts int) time.Duration {
	d := resubmitBackoffBase
	for i := 1; i < attempts && d < resubmitBackoffMax; i++ {
		d *= 2
	}
	if d > resubmitBackoffMax {
		d = resubmitBackoffMax
	}
	return d
}

// run drives resubmission rounds off the ticker until quit closes.
func (r *resubmitter) run(quit chan struct{}) {
	r.tick.Resume()
	defer r.tick.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-r.tick.Ticks():
			r.resubmitDue(ctx)

		case <-quit:
			return
		}
	}
}

// resubmitDue re-announces every candidate picked up for this round.
func (r *resubmitter) resubmitDue(ctx context.Context) {
	due := r.collectDue(r.clock.Now())
	for _, d := range due {
		if err := r.broadcast(ctx, d.tx); err != nil {
			log.Warnf("Resubmitting %v for wallet %q failed: %v",
				d.txid, d.wallet, err)
			continue
		}
		log.Debugf("Resubmitted %v for wallet %q (attempt %d)",
			d.txid, d.wallet, d.attempt)
	}
}

// TrackPending registers a wallet transaction for periodic re-announcement
// until a block confirms it.  Rollbacks revive tracked candidates with
// their timers reset.  Without a configured resubmitter this is a no-op.
func (s *Syncer) TrackPending(id wmod.WalletID, tx *wire.MsgTx) {
	if s.resubmit == nil {
		return
	}
	s.resubmit.track(id, tx)
}
