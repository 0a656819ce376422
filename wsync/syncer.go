// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wstore"
	"github.com/walletmirror/walletmirror/wtrack"
)

const (
	// DefaultSecurityDepth is the number of blocks below the chain tip
	// beyond which the consensus layer cannot roll back.  Blocks this
	// deep are final and may be applied without holding the chain lock.
	DefaultSecurityDepth = 2160

	// DefaultBatchSize bounds how many blocks a sync folds into a single
	// database commit.
	DefaultBatchSize = 500

	// DefaultHeaderCacheSize bounds the header memoization cache shared
	// by all wallet syncs.
	DefaultHeaderCacheSize = 8192

	// DefaultMaxParallel bounds how many wallets SyncWallets advances
	// concurrently.
	DefaultMaxParallel = 4
)

// Config bundles the collaborators and tuning knobs of a Syncer.  Index,
// Lock, DB, and Namespace are required; zero values elsewhere fall back to
// the defaults above.
type Config struct {
	// Index is the authoritative chain.
	Index chain.Index

	// Lock pins the chain tip while a sync finishes the final blocks.
	Lock chain.Lock

	// DB is the wallet database.  The projection store is created inside
	// it on first use.
	DB walletdb.DB

	// Namespace is the top-level bucket the projection store lives
	// under.
	Namespace []byte

	// SecurityDepth overrides DefaultSecurityDepth.
	SecurityDepth uint64

	// BatchSize overrides DefaultBatchSize.
	BatchSize int

	// HeaderCacheSize overrides DefaultHeaderCacheSize.
	HeaderCacheSize uint64

	// MaxParallel overrides DefaultMaxParallel.
	MaxParallel int

	// Clock supplies wall-clock time, used to stamp unconfirmed
	// transactions and to pace resubmission backoff.  Defaults to the
	// system clock.
	Clock clock.Clock

	// SlotTimer translates block slots into history timestamps.  When
	// nil, mined history entries carry no timestamp.
	SlotTimer *chain.SlotTimer

	// Broadcast re-announces a wallet transaction to the network.  The
	// resubmitter is disabled when nil.
	Broadcast func(context.Context, *wire.MsgTx) error

	// ResubmitTicker paces resubmission rounds.  The resubmitter is
	// disabled when nil.
	ResubmitTicker ticker.Ticker
}

// Syncer drives wallet projections toward the chain tip.  All tip-moving
// operations for one wallet serialize on a per-wallet mutex; distinct
// wallets proceed independently.
type Syncer struct {
	started sync.Once
	stopped sync.Once

	cfg     Config
	store   *wstore.Store
	headers *chain.HeaderCache

	mtx   sync.Mutex
	locks map[wmod.WalletID]*sync.Mutex

	resubmit *resubmitter

	wg   sync.WaitGroup
	quit chan struct{}
}

// New validates the config, opens the projection store inside the wallet
// database, creating it on first use, and returns a Syncer ready to sync.
// Call Start to launch the resubmission loop when one is configured.
func New(cfg Config) (*Syncer, error) {
	if cfg.Index == nil {
		return nil, errors.New("nil chain index")
	}
	if cfg.Lock == nil {
		return nil, errors.New("nil chain lock")
	}
	if cfg.DB == nil {
		return nil, errors.New("nil wallet database")
	}
	if len(cfg.Namespace) == 0 {
		return nil, errors.New("empty store namespace")
	}
	if cfg.SecurityDepth == 0 {
		cfg.SecurityDepth = DefaultSecurityDepth
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HeaderCacheSize == 0 {
		cfg.HeaderCacheSize = DefaultHeaderCacheSize
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	var store *wstore.Store
	err := walletdb.Update(cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(cfg.Namespace)
		if err != nil {
			return err
		}
		if !wstore.Exists(ns) {
			if err := wstore.Create(ns); err != nil {
				return err
			}
		}
		store, err = wstore.Open(ns)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening projection store")
	}

	s := &Syncer{
		cfg:     cfg,
		store:   store,
		headers: chain.NewHeaderCache(cfg.HeaderCacheSize, cfg.Index),
		locks:   make(map[wmod.WalletID]*sync.Mutex),
		quit:    make(chan struct{}),
	}
	if cfg.Broadcast != nil && cfg.ResubmitTicker != nil {
		s.resubmit = newResubmitter(cfg.Broadcast, cfg.ResubmitTicker,
			cfg.Clock)
	}
	return s, nil
}

// Start launches the background resubmission loop when one is configured.
func (s *Syncer) Start() {
	s.started.Do(func() {
		if s.resubmit == nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resubmit.run(s.quit)
		}()
	})
}

// Stop shuts down the background loop and waits for it to exit.
func (s *Syncer) Stop() {
	s.stopped.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}

// Store exposes the projection store for read paths.  Readers share the
// Syncer's database and namespace through View.
func (s *Syncer) Store() *wstore.Store {
	return s.store
}

// View runs fn against the store namespace in a read transaction.
func (s *Syncer) View(fn func(walletdb.ReadBucket) error) error {
	return walletdb.View(s.cfg.DB, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(s.cfg.Namespace)
		if ns == nil {
			return errors.New("store namespace is missing")
		}
		return fn(ns)
	})
}

// update runs fn against the store namespace in a write transaction.
func (s *Syncer) update(fn func(walletdb.ReadWriteBucket) error) error {
	return walletdb.Update(s.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(s.cfg.Namespace)
		if ns == nil {
			return errors.New("store namespace is missing")
		}
		return fn(ns)
	})
}

// RegisterWallet creates the wallet's projection if it does not exist yet.
// A wallet must be registered before it can sync; registration is
// idempotent.
func (s *Syncer) RegisterWallet(id wmod.WalletID) error {
	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		return s.store.RegisterWallet(ns, id)
	})
	if err != nil {
		return syncError(ErrTransient, fmt.Sprintf(
			"registering wallet %q", id), err)
	}
	return nil
}

// walletLock returns the serialization mutex for one wallet, creating it on
// first use.  Holding it for the duration of a tip-moving operation keeps
// syncs, block hooks, and restores of the same wallet from interleaving.
func (s *Syncer) walletLock(id wmod.WalletID) *sync.Mutex {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = new(sync.Mutex)
		s.locks[id] = l
	}
	return l
}

// markerCounter answers used-marker queries for one run of the tracking
// fold.  The store count for an address is pinned the first time the
// address is touched, before any of the run's own markers reach the store;
// markers from blocks the run has already folded are layered on top, so
// later blocks observe earlier blocks' payments whether or not an
// intermediate batch has committed yet.
type markerCounter struct {
	syncer *Syncer
	id     wmod.WalletID

	base  map[wmod.AddrKey]int
	extra map[wmod.AddrKey]int
	seen  map[wmod.AddrMark]struct{}
	err   error
}

func (s *Syncer) newMarkerCounter(id wmod.WalletID) *markerCounter {
	return &markerCounter{
		syncer: s,
		id:     id,
		base:   make(map[wmod.AddrKey]int),
		extra:  make(map[wmod.AddrKey]int),
		seen:   make(map[wmod.AddrMark]struct{}),
	}
}

// count returns the marker count in effect for the address: the pinned
// store baseline plus the run's own markers.  Lookup failures are latched
// in err for the caller to surface; the fold itself only sees a zero.
func (c *markerCounter) count(addr wmod.AddrKey) int {
	if c.err != nil {
		return 0
	}
	n, ok := c.base[addr]
	if !ok {
		err := c.syncer.View(func(ns walletdb.ReadBucket) error {
			var err error
			n, err = c.syncer.store.UsedMarkers(ns, c.id, addr)
			return err
		})
		if err != nil {
			c.err = err
			return 0
		}
		c.base[addr] = n
	}
	return n + c.extra[addr]
}

// noteApplied layers a folded modifier's used markers into the counter.
// It must run before the modifier commits: pinning the baseline first
// keeps a commit from counting the same marker in both the store and the
// extra layer.
func (c *markerCounter) noteApplied(m *wmod.AccModifier) {
	for _, p := range m.Used.Insertions() {
		c.count(p.Key.Addr)
		if _, ok := c.seen[p.Key]; ok {
			continue
		}
		c.seen[p.Key] = struct{}{}
		c.extra[p.Key.Addr]++
	}
}

// fault reports a marker lookup failure latched during the fold.
func (c *markerCounter) fault() error {
	return c.err
}

// resolvers binds the tracking fold's external lookups for one run.
// Transactions with a zero header are unconfirmed: they have no
// difficulty, are stamped with the present time, and never enter the
// candidate log.  Genesis allocations stay out of the candidate log too.
func (s *Syncer) resolvers(counter *markerCounter) *wtrack.Resolvers {
	return &wtrack.Resolvers{
		UsedMarkers: counter.count,
		Difficulty: func(h chain.Header) fn.Option[uint64] {
			if h == (chain.Header{}) {
				return fn.None[uint64]()
			}
			return fn.Some(h.Difficulty)
		},
		Timestamp: func(h chain.Header) fn.Option[time.Time] {
			if h == (chain.Header{}) {
				return fn.Some(s.cfg.Clock.Now())
			}
			return s.cfg.SlotTimer.TimeOf(h.Slot)
		},
		PendingInfo: func(h chain.Header) fn.Option[wmod.PendingMeta] {
			if h == (chain.Header{}) || h.IsGenesis() {
				return fn.None[wmod.PendingMeta]()
			}
			return fn.Some(wmod.PendingMeta{
				BlockHash:  h.Hash,
				Difficulty: h.Difficulty,
				Slot:       h.Slot,
			})
		},
	}
}
