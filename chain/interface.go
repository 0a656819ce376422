// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

var (
	// ErrNoTip is returned by TipHeader when the index holds no blocks.
	ErrNoTip = errors.New("chain index has no tip")

	// ErrHeaderNotFound is returned when a header cannot be resolved by
	// hash.  A wallet whose recorded tip triggers this cannot be synced
	// until it is restored.
	ErrHeaderNotFound = errors.New("header not found")

	// ErrBlockNotFound is returned when a block or its undo data cannot
	// be resolved by hash.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNoForwardLink is returned when a block has no known main-chain
	// successor.  The tip has none by definition; any other block
	// without one sits on an abandoned fork.
	ErrNoForwardLink = errors.New("no forward link")
)

// LockPriority orders waiters for the chain exclusivity lock.
type LockPriority uint8

const (
	// LowPriority marks background work such as wallet catch-up.
	LowPriority LockPriority = iota

	// HighPriority marks work on the block application path.
	HighPriority
)

// Index gives read access to the authoritative chain: headers, the
// main-chain successor relation, and block payloads with their undo data.
// Implementations may block on I/O, so every call takes a context.
//
// Forward links and the tip may change between calls while the chain
// advances or reorganizes; only Lock.WithExclusive pins them.
type Index interface {
	// TipHeader returns the header of the current best block, or
	// ErrNoTip when the chain is empty.
	TipHeader(ctx context.Context) (Header, error)

	// HeaderByHash resolves a header.  Headers of blocks abandoned by a
	// reorganization remain resolvable.
	HeaderByHash(ctx context.Context, hash chainhash.Hash) (Header,
		error)

	// ForwardLink resolves the hash of the main-chain block directly
	// after the given one, or ErrNoForwardLink.
	ForwardLink(ctx context.Context, hash chainhash.Hash) (
		chainhash.Hash, error)

	// HeadersByDepth returns up to n headers walking the parent
	// relation back from the given hash, newest first and inclusive.
	// Fewer are returned when the walk reaches genesis.
	HeadersByDepth(ctx context.Context, n uint64,
		from chainhash.Hash) ([]Header, error)

	// BlockWithUndo loads one block and its undo data.
	BlockWithUndo(ctx context.Context, hash chainhash.Hash) (
		*BlockAndUndo, error)

	// BlocksWhile loads blocks with undo data walking the parent
	// relation back from the given hash for as long as keep accepts
	// each header.  The result is newest first.  The walk may cross
	// blocks abandoned by a reorganization.
	BlocksWhile(ctx context.Context, from chainhash.Hash,
		keep func(Header) bool) ([]*BlockAndUndo, error)

	// GenesisBlock returns the genesis block and its (empty) undo data.
	GenesisBlock(ctx context.Context) (*BlockAndUndo, error)
}

// Lock is the chain exclusivity primitive.  While fn runs, the chain cannot
// advance or reorganize, so the tip passed to fn stays accurate for its
// whole duration.  The lock is node global: holding it stalls block
// application, so sections must stay short.
type Lock interface {
	// WithExclusive runs fn with the chain pinned at its current tip.
	// fn's error is returned after the lock is released.
	WithExclusive(ctx context.Context, prio LockPriority,
		fn func(tip Header) error) error
}
