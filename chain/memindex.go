// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// MemIndex is a complete in-memory chain index for simulation and testing.
// It maintains the main chain as an append-only sequence with explicit
// reorganization support and keeps blocks abandoned by a reorg resolvable,
// the same visibility a full node's block store provides.
//
// MemIndex also implements Lock against its own mutation path: while an
// exclusive section runs, Extend and Reorg block, so the tip observed inside
// the section cannot move.
type MemIndex struct {
	// lockMtx serializes chain mutations and exclusive sections.
	lockMtx sync.Mutex

	// stateMtx guards the fields below.
	stateMtx  sync.RWMutex
	mainChain []*BlockAndUndo
	heights   map[chainhash.Hash]uint64
	blocks    map[chainhash.Hash]*BlockAndUndo
}

var (
	_ Index = (*MemIndex)(nil)
	_ Lock  = (*MemIndex)(nil)
)

// NewMemIndex builds an index holding only the given genesis block.  The
// genesis block must have no parent, difficulty 0, and transactions without
// inputs (the initial allocation).
func NewMemIndex(genesis *BlockAndUndo) (*MemIndex, error) {
	hdr := genesis.Block.Header
	if !hdr.IsGenesis() {
		return nil, errors.New("genesis block has a parent")
	}
	if hdr.Difficulty != 0 {
		return nil, errors.Errorf("genesis difficulty is %d, not 0",
			hdr.Difficulty)
	}
	for i, tx := range genesis.Block.Txs {
		if len(tx.TxIn) != 0 {
			return nil, errors.Errorf("genesis tx %d spends "+
				"inputs", i)
		}
	}
	if err := checkUndoShape(genesis); err != nil {
		return nil, err
	}

	m := &MemIndex{
		heights: make(map[chainhash.Hash]uint64),
		blocks:  make(map[chainhash.Hash]*BlockAndUndo),
	}
	m.mainChain = append(m.mainChain, genesis)
	m.heights[hdr.Hash] = 0
	m.blocks[hdr.Hash] = genesis
	return m, nil
}

// Extend appends a block to the main chain.  The block must link to the
// current tip with difficulty exactly one higher and a later slot.
func (m *MemIndex) Extend(b *BlockAndUndo) error {
	m.lockMtx.Lock()
	defer m.lockMtx.Unlock()

	return m.extend(b)
}

func (m *MemIndex) extend(b *BlockAndUndo) error {
	if err := checkUndoShape(b); err != nil {
		return err
	}

	m.stateMtx.Lock()
	defer m.stateMtx.Unlock()

	tip := m.mainChain[len(m.mainChain)-1].Block.Header
	hdr := b.Block.Header
	switch {
	case hdr.Prev != tip.Hash:
		return errors.Errorf("block %v links to %v, tip is %v",
			hdr.Hash, hdr.Prev, tip.Hash)
	case hdr.Difficulty != tip.Difficulty+1:
		return errors.Errorf("block %v difficulty %d does not "+
			"follow tip difficulty %d", hdr.Hash, hdr.Difficulty,
			tip.Difficulty)
	case hdr.Slot <= tip.Slot:
		return errors.Errorf("block %v slot %d does not follow tip "+
			"slot %d", hdr.Hash, hdr.Slot, tip.Slot)
	}
	if _, ok := m.blocks[hdr.Hash]; ok {
		return errors.Errorf("block %v already known", hdr.Hash)
	}

	m.mainChain = append(m.mainChain, b)
	m.heights[hdr.Hash] = uint64(len(m.mainChain) - 1)
	m.blocks[hdr.Hash] = b

	log.Tracef("Extended chain to %v (difficulty %d)", hdr.Hash,
		hdr.Difficulty)
	return nil
}

// Reorg detaches depth blocks from the main chain and attaches the
// replacement blocks in order.  Detached blocks stay resolvable by hash but
// lose their forward links.  The genesis block cannot be detached.  An empty
// replacement list leaves the chain rolled back, matching a node caught
// between detaching a fork and applying its successor.
func (m *MemIndex) Reorg(depth uint64, replacement []*BlockAndUndo) error {
	m.lockMtx.Lock()
	defer m.lockMtx.Unlock()

	m.stateMtx.Lock()
	if depth >= uint64(len(m.mainChain)) {
		n := len(m.mainChain)
		m.stateMtx.Unlock()
		return errors.Errorf("cannot detach %d of %d blocks", depth,
			n)
	}
	keep := uint64(len(m.mainChain)) - depth
	for _, b := range m.mainChain[keep:] {
		delete(m.heights, b.Block.Header.Hash)
	}
	m.mainChain = m.mainChain[:keep]
	tip := m.mainChain[keep-1].Block.Header
	m.stateMtx.Unlock()

	log.Debugf("Detached %d blocks, tip now %v (difficulty %d)", depth,
		tip.Hash, tip.Difficulty)

	for _, b := range replacement {
		if err := m.extend(b); err != nil {
			return err
		}
	}
	return nil
}

// TipHeader returns the current best header.
func (m *MemIndex) TipHeader(_ context.Context) (Header, error) {
	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	if len(m.mainChain) == 0 {
		return Header{}, ErrNoTip
	}
	return m.mainChain[len(m.mainChain)-1].Block.Header, nil
}

// HeaderByHash resolves a header, including headers of detached blocks.
func (m *MemIndex) HeaderByHash(_ context.Context,
	hash chainhash.Hash) (Header, error) {

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	b, ok := m.blocks[hash]
	if !ok {
		return Header{}, errors.Wrapf(ErrHeaderNotFound, "%v", hash)
	}
	return b.Block.Header, nil
}

// ForwardLink resolves the main-chain successor of the given block.
func (m *MemIndex) ForwardLink(_ context.Context,
	hash chainhash.Hash) (chainhash.Hash, error) {

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	height, ok := m.heights[hash]
	if !ok {
		if _, known := m.blocks[hash]; known {
			return chainhash.Hash{}, errors.Wrapf(
				ErrNoForwardLink, "%v is not on the main "+
					"chain", hash)
		}
		return chainhash.Hash{}, errors.Wrapf(ErrHeaderNotFound,
			"%v", hash)
	}
	if height+1 >= uint64(len(m.mainChain)) {
		return chainhash.Hash{}, errors.Wrapf(ErrNoForwardLink,
			"%v is the tip", hash)
	}
	return m.mainChain[height+1].Block.Header.Hash, nil
}

// HeadersByDepth returns up to n headers walking back from the given hash,
// newest first and inclusive.
func (m *MemIndex) HeadersByDepth(ctx context.Context, n uint64,
	from chainhash.Hash) ([]Header, error) {

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	hdrs := make([]Header, 0, n)
	next := from
	for uint64(len(hdrs)) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, ok := m.blocks[next]
		if !ok {
			return nil, errors.Wrapf(ErrHeaderNotFound, "%v",
				next)
		}
		hdr := b.Block.Header
		hdrs = append(hdrs, hdr)
		if hdr.IsGenesis() {
			break
		}
		next = hdr.Prev
	}
	return hdrs, nil
}

// BlockWithUndo loads one block with its undo data.  The returned block is
// shared and must not be mutated.
func (m *MemIndex) BlockWithUndo(_ context.Context,
	hash chainhash.Hash) (*BlockAndUndo, error) {

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	b, ok := m.blocks[hash]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "%v", hash)
	}
	return b, nil
}

// BlocksWhile loads blocks walking back from the given hash while keep
// accepts each header, newest first.
func (m *MemIndex) BlocksWhile(ctx context.Context, from chainhash.Hash,
	keep func(Header) bool) ([]*BlockAndUndo, error) {

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	var out []*BlockAndUndo
	next := from
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, ok := m.blocks[next]
		if !ok {
			return nil, errors.Wrapf(ErrBlockNotFound, "%v", next)
		}
		hdr := b.Block.Header
		if !keep(hdr) {
			return out, nil
		}
		out = append(out, b)
		if hdr.IsGenesis() {
			return out, nil
		}
		next = hdr.Prev
	}
}

// GenesisBlock returns the genesis block.
func (m *MemIndex) GenesisBlock(_ context.Context) (*BlockAndUndo, error) {
	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	if len(m.mainChain) == 0 {
		return nil, ErrNoTip
	}
	return m.mainChain[0], nil
}

// WithExclusive runs fn with chain mutations excluded.  The in-memory lock
// grants access in arrival order; the priority is accepted for interface
// fidelity and recorded in trace logs only.
func (m *MemIndex) WithExclusive(ctx context.Context, prio LockPriority,
	fn func(tip Header) error) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.lockMtx.Lock()
	defer m.lockMtx.Unlock()

	tip, err := m.TipHeader(ctx)
	if err != nil {
		return err
	}

	log.Tracef("Exclusive section entered at tip %v (priority %d)",
		tip.Hash, prio)
	return fn(tip)
}
