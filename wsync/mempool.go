// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wmod"
	"github.com/walletmirror/walletmirror/wtrack"
)

// txNode is one unconfirmed transaction in the dependency graph.  Edges
// point from a transaction to the set members consuming its outputs, so a
// topological order folds parents before spenders.
type txNode struct {
	tx       *wire.MsgTx
	undo     []chain.SpentOutput
	outEdges []int
	inDegree int
}

// makeTxGraph builds the dependency graph over the unconfirmed set.  Nodes
// are indexed by input position; inputs referencing transactions outside
// the set add no edges.  Duplicate txids mean the snapshot is internally
// inconsistent.
func makeTxGraph(txs []*wire.MsgTx,
	undos [][]chain.SpentOutput) ([]*txNode, error) {

	nodes := make([]*txNode, len(txs))
	index := make(map[chainhash.Hash]int, len(txs))
	for i, tx := range txs {
		txid := tx.TxHash()
		if dup, ok := index[txid]; ok {
			return nil, errors.Errorf("transactions %d and %d share "+
				"txid %v", dup, i, txid)
		}
		index[txid] = i
		nodes[i] = &txNode{tx: tx, undo: undos[i]}
	}

	for i, tx := range txs {
	inputLoop:
		for _, input := range tx.TxIn {
			parent, ok := index[input.PreviousOutPoint.Hash]
			if !ok || parent == i {
				continue
			}

			// Skip duplicate edges: several inputs consuming
			// outputs of the same parent still order the pair
			// once.
			for _, edge := range nodes[parent].outEdges {
				if edge == i {
					continue inputLoop
				}
			}

			nodes[parent].outEdges = append(
				nodes[parent].outEdges, i,
			)
			nodes[i].inDegree++
		}
	}
	return nodes, nil
}

// dependencySort topologically sorts the unconfirmed set with Kahn's
// algorithm, preserving the input order among independent transactions.
// An error means the set contains a dependency cycle.
func dependencySort(nodes []*txNode) ([]*txNode, error) {
	queue := make([]int, 0, len(nodes))
	for i, node := range nodes {
		if node.inDegree == 0 {
			queue = append(queue, i)
		}
	}

	sorted := make([]*txNode, 0, len(nodes))
	for len(queue) != 0 {
		i := queue[0]
		queue = queue[1:]
		sorted = append(sorted, nodes[i])
		for _, edge := range nodes[i].outEdges {
			nodes[edge].inDegree--
			if nodes[edge].inDegree == 0 {
				queue = append(queue, edge)
			}
		}
	}

	if len(sorted) != len(nodes) {
		return nil, errors.Errorf("%d of %d transactions sit on a "+
			"dependency cycle", len(nodes)-len(sorted), len(nodes))
	}
	return sorted, nil
}

// MempoolModifier builds a speculative modifier over the mempool snapshot
// for display: unconfirmed transactions are classified in dependency
// order, so a transaction spending another unconfirmed output folds after
// its parent.  The result is recomputed on demand and never committed; the
// wallet's sync tip does not move.
//
// The snapshot is expected to be internally consistent.  A dependency
// cycle, a duplicate txid, or undo data that does not line up with the
// transactions is a classification fault: it is logged, and no modifier is
// returned.
func (s *Syncer) MempoolModifier(book wtrack.AddrBook, txs []*wire.MsgTx,
	undos [][]chain.SpentOutput) (*wmod.AccModifier, error) {

	id := book.WalletID()
	if len(undos) != len(txs) {
		return nil, s.mempoolFault(id, errors.Errorf("undo data covers "+
			"%d of %d transactions", len(undos), len(txs)))
	}

	nodes, err := makeTxGraph(txs, undos)
	if err != nil {
		return nil, s.mempoolFault(id, err)
	}
	sorted, err := dependencySort(nodes)
	if err != nil {
		return nil, s.mempoolFault(id, err)
	}

	// Unconfirmed transactions fold under a zero header: no difficulty,
	// a present-time stamp, and no candidate log entry.
	ordered := make([]wtrack.BlockTx, len(sorted))
	for i, node := range sorted {
		ordered[i] = wtrack.BlockTx{Tx: node.tx, Undo: node.undo}
	}

	counter := s.newMarkerCounter(id)
	m, err := wtrack.Apply(book, s.resolvers(counter), ordered)
	if err != nil {
		return nil, s.mempoolFault(id, err)
	}
	if err := counter.fault(); err != nil {
		return nil, syncError(ErrTransient, fmt.Sprintf(
			"counting used markers for wallet %q", id), err)
	}
	return m, nil
}

// mempoolFault wraps a mempool inconsistency as a classification error and
// logs it; the caller gets no modifier.
func (s *Syncer) mempoolFault(id wmod.WalletID, err error) error {
	serr := syncError(ErrClassification, fmt.Sprintf(
		"mempool snapshot for wallet %q is inconsistent", id), err)
	log.Errorf("Mempool view unavailable: %v", serr)
	return serr
}
