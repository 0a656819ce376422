// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// Header identifies one block of the authoritative chain.
type Header struct {
	Hash chainhash.Hash
	Prev chainhash.Hash

	// Difficulty is the cumulative main-chain difficulty as of this
	// block.  The genesis block has difficulty 0 and consecutive blocks
	// differ by exactly one, so differences count blocks.
	Difficulty uint64

	// Slot is the timing slot the block was minted in, anchored at the
	// genesis block.  Slots translate to wall time through a SlotTimer.
	Slot uint64
}

// IsGenesis reports whether the header has no parent.
func (h *Header) IsGenesis() bool {
	return h.Prev == chainhash.Hash{}
}

// SpentOutput is a prior output consumed by a transaction input, resolved at
// block-application time.  Inputs only point at prior outputs, so without
// this record their value and script would be unavailable during rollback.
type SpentOutput struct {
	PrevOut wire.OutPoint
	TxOut   *wire.TxOut
}

// Undo carries, for each transaction of a block in order, the prior outputs
// consumed by that transaction's inputs in input order.
type Undo [][]SpentOutput

// Block is a chain block: its header plus the transaction payload.
type Block struct {
	Header Header
	Txs    []*wire.MsgTx
}

// BlockAndUndo pairs a block with its undo data.
type BlockAndUndo struct {
	Block *Block
	Undo  Undo
}

// checkUndoShape verifies the undo data mirrors the block's transactions and
// inputs one to one.
func checkUndoShape(b *BlockAndUndo) error {
	if len(b.Undo) != len(b.Block.Txs) {
		return errors.Errorf("undo covers %d txs, block has %d",
			len(b.Undo), len(b.Block.Txs))
	}
	for i, tx := range b.Block.Txs {
		if len(b.Undo[i]) != len(tx.TxIn) {
			return errors.Errorf("undo for tx %d covers %d "+
				"inputs, tx has %d", i, len(b.Undo[i]),
				len(tx.TxIn))
		}
	}
	return nil
}
