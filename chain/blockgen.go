// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// blockHash derives a block hash from the linking fields and the
// transaction ids, giving simulated chains stable, collision-resistant
// identities.
func blockHash(prev chainhash.Hash, difficulty, slot uint64,
	txs []*wire.MsgTx) chainhash.Hash {

	buf := make([]byte, 0, chainhash.HashSize*(len(txs)+1)+16)
	buf = append(buf, prev[:]...)
	buf = binary.BigEndian.AppendUint64(buf, difficulty)
	buf = binary.BigEndian.AppendUint64(buf, slot)
	for _, tx := range txs {
		th := tx.TxHash()
		buf = append(buf, th[:]...)
	}
	return chainhash.DoubleHashH(buf)
}

// NewGenesisBlock assembles a genesis block carrying the initial allocation
// transactions.  Allocation transactions have outputs only, so the undo
// data is empty.
func NewGenesisBlock(txs []*wire.MsgTx) *BlockAndUndo {
	hdr := Header{
		Hash: blockHash(chainhash.Hash{}, 0, 0, txs),
	}
	return &BlockAndUndo{
		Block: &Block{Header: hdr, Txs: txs},
		Undo:  make(Undo, len(txs)),
	}
}

// NewBlock assembles a block extending parent at the given slot.  The undo
// data must mirror the transactions one to one; the caller resolves the
// spent outputs since only it knows the ledger the block builds on.
func NewBlock(parent Header, slot uint64, txs []*wire.MsgTx,
	undo Undo) *BlockAndUndo {

	difficulty := parent.Difficulty + 1
	hdr := Header{
		Hash:       blockHash(parent.Hash, difficulty, slot, txs),
		Prev:       parent.Hash,
		Difficulty: difficulty,
		Slot:       slot,
	}
	return &BlockAndUndo{
		Block: &Block{Header: hdr, Txs: txs},
		Undo:  undo,
	}
}
