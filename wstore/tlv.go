// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"bytes"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/walletmirror/walletmirror/wmod"
)

// History entries are stored as TLV streams so fields can be added in
// later versions without rewriting existing records.  The txid is the
// bucket key and is not repeated in the value.  Optional fields (fee,
// difficulty, timestamp) are encoded only when present; their absence on
// decode maps back to fn.None.
const (
	typeHistoryTotalIn    tlv.Type = 1
	typeHistoryTotalOut   tlv.Type = 2
	typeHistoryFee        tlv.Type = 3
	typeHistoryInputs     tlv.Type = 4
	typeHistoryOutputs    tlv.Type = 5
	typeHistoryDifficulty tlv.Type = 6
	typeHistoryTimestamp  tlv.Type = 7
)

// ownedIOsSize returns the serialized size of an owned input/output list.
func ownedIOsSize(ios *[]wmod.OwnedIO) tlv.SizeFunc {
	return func() uint64 {
		sz := tlv.VarIntSize(uint64(len(*ios)))
		for i := range *ios {
			cur := &(*ios)[i]
			sz += 36 + 8 + 12
			sz += tlv.VarIntSize(uint64(len(cur.PkScript)))
			sz += uint64(len(cur.PkScript))
			sz += tlv.VarIntSize(uint64(len(cur.Meta.Addr)))
			sz += uint64(len(cur.Meta.Addr))
		}
		return sz
	}
}

// eOwnedIOs encodes an owned input/output list as a count followed by one
// fixed-width outpoint/amount/derivation block and two length-prefixed
// byte strings per entry.
func eOwnedIOs(w io.Writer, val interface{}, buf *[8]byte) error {
	ios, ok := val.(*[]wmod.OwnedIO)
	if !ok {
		return tlv.NewTypeForEncodingErr(val, "*[]wmod.OwnedIO")
	}

	if err := tlv.WriteVarInt(w, uint64(len(*ios)), buf); err != nil {
		return err
	}
	for i := range *ios {
		cur := &(*ios)[i]

		op := canonicalOutPoint(&cur.OutPoint.Hash, cur.OutPoint.Index)
		if _, err := w.Write(op); err != nil {
			return err
		}
		amount := uint64(cur.Amount)
		if err := tlv.EUint64(w, &amount, buf); err != nil {
			return err
		}
		if err := tlv.EUint32(w, &cur.Meta.Account, buf); err != nil {
			return err
		}
		if err := tlv.EUint32(w, &cur.Meta.Branch, buf); err != nil {
			return err
		}
		if err := tlv.EUint32(w, &cur.Meta.Index, buf); err != nil {
			return err
		}
		script := cur.PkScript
		if err := tlv.WriteVarInt(w, uint64(len(script)), buf); err != nil {
			return err
		}
		if _, err := w.Write(script); err != nil {
			return err
		}
		addr := []byte(cur.Meta.Addr)
		if err := tlv.WriteVarInt(w, uint64(len(addr)), buf); err != nil {
			return err
		}
		if _, err := w.Write(addr); err != nil {
			return err
		}
	}
	return nil
}

// dOwnedIOs decodes a list written by eOwnedIOs.
func dOwnedIOs(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
	ios, ok := val.(*[]wmod.OwnedIO)
	if !ok {
		return tlv.NewTypeForDecodingErr(val, "*[]wmod.OwnedIO", l, l)
	}

	count, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return err
	}
	// Each entry occupies at least its fixed-width block, which bounds
	// the count by the record length.
	if count > l/56 {
		return tlv.ErrRecordTooLarge
	}

	result := make([]wmod.OwnedIO, 0, count)
	for i := uint64(0); i < count; i++ {
		var cur wmod.OwnedIO

		var op [36]byte
		if _, err := io.ReadFull(r, op[:]); err != nil {
			return err
		}
		if err := readCanonicalOutPoint(op[:], &cur.OutPoint); err != nil {
			return err
		}
		var amount uint64
		if err := tlv.DUint64(r, &amount, buf, 8); err != nil {
			return err
		}
		cur.Amount = btcutil.Amount(amount)
		if err := tlv.DUint32(r, &cur.Meta.Account, buf, 4); err != nil {
			return err
		}
		if err := tlv.DUint32(r, &cur.Meta.Branch, buf, 4); err != nil {
			return err
		}
		if err := tlv.DUint32(r, &cur.Meta.Index, buf, 4); err != nil {
			return err
		}

		scriptLen, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if scriptLen > l {
			return tlv.ErrRecordTooLarge
		}
		if scriptLen > 0 {
			cur.PkScript = make([]byte, scriptLen)
			if _, err := io.ReadFull(r, cur.PkScript); err != nil {
				return err
			}
		}

		addrLen, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if addrLen > l {
			return tlv.ErrRecordTooLarge
		}
		addr := make([]byte, addrLen)
		if _, err := io.ReadFull(r, addr); err != nil {
			return err
		}
		cur.Meta.Addr = wmod.AddrKey(addr)

		result = append(result, cur)
	}
	*ios = result
	return nil
}

// valueHistoryEntry serializes a history entry as a TLV stream.  Records
// are appended in ascending type order with optional fields skipped when
// absent.
func valueHistoryEntry(entry *wmod.TxHistoryEntry) ([]byte, error) {
	totalIn := uint64(entry.TotalIn)
	totalOut := uint64(entry.TotalOut)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeHistoryTotalIn, &totalIn),
		tlv.MakePrimitiveRecord(typeHistoryTotalOut, &totalOut),
	}

	var fee uint64
	if entry.Fee.IsSome() {
		fee = uint64(entry.Fee.UnwrapOr(0))
		records = append(records,
			tlv.MakePrimitiveRecord(typeHistoryFee, &fee))
	}
	if len(entry.Inputs) > 0 {
		records = append(records, tlv.MakeDynamicRecord(
			typeHistoryInputs, &entry.Inputs,
			ownedIOsSize(&entry.Inputs), eOwnedIOs, dOwnedIOs,
		))
	}
	if len(entry.Outputs) > 0 {
		records = append(records, tlv.MakeDynamicRecord(
			typeHistoryOutputs, &entry.Outputs,
			ownedIOsSize(&entry.Outputs), eOwnedIOs, dOwnedIOs,
		))
	}
	var difficulty uint64
	if entry.Difficulty.IsSome() {
		difficulty = entry.Difficulty.UnwrapOr(0)
		records = append(records,
			tlv.MakePrimitiveRecord(typeHistoryDifficulty, &difficulty))
	}
	var timestamp uint64
	if entry.Timestamp.IsSome() {
		timestamp = uint64(entry.Timestamp.UnwrapOr(time.Time{}).Unix())
		records = append(records,
			tlv.MakePrimitiveRecord(typeHistoryTimestamp, &timestamp))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		str := "failed to build history stream"
		return nil, storeError(ErrData, str, err)
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		str := "failed to encode history entry"
		return nil, storeError(ErrData, str, err)
	}
	return b.Bytes(), nil
}

// fetchHistoryEntry deserializes a history entry, restoring optional
// fields from record presence.  Timestamps round-trip at second precision
// in UTC.
func fetchHistoryEntry(txid chainhash.Hash,
	v []byte) (wmod.TxHistoryEntry, error) {

	var (
		totalIn, totalOut uint64
		fee               uint64
		inputs, outputs   []wmod.OwnedIO
		difficulty        uint64
		timestamp         uint64
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeHistoryTotalIn, &totalIn),
		tlv.MakePrimitiveRecord(typeHistoryTotalOut, &totalOut),
		tlv.MakePrimitiveRecord(typeHistoryFee, &fee),
		tlv.MakeDynamicRecord(
			typeHistoryInputs, &inputs,
			ownedIOsSize(&inputs), eOwnedIOs, dOwnedIOs,
		),
		tlv.MakeDynamicRecord(
			typeHistoryOutputs, &outputs,
			ownedIOsSize(&outputs), eOwnedIOs, dOwnedIOs,
		),
		tlv.MakePrimitiveRecord(typeHistoryDifficulty, &difficulty),
		tlv.MakePrimitiveRecord(typeHistoryTimestamp, &timestamp),
	)
	if err != nil {
		str := "failed to build history stream"
		return wmod.TxHistoryEntry{}, storeError(ErrData, str, err)
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		str := "failed to decode history entry"
		return wmod.TxHistoryEntry{}, storeError(ErrData, str, err)
	}

	entry := wmod.TxHistoryEntry{
		TxID:     txid,
		TotalIn:  btcutil.Amount(totalIn),
		TotalOut: btcutil.Amount(totalOut),
		Inputs:   inputs,
		Outputs:  outputs,
	}
	if _, ok := parsed[typeHistoryFee]; ok {
		entry.Fee = fn.Some(btcutil.Amount(fee))
	}
	if _, ok := parsed[typeHistoryDifficulty]; ok {
		entry.Difficulty = fn.Some(difficulty)
	}
	if _, ok := parsed[typeHistoryTimestamp]; ok {
		entry.Timestamp = fn.Some(time.Unix(int64(timestamp), 0).UTC())
	}
	return entry, nil
}
