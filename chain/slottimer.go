// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// SlotTimer translates minting slots into wall-clock times.  Timing is
// anchored at the genesis block: slot s starts s slot lengths after the
// genesis time.
type SlotTimer struct {
	genesisTime time.Time
	slotLength  time.Duration
}

// NewSlotTimer returns a timer anchored at genesisTime with fixed-length
// slots.
func NewSlotTimer(genesisTime time.Time, slotLength time.Duration) *SlotTimer {
	return &SlotTimer{
		genesisTime: genesisTime,
		slotLength:  slotLength,
	}
}

// TimeOf resolves the wall-clock start of a slot.  Without a genesis anchor
// or a positive slot length no resolution exists and None is returned.
func (s *SlotTimer) TimeOf(slot uint64) fn.Option[time.Time] {
	if s == nil || s.genesisTime.IsZero() || s.slotLength <= 0 {
		return fn.None[time.Time]()
	}
	offset := time.Duration(slot) * s.slotLength
	return fn.Some(s.genesisTime.Add(offset))
}
