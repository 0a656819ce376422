// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlotTimerResolvesAnchoredSlots(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	timer := NewSlotTimer(anchor, 20*time.Second)

	ts := timer.TimeOf(0)
	require.True(t, ts.IsSome())
	require.Equal(t, anchor, ts.UnwrapOr(time.Time{}))

	ts = timer.TimeOf(90)
	require.True(t, ts.IsSome())
	require.Equal(t, anchor.Add(30*time.Minute), ts.UnwrapOr(time.Time{}))
}

func TestSlotTimerUnanchored(t *testing.T) {
	timer := NewSlotTimer(time.Time{}, 20*time.Second)
	require.True(t, timer.TimeOf(5).IsNone())

	timer = NewSlotTimer(time.Now(), 0)
	require.True(t, timer.TimeOf(5).IsNone())

	var nilTimer *SlotTimer
	require.True(t, nilTimer.TimeOf(5).IsNone())
}
