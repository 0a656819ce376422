// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtrack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walletmirror/walletmirror/wmod"
)

func ownedIO(addr wmod.AddrKey, account uint32) wmod.OwnedIO {
	return wmod.OwnedIO{
		Meta: wmod.AddrMeta{Addr: addr, Account: account},
	}
}

func TestEvalChange(t *testing.T) {
	neverUsed := func(wmod.AddrKey) bool { return false }
	usedSet := func(addrs ...wmod.AddrKey) func(wmod.AddrKey) bool {
		set := make(map[wmod.AddrKey]struct{})
		for _, a := range addrs {
			set[a] = struct{}{}
		}
		return func(a wmod.AddrKey) bool {
			_, ok := set[a]
			return ok
		}
	}

	tests := []struct {
		name   string
		extra  *TxExtra
		isUsed func(wmod.AddrKey) bool
		want   []wmod.AddrKey
	}{{
		// Incoming payments have no owned inputs and produce no
		// change.
		name: "no owned inputs",
		extra: &TxExtra{
			Outputs: []wmod.OwnedIO{ownedIO("a1", 0)},
		},
		isUsed: neverUsed,
		want:   nil,
	}, {
		// A transfer with every output owned and every candidate
		// fresh is a wallet-to-self payment without change.
		name: "self transfer",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a2", 0),
			},
			AllOutputsOwned: true,
		},
		isUsed: neverUsed,
		want:   nil,
	}, {
		// One owned, never used, same-account output among mixed
		// outputs is change.
		name: "mixed outputs",
		extra: &TxExtra{
			Inputs:  []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{ownedIO("a1", 0)},
		},
		isUsed: neverUsed,
		want:   []wmod.AddrKey{"a1"},
	}, {
		// An address that received funds elsewhere cannot be change.
		name: "used candidate dropped",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a2", 0),
			},
		},
		isUsed: usedSet("a2"),
		want:   []wmod.AddrKey{"a1"},
	}, {
		// Dropping a used candidate breaks the self-transfer
		// tie-break even when every output is owned.
		name: "reuse defeats self transfer",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a2", 0),
			},
			AllOutputsOwned: true,
		},
		isUsed: usedSet("a2"),
		want:   []wmod.AddrKey{"a1"},
	}, {
		// Only the first owned input's account selects candidates.
		name: "account filter",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{
				ownedIO("in1", 1),
				ownedIO("in2", 0),
			},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a2", 1),
			},
		},
		isUsed: neverUsed,
		want:   []wmod.AddrKey{"a2"},
	}, {
		// Paying the same candidate twice reports it once, and the
		// self-transfer comparison still sees matching sets.
		name: "duplicate outputs",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a1", 0),
			},
			AllOutputsOwned: true,
		},
		isUsed: neverUsed,
		want:   nil,
	}, {
		// All outputs owned but an off-account output keeps the
		// candidate set smaller than the owned set, so the
		// self-transfer tie-break does not fire.
		name: "off account output",
		extra: &TxExtra{
			Inputs: []wmod.OwnedIO{ownedIO("in1", 0)},
			Outputs: []wmod.OwnedIO{
				ownedIO("a1", 0),
				ownedIO("a2", 1),
			},
			AllOutputsOwned: true,
		},
		isUsed: neverUsed,
		want:   []wmod.AddrKey{"a1"},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := EvalChange(test.extra, test.isUsed)
			require.Equal(t, test.want, got)
		})
	}
}
