// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txfees

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// DefaultPerKB is a reasonable per-kilobyte rate for simulated chains.
const DefaultPerKB btcutil.Amount = 1e4

// PolicyKind identifies how a fee policy derives its fees.
type PolicyKind int

const (
	// PolicyLinear prices a transaction as a flat base amount plus a
	// per-kilobyte rate on its serialized size.
	PolicyLinear PolicyKind = iota
)

// Map of PolicyKind values back to their constant names for pretty
// printing.
var policyKindStrings = map[PolicyKind]string{
	PolicyLinear: "PolicyLinear",
}

// String returns the PolicyKind as a human-readable name.
func (k PolicyKind) String() string {
	if s := policyKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown PolicyKind (%d)", int(k))
}

// Policy prices transactions.
type Policy interface {
	// FeeFor returns the fee required for the transaction.
	FeeFor(tx *wire.MsgTx) btcutil.Amount

	// Kind reports how the policy derives its fees.
	Kind() PolicyKind
}

// LinearPolicy prices transactions linearly in their serialized size.
type LinearPolicy struct {
	// Base is charged on every transaction regardless of size.
	Base btcutil.Amount

	// PerKB is the rate applied to the serialized transaction size.
	PerKB btcutil.Amount
}

// FeeFor returns the base amount plus the size-proportional cost of the
// transaction.
func (p LinearPolicy) FeeFor(tx *wire.MsgTx) btcutil.Amount {
	return p.Base + FeeForSerializeSize(p.PerKB, tx.SerializeSize())
}

// Kind returns PolicyLinear.
func (p LinearPolicy) Kind() PolicyKind {
	return PolicyLinear
}

// FeeForSerializeSize calculates the size-proportional fee for a
// transaction of some arbitrary size given a per-kilobyte rate.  A nonzero
// rate never rounds below itself.
func FeeForSerializeSize(perKB btcutil.Amount, txSerializeSize int) btcutil.Amount {
	fee := perKB * btcutil.Amount(txSerializeSize) / 1000

	if fee == 0 && perKB > 0 {
		fee = perKB
	}

	if fee < 0 || fee > btcutil.MaxSatoshi {
		fee = btcutil.MaxSatoshi
	}

	return fee
}

// FeeSource yields the fee a builder should embed in its i'th transaction,
// counted from zero in creation order.
type FeeSource func(i int) btcutil.Amount

// ZeroFees is the first-pass source: an inexhaustible sequence of zero
// fees.
func ZeroFees(int) btcutil.Amount {
	return 0
}

// FeeList sources fees from a precomputed list.  Positions beyond its end
// yield zero; a builder honoring the two-pass contract never reaches them.
func FeeList(fees []btcutil.Amount) FeeSource {
	return func(i int) btcutil.Amount {
		if i < 0 || i >= len(fees) {
			return 0
		}
		return fees[i]
	}
}

// Builder constructs a transaction set, drawing each transaction's fee
// from the source.  Fees may only flow into output values; they must not
// influence how many transactions are produced or their structure.
type Builder func(fees FeeSource) ([]*wire.MsgTx, error)

// TwoPass materializes a transaction set with accurate embedded fees.  The
// builder first runs with zero fees to fix the transaction shapes, every
// draft transaction is priced under the policy, and the builder runs again
// drawing the computed fees.  Output values encode with a fixed width, so
// a fee-only change cannot alter a transaction's size between passes.
//
// Only size-recomputable policies work here; any other kind is rejected.
func TwoPass(policy Policy, build Builder) ([]*wire.MsgTx, error) {
	if policy.Kind() != PolicyLinear {
		return nil, errors.Errorf("fee policy %v cannot be recomputed "+
			"from transaction size", policy.Kind())
	}

	draft, err := build(ZeroFees)
	if err != nil {
		return nil, errors.Wrap(err, "building draft transactions")
	}
	fees := make([]btcutil.Amount, len(draft))
	for i, tx := range draft {
		fees[i] = policy.FeeFor(tx)
	}

	final, err := build(FeeList(fees))
	if err != nil {
		return nil, errors.Wrap(err, "rebuilding with computed fees")
	}
	if len(final) != len(draft) {
		return nil, errors.Errorf("builder produced %d transactions "+
			"after a draft of %d", len(final), len(draft))
	}
	return final, nil
}
