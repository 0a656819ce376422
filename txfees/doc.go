// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package txfees prices transactions under a linear fee policy and runs the
two-pass protocol for building transaction sets whose embedded fees match
their real cost.

A builder cannot know a transaction's fee before the transaction exists,
and the fee depends on the transaction's size.  The two-pass protocol cuts
the knot for builders whose transaction shapes do not depend on the fee
values: build once with zero fees, price every draft transaction under the
policy, and build again drawing the computed fees.
*/
package txfees
