// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wsync drives wallet projections toward the chain index tip.

The Syncer compares each wallet's persisted sync tip against the index,
fast-forwards far-behind wallets outside the chain lock, then finishes
the remaining distance under the lock by applying forward links or
rolling back orphaned blocks.  Faults never leave a wallet partially
updated: every batch of folded block modifiers commits atomically, and
the next run resumes from whatever tip the last commit recorded.

Beyond tip tracking the package restores wallets from scratch, applies
and rolls back single blocks on behalf of a chain follower, classifies
mempool transactions in dependency order, and resubmits pending wallet
transactions that the chain has not confirmed yet.
*/
package wsync
