// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wstore persists per-wallet ledger projections.

Each registered wallet owns a family of nested buckets inside the package
namespace: the ordered address index, used and change address markers,
the unspent output set, the transaction history, tracked pending
transactions, and the wallet's sync tip.  All mutation flows through
CommitApply and CommitRollback, which replay a wmod.AccModifier inside a
single database transaction with the sync tip written last.
*/
package wstore
