// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wmod implements the delta algebra used to describe incremental
// changes to a wallet's ledger projection.  Changes are never applied to the
// backing store directly; instead each synchronization step folds per-block
// effects into an accumulated modifier which is committed atomically once the
// step completes.  Modifiers compose associatively, so partial results from
// multiple blocks can be merged before a single commit, and every apply has a
// structurally symmetric rollback.
package wmod
