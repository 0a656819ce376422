// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the chain model the wallet projection is built
// against: headers ordered by cumulative difficulty, blocks paired with the
// undo data needed for rollback, and the Index and Lock collaborator
// interfaces the sync engine consumes.  MemIndex is a complete in-memory
// implementation of both, used as the simulation and testing backend.
package chain
