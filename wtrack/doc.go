// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wtrack classifies chain transactions against a wallet's address
// book and folds them into delta modifiers.  Apply walks transactions in
// chain order and records their wallet-relevant effects; Rollback is its
// structural inverse, reconstructing spent outputs from undo data rather
// than store lookups.  Neither touches persistent state; committing the
// resulting modifier is the store's concern.
package wtrack
