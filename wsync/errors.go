// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wsync

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific SyncError.
const (
	// ErrNotRegistered indicates the wallet named by a sync request has
	// never been registered with the store, so there is no projection
	// to update.
	ErrNotRegistered ErrorCode = iota

	// ErrUnresolvable indicates the wallet's recorded sync tip, or a
	// link needed to move away from it, cannot be resolved against the
	// chain index.  The wallet cannot be synced until the index learns
	// about the missing data or the wallet is restored.
	ErrUnresolvable

	// ErrClassification indicates transaction classification failed,
	// for example because a mempool transaction set contains a
	// dependency cycle or a block's undo data does not line up with its
	// transactions.
	ErrClassification

	// ErrTransient indicates an environmental fault such as a database
	// error.  The operation may succeed if retried.
	ErrTransient
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrNotRegistered:  "ErrNotRegistered",
	ErrUnresolvable:   "ErrUnresolvable",
	ErrClassification: "ErrClassification",
	ErrTransient:      "ErrTransient",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// SyncError provides a single type for errors that can happen while
// syncing wallets against the chain index.
type SyncError struct {
	Code        ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e SyncError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e SyncError) Unwrap() error {
	return e.Err
}

// syncError creates a SyncError given a set of arguments.
func syncError(c ErrorCode, desc string, err error) SyncError {
	return SyncError{Code: c, Description: desc, Err: err}
}

// IsError returns whether the error is a SyncError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	serr, ok := err.(SyncError)
	return ok && serr.Code == code
}
