// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the StoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the database is
	// incorrect.  This may be due to missing values or wrong lengths
	// and generally indicates corruption.
	ErrData

	// ErrNeedsUpgrade indicates the store was created at an older
	// version and must be upgraded before use.
	ErrNeedsUpgrade

	// ErrWalletNotFound indicates that the requested wallet has never
	// been registered with the store.
	ErrWalletNotFound

	// ErrNoSyncTip indicates that a registered wallet has no recorded
	// sync tip yet and must be seeded from the genesis allocation.
	ErrNoSyncTip

	// ErrTipMismatch indicates that a commit named a sync tip that does
	// not match the wallet's currently recorded tip, meaning the caller
	// acted on stale state.
	ErrTipMismatch
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:       "ErrDatabase",
	ErrData:           "ErrData",
	ErrNeedsUpgrade:   "ErrNeedsUpgrade",
	ErrWalletNotFound: "ErrWalletNotFound",
	ErrNoSyncTip:      "ErrNoSyncTip",
	ErrTipMismatch:    "ErrTipMismatch",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single type for errors that can happen during
// store operation.
type StoreError struct {
	Code        ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{Code: c, Description: desc, Err: err}
}

// IsError returns whether the error is a StoreError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	serr, ok := err.(StoreError)
	return ok && serr.Code == code
}
