// Package storage defines the error contract shared by the concrete
// store implementations in its subpackages.
package storage

import "errors"

var (
	// ErrNotFound is returned when no account exists for an identity.
	ErrNotFound = errors.New("account not found")

	// ErrStaleBalance is returned by CommitTransfer when an account's
	// balance no longer matches the expected pre-balance. Nothing was
	// written; the caller should re-read and retry.
	ErrStaleBalance = errors.New("balance changed since it was read")
)
