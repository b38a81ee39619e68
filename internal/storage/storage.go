// Package storage holds the sentinel errors every store implementation
// returns, so engine packages can translate them without knowing the backend.
package storage

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrCodeTaken is returned when an insert or update collides with an
	// existing invite code.
	ErrCodeTaken = errors.New("storage: invite code already taken")
)
