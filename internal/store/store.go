// Package store implements the persistence layer: two structurally different
// backends (SQLite via GORM and BadgerDB) behind common adapter interfaces,
// and a replicated facade that fans every operation out across all configured
// backends.
//
// Error semantics:
//   - A missing record surfaces as ErrNotFound regardless of backend.
//   - A duplicate user name on create surfaces as ErrDuplicateName.
//   - Backend-specific errors (I/O, constraint, connectivity) propagate raw;
//     the replicated layer decides whether they are visible to callers.
package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist in the
	// queried backend.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateName is returned when a user create collides with an
	// existing name in the queried backend.
	ErrDuplicateName = errors.New("user name already in use")
)
