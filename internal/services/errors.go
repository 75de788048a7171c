// Package services defines the business logic for registration, login, and
// pending-message retrieval. This file centralizes service-level error
// values so they can be consistently returned by service methods and mapped
// to HTTP statuses at the handler layer.
package services

import "errors"

var (
	// ErrNameTaken is returned when registration collides with an existing
	// user name in at least one backend.
	ErrNameTaken = errors.New("user name already taken")

	// ErrUserNotFound indicates that the requested user does not exist in
	// any backend.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned when a login password does not
	// match the stored hash.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmptyName is returned when a registration name is blank after
	// normalization.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrNameTooLong is returned when a registration name exceeds the
	// configured rune limit.
	ErrNameTooLong = errors.New("name too long")

	// ErrEmptyPassword is returned when a registration password is blank.
	ErrEmptyPassword = errors.New("password must not be empty")
)
