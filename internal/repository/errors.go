package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicateEmail is returned when an insert violates the unique
	// constraint on the email column.
	ErrDuplicateEmail = errors.New("repository: email already registered")
)
