package storage

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidContact = errors.New("contact name and phone are required")
	ErrNotPending     = errors.New("task is no longer pending")
)
