package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrOwnershipMismatch = errors.New("resource not held by agent")
	ErrCycleDetected     = errors.New("dependency graph contains a cycle")
)
