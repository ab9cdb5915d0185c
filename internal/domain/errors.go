package domain

import "errors"

// Sentinel errors shared by the review pipeline.
// Use errors.Is to check: errors.Is(err, domain.ErrNotFound)
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrTransientIO          = errors.New("transient i/o failure")
	ErrPermanentSyncFailure = errors.New("review sync retries exhausted")
)
