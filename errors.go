package lineup

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("lineup: no store configured")
	ErrStoreClosed = errors.New("lineup: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("lineup: job not found")

	// Conflict errors.
	ErrDuplicateJob = errors.New("lineup: job already exists")

	// State errors.
	ErrInvalidState = errors.New("lineup: invalid state transition")
	ErrStaleAttempt = errors.New("lineup: update for an attempt that is no longer active")

	// Configuration errors.
	ErrNoProcessor   = errors.New("lineup: no processor configured")
	ErrInvalidOption = errors.New("lineup: invalid option")
)
