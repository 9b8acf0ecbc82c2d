package store

import (
	"context"

	"github.com/xraph/lineup/job"
)

// Store is the aggregate persistence interface. A backend implements the
// job contract plus connection lifecycle.
type Store interface {
	job.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
