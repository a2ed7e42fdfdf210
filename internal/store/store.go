// Package store persists batch results and the admin rescue queue. Two
// backends are provided: SQLite for single-operator CLI use and Postgres
// for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

// Store is the persistence interface for batch runs and rescue entries.
type Store interface {
	// SaveBatch persists a batch result. Saving the same batch ID again
	// replaces the stored result.
	SaveBatch(ctx context.Context, batch *model.BatchResult) error
	GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.BatchResult, error)

	// EnqueueRescue queues headlines for admin review. Entries without an
	// ID get one assigned.
	EnqueueRescue(ctx context.Context, entries []model.RescueEntry) error
	ListRescue(ctx context.Context, status string) ([]model.RescueEntry, error)
	ResolveRescue(ctx context.Context, id string) error
	CountRescue(ctx context.Context, status string) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	CreatedAfter time.Time
	Limit        int
}
