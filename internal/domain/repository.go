package domain

import "context"

// JobStore is the durable record of every job. Implementations serialize
// concurrent mutations internally; single-writer discipline is assumed within
// one process and cross-process locking is out of scope.
type JobStore interface {
	// Create persists a new job before returning. An empty ID is assigned;
	// status is forced to pending and timestamps are set.
	Create(ctx context.Context, job *Job) error
	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Update merges the patch into the stored job and bumps UpdatedAt. An
	// unknown id is a silent no-op.
	Update(ctx context.Context, id string, patch JobPatch) error
	// Recent returns up to n jobs, most recently created first.
	Recent(ctx context.Context, n int) ([]*Job, error)
	// FindCached returns the most recently created cache-eligible job for
	// the given type and key, or nil when there is none.
	FindCached(ctx context.Context, jobType JobType, cacheKey string) (*Job, error)
	// Stats aggregates the stored job population.
	Stats(ctx context.Context) (*Stats, error)
	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
