package job

import (
	"context"

	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// Tx extends the ledger unit of work with job rows, so a deduction and the
// status flip that caused it commit together.
type Tx interface {
	ledger.Tx

	// LockJob returns the job locked for update, or ErrJobNotFound.
	LockJob(ctx context.Context, id uuid.UUID) (*Job, error)
	InsertJob(ctx context.Context, j *Job) error
	UpdateJob(ctx context.Context, j *Job) error
}

// Store is the persistence boundary of the job coordinator.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, f Filter) ([]Job, error)
	CountJobs(ctx context.Context, f Filter) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
