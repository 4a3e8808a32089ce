package store

import (
	"context"
	"time"

	"github.com/promptlane/promptlane/internal/engine"
)

// RunWriter defines persistence for finalized test runs.
type RunWriter interface {
	SaveRun(ctx context.Context, run *engine.TestRun) error
}

// RunReader defines read access to run history.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*engine.TestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.TestRun, error)
	SuiteHistory(ctx context.Context, suiteName string, limit int) ([]*engine.TestRun, error)
}

// Store defines persistence for test runs.
type Store interface {
	RunWriter
	RunReader
	Close() error
}

// RunFilter filters run listings. Listings return run metadata and
// summaries only; per-case results are loaded via GetRun.
type RunFilter struct {
	SuiteName string
	Status    string
	Since     time.Time
	Until     time.Time
	Limit     int
}
