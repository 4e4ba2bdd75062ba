package ports

import (
	"context"

	"covbench/domain/core"
	"covbench/domain/run"
)

// ResultsSink persists the results record of a run. Save is called after every
// method, each time with the complete record so far.
type ResultsSink interface {
	Save(ctx context.Context, rec *run.Record) error
}

// ResultsReader provides read-only access to stored runs.
type ResultsReader interface {
	ListRuns(ctx context.Context, limit int) ([]run.Manifest, error)
	GetRun(ctx context.Context, runID core.RunID) (*run.Record, error)
}

// ResultsStore combines read and write access.
type ResultsStore interface {
	ResultsSink
	ResultsReader
}
