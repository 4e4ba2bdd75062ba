package migration

import (
	"context"

	"covbench/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// Step is one idempotent schema statement.
type Step struct {
	Name string
	SQL  string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
	steps   []Step
}

// NewRunner creates a new migration runner for the results schema
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
		steps:   resultsSchema,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Steps returns the statements Run executes, in order.
func (r *MigrationRunner) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	for _, step := range r.steps {
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			return errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "failed to %s", step.Name)
		}
	}
	return nil
}

var resultsSchema = []Step{
	{
		Name: "create benchmark_runs table",
		SQL: `
		CREATE TABLE IF NOT EXISTS benchmark_runs (
			run_id TEXT PRIMARY KEY,
			experiment TEXT NOT NULL,
			data_type TEXT NOT NULL DEFAULT '',
			nt INTEGER NOT NULL,
			nv INTEGER NOT NULL,
			train_cnt INTEGER NOT NULL DEFAULT 0,
			val_cnt INTEGER NOT NULL DEFAULT 0,
			test_cnt INTEGER NOT NULL DEFAULT 0,
			seed BIGINT NOT NULL DEFAULT 0,
			eval_iter INTEGER NOT NULL,
			fingerprint TEXT NOT NULL,
			manifest JSONB NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			finished_at TIMESTAMP WITH TIME ZONE,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	},
	{
		Name: "create method_results table",
		SQL: `
		CREATE TABLE IF NOT EXISTS method_results (
			run_id TEXT NOT NULL REFERENCES benchmark_runs(run_id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			kind TEXT NOT NULL,
			test_mean DOUBLE PRECISION,
			test_std DOUBLE PRECISION,
			best_val_score DOUBLE PRECISION,
			result JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (run_id, method)
		)`,
	},
	{
		Name: "create benchmark_runs indexes",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_benchmark_runs_started_at ON benchmark_runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_benchmark_runs_experiment ON benchmark_runs(experiment);
		CREATE INDEX IF NOT EXISTS idx_benchmark_runs_fingerprint ON benchmark_runs(fingerprint)`,
	},
	{
		Name: "create method_results indexes",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_method_results_kind ON method_results(kind);
		CREATE INDEX IF NOT EXISTS idx_method_results_test_mean ON method_results(run_id, test_mean)`,
	},
}
