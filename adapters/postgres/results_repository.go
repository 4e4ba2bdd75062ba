package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"covbench/domain/core"
	"covbench/domain/run"
	"covbench/ports"

	"github.com/jmoiron/sqlx"
)

// runRow mirrors benchmark_runs.
type runRow struct {
	RunID       string       `db:"run_id"`
	Experiment  string       `db:"experiment"`
	DataType    string       `db:"data_type"`
	Buckets     int          `db:"nt"`
	Vars        int          `db:"nv"`
	TrainCnt    int          `db:"train_cnt"`
	ValCnt      int          `db:"val_cnt"`
	TestCnt     int          `db:"test_cnt"`
	Seed        int64        `db:"seed"`
	EvalIter    int          `db:"eval_iter"`
	Fingerprint string       `db:"fingerprint"`
	Manifest    JSONB        `db:"manifest"`
	StartedAt   time.Time    `db:"started_at"`
	FinishedAt  sql.NullTime `db:"finished_at"`
}

// resultRow mirrors method_results. Score columns are NULL when not finite;
// the JSON result keeps the exact values.
type resultRow struct {
	RunID        string          `db:"run_id"`
	Method       string          `db:"method"`
	Kind         string          `db:"kind"`
	TestMean     sql.NullFloat64 `db:"test_mean"`
	TestStd      sql.NullFloat64 `db:"test_std"`
	BestValScore sql.NullFloat64 `db:"best_val_score"`
	Result       JSONB           `db:"result"`
}

// JSONB is raw JSON stored in a PostgreSQL JSONB column
type JSONB []byte

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
	return nil
}

// ResultsRepository implements ports.ResultsStore for PostgreSQL
type ResultsRepository struct {
	db *sqlx.DB
}

// NewResultsRepository creates a new PostgreSQL results repository
func NewResultsRepository(db *sqlx.DB) *ResultsRepository {
	return &ResultsRepository{db: db}
}

// Save upserts the run and replaces its method results in one transaction.
func (r *ResultsRepository) Save(ctx context.Context, rec *run.Record) error {
	runRec, results, err := toRows(rec)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO benchmark_runs (run_id, experiment, data_type, nt, nv, train_cnt, val_cnt, test_cnt, seed, eval_iter, fingerprint, manifest, started_at, finished_at)
		VALUES (:run_id, :experiment, :data_type, :nt, :nv, :train_cnt, :val_cnt, :test_cnt, :seed, :eval_iter, :fingerprint, :manifest, :started_at, :finished_at)
		ON CONFLICT (run_id) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			finished_at = EXCLUDED.finished_at,
			updated_at = NOW()
	`, runRec)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM method_results WHERE run_id = $1`, runRec.RunID); err != nil {
		return fmt.Errorf("failed to clear method results: %w", err)
	}
	for _, row := range results {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO method_results (run_id, method, kind, test_mean, test_std, best_val_score, result)
			VALUES (:run_id, :method, :kind, :test_mean, :test_std, :best_val_score, :result)
		`, row)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", row.Method, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns run manifests, newest first
func (r *ResultsRepository) ListRuns(ctx context.Context, limit int) ([]run.Manifest, error) {
	query := `
		SELECT run_id, experiment, data_type, nt, nv, train_cnt, val_cnt, test_cnt, seed, eval_iter, fingerprint, manifest, started_at, finished_at
		FROM benchmark_runs
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	manifests := make([]run.Manifest, 0, len(rows))
	for _, row := range rows {
		m, err := row.manifest()
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// GetRun retrieves a run and its method results
func (r *ResultsRepository) GetRun(ctx context.Context, runID core.RunID) (*run.Record, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT run_id, experiment, data_type, nt, nv, train_cnt, val_cnt, test_cnt, seed, eval_iter, fingerprint, manifest, started_at, finished_at
		FROM benchmark_runs
		WHERE run_id = $1
	`, runID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("run", runID.String())
	}
	if err != nil {
		return nil, err
	}

	var results []resultRow
	err = r.db.SelectContext(ctx, &results, `
		SELECT run_id, method, kind, test_mean, test_std, best_val_score, result
		FROM method_results
		WHERE run_id = $1
		ORDER BY method
	`, runID.String())
	if err != nil {
		return nil, err
	}
	return fromRows(row, results)
}

func toRows(rec *run.Record) (runRow, []resultRow, error) {
	m := rec.Manifest
	manifest, err := json.Marshal(m)
	if err != nil {
		return runRow{}, nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	row := runRow{
		RunID:       m.RunID.String(),
		Experiment:  m.Experiment,
		DataType:    m.DataType,
		Buckets:     m.Buckets,
		Vars:        m.Vars,
		TrainCnt:    m.TrainCnt,
		ValCnt:      m.ValCnt,
		TestCnt:     m.TestCnt,
		Seed:        m.Seed,
		EvalIter:    m.EvalIter,
		Fingerprint: m.Fingerprint.Fingerprint.String(),
		Manifest:    manifest,
		StartedAt:   m.StartedAt.Time(),
	}
	if !m.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullTime{Time: m.FinishedAt.Time(), Valid: true}
	}

	results := make([]resultRow, 0, len(rec.Results))
	for _, name := range rec.Methods() {
		res := rec.Results[name]
		data, err := json.Marshal(res)
		if err != nil {
			return runRow{}, nil, fmt.Errorf("failed to marshal result for %s: %w", name, err)
		}
		results = append(results, resultRow{
			RunID:        row.RunID,
			Method:       name,
			Kind:         res.Kind,
			TestMean:     finite(res.TestScore.Mean),
			TestStd:      finite(res.TestScore.Std),
			BestValScore: finite(res.BestValScore),
			Result:       data,
		})
	}
	return row, results, nil
}

func fromRows(row runRow, results []resultRow) (*run.Record, error) {
	m, err := row.manifest()
	if err != nil {
		return nil, err
	}
	rec := run.NewRecord(m)
	for _, res := range results {
		var mr run.MethodResult
		if err := json.Unmarshal(res.Result, &mr); err != nil {
			return nil, fmt.Errorf("failed to parse result for %s: %w", res.Method, err)
		}
		rec.Put(res.Method, mr)
	}
	return rec, nil
}

func (row runRow) manifest() (run.Manifest, error) {
	var m run.Manifest
	if err := json.Unmarshal(row.Manifest, &m); err != nil {
		return run.Manifest{}, fmt.Errorf("failed to parse manifest of run %s: %w", row.RunID, err)
	}
	return m, nil
}

func finite(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

var _ ports.ResultsStore = (*ResultsRepository)(nil)
