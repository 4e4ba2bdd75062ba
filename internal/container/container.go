package container

import (
	"context"
	stderrors "errors"
	"fmt"

	"covbench/adapters/excel"
	"covbench/adapters/jsonfile"
	"covbench/adapters/postgres"
	"covbench/adapters/scoring"
	"covbench/app"
	"covbench/domain/covariance"
	"covbench/domain/run"
	"covbench/internal"
	"covbench/internal/baselines"
	"covbench/internal/config"
	"covbench/internal/errors"
	"covbench/internal/metrics"
	"covbench/internal/migration"
	"covbench/internal/rng"
	"covbench/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Results persistence
	Sink   ports.ResultsSink
	Reader ports.ResultsReader

	// Evaluation components
	Metrics *metrics.Recorder
	Scorer  ports.Scorer
	Streams *rng.Streams
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Container{
		Config:  cfg,
		Logger:  internal.NewLogger(internal.ParseLevel(cfg.Log.Level)),
		Metrics: metrics.NewRecorder(),
		Scorer:  scoring.NewNLL(),
		Streams: rng.New(cfg.Run.Seed),
	}, nil
}

// InitStorage opens the configured results sink. The JSON store doubles as the
// reader for file sinks; the workbook sink always writes the JSON document too.
func (c *Container) InitStorage(ctx context.Context) error {
	switch c.Config.Results.Sink {
	case config.SinkJSON:
		store := jsonfile.NewResultsStore(c.Config.Results.Dir)
		c.Sink, c.Reader = store, store
	case config.SinkXLSX:
		store := jsonfile.NewResultsStore(c.Config.Results.Dir)
		c.Sink = fanout{store, excel.NewResultsWorkbook(c.Config.Results.Dir)}
		c.Reader = store
	case config.SinkPostgres:
		db, err := c.OpenDatabase(ctx)
		if err != nil {
			return err
		}
		if err := migration.NewRunner().Run(ctx, db); err != nil {
			return errors.Wrap(err, "database migration failed")
		}
		repo := postgres.NewResultsRepository(db)
		c.Sink, c.Reader = repo, repo
	default:
		return errors.ConfigInvalid("unknown results sink " + c.Config.Results.Sink)
	}
	c.Logger.Info("Results sink: %s", c.Config.Results.Sink)
	return nil
}

// OpenDatabase connects to DATABASE_URL once and reuses the connection.
func (c *Container) OpenDatabase(ctx context.Context) (*sqlx.DB, error) {
	if c.DB != nil {
		return c.DB, nil
	}
	if c.Config.Database.URL == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.URL)
	if err != nil {
		return nil, errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to connect to database")
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	c.DB = db
	return db, nil
}

// Methods builds the baselines of an experiment. truth is required only when
// the experiment contains a GroundTruth method.
func (c *Container) Methods(exp *config.Experiment, truth covariance.Set) ([]app.Method, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	deps := baselines.Deps{
		Scorer:  c.Scorer,
		Streams: c.Streams,
		Metrics: c.Metrics,
		Logger:  c.Logger,
		Timeout: c.Config.Run.TrialTimeout,
		Truth:   truth,
	}

	methods := make([]app.Method, 0, len(exp.Methods))
	for _, spec := range exp.Methods {
		kind, err := baselines.ParseKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		opts, err := spec.Options()
		if err != nil {
			return nil, err
		}
		b, err := baselines.New(kind, opts, deps)
		if err != nil {
			return nil, errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, err), "failed to build %s", spec.DisplayName())
		}
		methods = append(methods, app.Method{Baseline: b, Grid: spec.ParamGrid()})
	}
	return methods, nil
}

// BenchmarkService returns a harness bound to the container's sink and metrics.
func (c *Container) BenchmarkService() *app.BenchmarkService {
	return app.NewBenchmarkService(c.Sink, c.Metrics, c.Logger, c.Config.Run.EvalIter)
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.Logger.Sync(); err != nil {
		c.Logger.Debug("logger sync: %v", err)
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return stderrors.Join(errs...)
}

// fanout saves to every sink in order and stops at the first failure.
type fanout []ports.ResultsSink

func (f fanout) Save(ctx context.Context, rec *run.Record) error {
	for _, s := range f {
		if err := s.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
