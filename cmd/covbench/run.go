package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"covbench/adapters/excel"
	"covbench/app"
	"covbench/domain/covariance"
	"covbench/domain/dataset"
	"covbench/domain/run"
	"covbench/internal/api"
	"covbench/internal/config"
	"covbench/internal/container"
	"covbench/internal/report"
	"covbench/internal/testkit"
	"covbench/ports"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const syntheticPrefix = "syn_"

type runOptions struct {
	dataType   string
	file       string
	sheet      string
	dateColumn string
	nt, nv     int
	trainCnt   int
	valCnt     int
	testCnt    int
	prefix     string
	startDate  string
	endDate    string
	stride     int
	logReturns bool
	hidden     int
	snr        float64
	experiment string
	evalIter   int
	seed       int64
	sink       string
	resultsDir string
	timeout    time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Select and evaluate every method of an experiment",
		Long: `Load train/validation/test buckets, then for each method run grid-search
selection on the validation data and evaluate the selected configuration on the
test data. The results record is saved after every method.

Data types starting with "syn_" generate Gaussian latent factor data with known
covariances; anything else is read from --file (xlsx or csv).

Example: covbench run --data-type stock_day --file prices.xlsx --nt 10 --nv 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(func(cfg *config.Config) {
				if cmd.Flags().Changed("eval-iter") {
					cfg.Run.EvalIter = opts.evalIter
				}
				if cmd.Flags().Changed("seed") {
					cfg.Run.Seed = opts.seed
				}
				if cmd.Flags().Changed("timeout") {
					cfg.Run.TrialTimeout = opts.timeout
				}
				if opts.sink != "" {
					cfg.Results.Sink = strings.ToLower(opts.sink)
				}
				if opts.resultsDir != "" {
					cfg.Results.Dir = opts.resultsDir
				}
			})
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			return runBenchmark(cmd.Context(), c, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dataType, "data-type", "syn_nglf_buckets", "Data set name; syn_* generates synthetic data")
	f.StringVar(&opts.file, "file", "", "xlsx or csv price/return sheet for non-synthetic data")
	f.StringVar(&opts.sheet, "sheet", "", "Worksheet name (default: first sheet)")
	f.StringVar(&opts.dateColumn, "date-column", "", "Date column header (default: first column)")
	f.IntVar(&opts.nt, "nt", 10, "Number of buckets")
	f.IntVar(&opts.nv, "nv", 32, "Number of variables")
	f.IntVar(&opts.trainCnt, "train-cnt", 16, "Train samples per bucket")
	f.IntVar(&opts.valCnt, "val-cnt", 16, "Validation samples per bucket")
	f.IntVar(&opts.testCnt, "test-cnt", 100, "Test samples per bucket")
	f.StringVar(&opts.prefix, "prefix", "", "Optional prefix of the experiment name")
	f.StringVar(&opts.startDate, "start-date", "2000-01-01", "First date to use (inclusive)")
	f.StringVar(&opts.endDate, "end-date", "2018-01-01", "Last date to use (exclusive)")
	f.IntVar(&opts.stride, "stride", 0, "Rows between bucket starts (0: non-overlapping windows)")
	f.BoolVar(&opts.logReturns, "log-returns", true, "Convert prices to log returns")
	f.IntVar(&opts.hidden, "hidden", 0, "Latent factors of synthetic data (default 4)")
	f.Float64Var(&opts.snr, "snr", 0, "Signal-to-noise ratio of synthetic data (default 5)")
	f.StringVar(&opts.experiment, "experiment", "", "YAML experiment file (default: built-in method list)")
	f.IntVar(&opts.evalIter, "eval-iter", 5, "Evaluation trials per method (overrides EVAL_ITER)")
	f.Int64Var(&opts.seed, "seed", 42, "Random seed (overrides SEED)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Per-trial timeout, 0 disables (overrides TRIAL_TIMEOUT)")
	f.StringVar(&opts.sink, "sink", "", "Results sink: json, xlsx or postgres (overrides RESULTS_SINK)")
	f.StringVar(&opts.resultsDir, "results-dir", "", "Directory of file sinks (overrides RESULTS_DIR)")

	return cmd
}

func runBenchmark(ctx context.Context, c *container.Container, opts runOptions) error {
	req, err := opts.loadRequest(c.Config.Run.Seed)
	if err != nil {
		return err
	}

	parts, truth, err := loadData(ctx, c, opts, req)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	c.Logger.Info("train shape: %s", shape(parts.Train))
	c.Logger.Info("val   shape: %s", shape(parts.Val))
	c.Logger.Info("test  shape: %s", shape(parts.Test))

	exp := config.DefaultExperiment(truth != nil)
	if opts.experiment != "" {
		if exp, err = config.LoadExperiment(opts.experiment); err != nil {
			return err
		}
	}
	methods, err := c.Methods(exp, truth)
	if err != nil {
		return err
	}

	if err := c.InitStorage(ctx); err != nil {
		return err
	}
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	var g errgroup.Group
	if addr := c.Config.Server.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(metricsCtx, c, addr) })
	}

	name := run.ExperimentName(opts.prefix, opts.dataType, opts.nt, opts.nv, opts.trainCnt, opts.valCnt, opts.testCnt)
	rec, err := c.BenchmarkService().Run(ctx, newRunRequest(name, opts, c.Config.Run.Seed, parts, methods))
	stopMetrics()
	if werr := g.Wait(); werr != nil {
		c.Logger.Warn("Metrics server stopped: %v", werr)
	}
	if err != nil {
		return err
	}

	fmt.Println(report.Markdown(rec))
	c.Logger.Info("Results are saved for %s (run %s)", name, rec.Manifest.RunID)
	return nil
}

func (o runOptions) loadRequest(seed int64) (ports.LoadRequest, error) {
	req := ports.LoadRequest{
		Source:     o.file,
		Sheet:      o.sheet,
		Buckets:    o.nt,
		Vars:       o.nv,
		TrainCnt:   o.trainCnt,
		ValCnt:     o.valCnt,
		TestCnt:    o.testCnt,
		Stride:     o.stride,
		LogReturns: o.logReturns,
		Seed:       seed,
	}
	var err error
	if o.startDate != "" {
		if req.StartDate, err = time.Parse("2006-01-02", o.startDate); err != nil {
			return req, fmt.Errorf("invalid --start-date (use YYYY-MM-DD): %w", err)
		}
	}
	if o.endDate != "" {
		if req.EndDate, err = time.Parse("2006-01-02", o.endDate); err != nil {
			return req, fmt.Errorf("invalid --end-date (use YYYY-MM-DD): %w", err)
		}
	}
	return req, nil
}

// loadData returns the partitions and, for synthetic data, the generating
// covariances.
func loadData(ctx context.Context, c *container.Container, opts runOptions, req ports.LoadRequest) (dataset.Partitions, covariance.Set, error) {
	if strings.HasPrefix(opts.dataType, syntheticPrefix) && opts.file == "" {
		loader := &testkit.NGLFLoader{Hidden: opts.hidden, SNR: opts.snr}
		parts, err := loader.Load(ctx, req)
		if err != nil {
			return dataset.Partitions{}, nil, err
		}
		return parts, loader.Truth(), nil
	}
	if opts.file == "" {
		return dataset.Partitions{}, nil, errors.New("--file is required for data type " + opts.dataType)
	}

	cfg := excel.DefaultLoaderConfig()
	cfg.DateColumn = opts.dateColumn
	parts, err := excel.NewLoader(cfg, c.Logger).Load(ctx, req)
	return parts, nil, err
}

func newRunRequest(name string, opts runOptions, seed int64, parts dataset.Partitions, methods []app.Method) app.RunRequest {
	return app.RunRequest{
		Manifest: run.Manifest{
			Experiment: name,
			DataType:   opts.dataType,
			TrainCnt:   opts.trainCnt,
			ValCnt:     opts.valCnt,
			TestCnt:    opts.testCnt,
			Seed:       seed,
		},
		Parts:   parts,
		Methods: methods,
	}
}

func shape(d dataset.Dataset) string {
	if d.Len() == 0 {
		return "(0)"
	}
	return fmt.Sprintf("(%d, %d, %d)", d.Len(), d.Samples(0), d.Vars())
}

func serve(ctx context.Context, c *container.Container) error {
	if err := c.InitStorage(ctx); err != nil {
		return err
	}
	server := api.NewServer(c.Reader, c.Metrics.Handler(), c.Logger)
	return server.Run(ctx, ":"+c.Config.Server.Port)
}

func serveMetrics(ctx context.Context, c *container.Container, addr string) error {
	srv := &http.Server{Addr: addr, Handler: c.Metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
	c.Logger.Info("Serving metrics on %s", addr)
	return api.Serve(ctx, srv)
}
