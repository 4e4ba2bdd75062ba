package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"covbench/domain/core"
	"covbench/domain/dataset"
	"covbench/domain/params"
	"covbench/domain/run"
	"covbench/internal"
	"covbench/internal/baselines"
	apperrors "covbench/internal/errors"
	"covbench/ports"
)

// CodeVersion is recorded in every run fingerprint.
const CodeVersion = "1.0.0"

// Method pairs a baseline with the grid its selection searches.
type Method struct {
	Baseline baselines.Baseline
	Grid     params.Grid
}

// RunRequest describes one benchmark run.
type RunRequest struct {
	Manifest run.Manifest // RunID, StartedAt and Fingerprint are filled in when empty
	Parts    dataset.Partitions
	Methods  []Method
}

// BenchmarkService runs methods sequentially over one set of partitions and
// persists the results record after every completed method.
type BenchmarkService struct {
	sink     ports.ResultsSink
	metrics  ports.MetricsRecorder
	logger   *internal.Logger
	evalIter int
}

// NewBenchmarkService creates a new benchmark service
func NewBenchmarkService(sink ports.ResultsSink, metrics ports.MetricsRecorder, logger *internal.Logger, evalIter int) *BenchmarkService {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &BenchmarkService{
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		evalIter: evalIter,
	}
}

// ValidateMethods checks the whole method list up front: names must be unique
// and every grid must be usable by its baseline. All problems are reported.
func (s *BenchmarkService) ValidateMethods(methods []Method) error {
	if len(methods) == 0 {
		return apperrors.ConfigInvalid("no methods to run")
	}
	seen := make(map[string]bool, len(methods))
	var errs []error
	for _, m := range methods {
		name := m.Baseline.Name()
		if seen[name] {
			errs = append(errs, fmt.Errorf("%w: %s", core.ErrDuplicateMethod, name))
		}
		seen[name] = true
		if err := m.Baseline.ValidateGrid(m.Grid); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	return nil
}

// Run validates the request, then selects and evaluates every method in order.
// A method whose selection or evaluation fails is logged and left out of the
// record; the run continues with the next method. Cancellation stops the run
// and returns the partial record.
func (s *BenchmarkService) Run(ctx context.Context, req RunRequest) (*run.Record, error) {
	if s.evalIter < 1 {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, core.ErrInvalidTrials)
	}
	if err := req.Parts.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeDataInvalid, err)
	}
	if err := s.ValidateMethods(req.Methods); err != nil {
		return nil, err
	}

	rec := run.NewRecord(s.manifest(req))
	if err := rec.Manifest.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	s.logger.Info("Starting run %s (%s, %d methods, fingerprint %s)",
		rec.Manifest.RunID, rec.Manifest.Experiment, len(req.Methods), rec.Manifest.Fingerprint.Fingerprint.Short())

	for _, m := range req.Methods {
		name := m.Baseline.Name()
		start := time.Now()

		res, err := s.runMethod(ctx, req.Parts, m)
		if err != nil {
			if ctx.Err() != nil {
				return rec, apperrors.Wrapf(ctx.Err(), "run cancelled during %s", name)
			}
			s.metrics.MethodFailed(name)
			s.logger.Error("Could not run method %s, exception with message %v [%s]", name, err, apperrors.Classify(err))
			continue
		}

		rec.Put(name, res)
		s.metrics.MethodCompleted(name)
		s.logger.Info("%s: test mean %g (std %g), best params %s, %.2fs",
			name, res.TestScore.Mean, res.TestScore.Std, res.BestParams, time.Since(start).Seconds())

		if err := s.sink.Save(ctx, rec); err != nil {
			s.logger.Error("Failed to save results after %s: %v", name, err)
		}
	}

	rec.Manifest.FinishedAt = core.Now()
	if err := s.sink.Save(ctx, rec); err != nil {
		return rec, apperrors.Wrap(apperrors.WithCode(apperrors.CodeDatabaseError, err), "failed to save final results")
	}
	s.logger.Info("Run %s finished: %d of %d methods completed", rec.Manifest.RunID, len(rec.Results), len(req.Methods))
	return rec, nil
}

func (s *BenchmarkService) runMethod(ctx context.Context, parts dataset.Partitions, m Method) (run.MethodResult, error) {
	sel, err := m.Baseline.Select(ctx, parts.Train, parts.Val, m.Grid)
	if err != nil {
		return run.MethodResult{}, fmt.Errorf("selection: %w", err)
	}
	report, err := m.Baseline.Evaluate(ctx, parts.Train, parts.Test, sel.BestParams, s.evalIter, true)
	if err != nil {
		return run.MethodResult{}, fmt.Errorf("evaluation: %w", err)
	}
	return run.MethodResult{
		Kind:         string(m.Baseline.Kind()),
		TestScore:    report,
		BestParams:   sel.BestParams,
		BestValScore: sel.BestScore,
	}, nil
}

func (s *BenchmarkService) manifest(req RunRequest) run.Manifest {
	m := req.Manifest
	if m.RunID.IsEmpty() {
		m.RunID = core.NewRunID()
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = core.Now()
	}
	m.Buckets = req.Parts.Test.Len()
	m.Vars = req.Parts.Test.Vars()
	m.EvalIter = s.evalIter
	if m.Fingerprint.Fingerprint.IsEmpty() {
		m.Fingerprint = run.NewFingerprint(m.Experiment, MethodsHash(req.Methods), dataShape(m), m.Seed, m.EvalIter, CodeVersion)
	}
	return m
}

// MethodsHash fingerprints the method list: names, kinds, fault policies and grids.
func MethodsHash(methods []Method) core.Hash {
	fields := make(map[string]interface{}, len(methods))
	for i, m := range methods {
		key := fmt.Sprintf("%03d:%s", i, m.Baseline.Name())
		fields[key] = fmt.Sprintf("%s|%s|%v", m.Baseline.Kind(), m.Baseline.Policy(), map[string]interface{}(m.Grid))
	}
	return core.ComputeFingerprint(fields)
}

func dataShape(m run.Manifest) string {
	return fmt.Sprintf("nt=%d,nv=%d,train=%d,val=%d,test=%d", m.Buckets, m.Vars, m.TrainCnt, m.ValCnt, m.TestCnt)
}
