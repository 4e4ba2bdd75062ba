// Package baselines wraps every covariance estimator family behind one
// select/evaluate contract.
package baselines

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"covbench/domain/covariance"
	"covbench/domain/dataset"
	"covbench/domain/params"
	"covbench/domain/score"
	"covbench/internal"
	"covbench/internal/selection"
	"covbench/ports"
)

// Baseline is one benchmarked method.
type Baseline interface {
	Name() string
	Kind() Kind
	// Stochastic reports whether repeated fits can differ.
	Stochastic() bool
	// Policy is the fault policy applied when a trial fails.
	Policy() selection.FaultPolicy
	// ValidateGrid checks a grid is usable before any fitting starts.
	ValidateGrid(grid params.Grid) error
	// Select grid-searches the configuration with the lowest validation NLL.
	Select(ctx context.Context, train, val dataset.Dataset, grid params.Grid) (score.Selection, error)
	// Evaluate fits on train and scores on test over nIter trials.
	Evaluate(ctx context.Context, train, test dataset.Dataset, cfg params.Config, nIter int, verbose bool) (score.Report, error)
	// Covariances fits once and returns the covariance set for the given trial.
	Covariances(ctx context.Context, train dataset.Dataset, cfg params.Config, trial int) (covariance.Set, error)
}

// fitFunc turns training buckets into one covariance per bucket.
type fitFunc func(ctx context.Context, train dataset.Dataset, cfg params.Config, rng *rand.Rand) (covariance.Set, error)

// protocol implements Baseline for every variant; variants differ only in
// their fit function and metadata.
type protocol struct {
	name       string
	kind       Kind
	stochastic bool
	noSelect   bool
	required   []string
	fit        fitFunc

	runner  selection.Runner
	scorer  ports.Scorer
	streams ports.RNGPort
	logger  *internal.Logger
}

func (p *protocol) Name() string                  { return p.name }
func (p *protocol) Kind() Kind                    { return p.kind }
func (p *protocol) Stochastic() bool              { return p.stochastic }
func (p *protocol) Policy() selection.FaultPolicy { return p.runner.Policy }

func (p *protocol) ValidateGrid(grid params.Grid) error {
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	if err := grid.Require(p.required...); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

func (p *protocol) Select(ctx context.Context, train, val dataset.Dataset, grid params.Grid) (score.Selection, error) {
	if p.noSelect {
		p.logger.Info("Empty model selection for %s", p.name)
		return score.Selection{BestScore: math.NaN(), BestParams: params.Empty()}, nil
	}
	p.logger.Info("Selecting the best parameter values for %s ...", p.name)
	return p.runner.Search(ctx, grid, func(ctx context.Context, cfg params.Config) (float64, error) {
		r, err := p.Evaluate(ctx, train, val, cfg, 1, false)
		if err != nil {
			return math.NaN(), err
		}
		return r.Mean, nil
	})
}

func (p *protocol) Evaluate(ctx context.Context, train, test dataset.Dataset, cfg params.Config, nIter int, verbose bool) (score.Report, error) {
	if verbose {
		p.logger.Info("Evaluating %s for %d iterations ...", p.name, nIter)
	}
	return p.runner.RunTrials(ctx, nIter, p.stochastic, func(ctx context.Context, trial int) (float64, error) {
		covs, err := p.Covariances(ctx, train, cfg, trial)
		if err != nil {
			return math.NaN(), err
		}
		if err := covs.Validate(test.Len(), test.Vars()); err != nil {
			return math.NaN(), err
		}
		return p.scorer.Score(test, covs), nil
	})
}

func (p *protocol) Covariances(ctx context.Context, train dataset.Dataset, cfg params.Config, trial int) (covariance.Set, error) {
	var rng *rand.Rand
	if p.stochastic {
		rng = p.streams.Stream(p.name, trial)
	}
	return p.fit(ctx, train, cfg, rng)
}

// perBucket fits est independently on every bucket.
func perBucket(est ports.Estimator) fitFunc {
	return func(ctx context.Context, train dataset.Dataset, cfg params.Config, rng *rand.Rand) (covariance.Set, error) {
		covs := make(covariance.Set, train.Len())
		for i := range covs {
			m, err := est.Fit(ctx, train.Bucket(i), cfg, rng)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: %w", i, err)
			}
			if covs[i], err = m.Covariance(); err != nil {
				return nil, fmt.Errorf("bucket %d: %w", i, err)
			}
		}
		return covs, nil
	}
}

// joint fits est across all buckets at once.
func joint(est ports.JointEstimator) fitFunc {
	return func(ctx context.Context, train dataset.Dataset, cfg params.Config, rng *rand.Rand) (covariance.Set, error) {
		models, err := est.FitJoint(ctx, train, cfg, rng)
		if err != nil {
			return nil, err
		}
		covs := make(covariance.Set, len(models))
		for i, m := range models {
			if covs[i], err = m.Covariance(); err != nil {
				return nil, fmt.Errorf("slice %d: %w", i, err)
			}
		}
		return covs, nil
	}
}

// fixed ignores the training data and returns known covariances.
func fixed(covs covariance.Set) fitFunc {
	return func(_ context.Context, train dataset.Dataset, _ params.Config, _ *rand.Rand) (covariance.Set, error) {
		if err := covs.Validate(train.Len(), train.Vars()); err != nil {
			return nil, fmt.Errorf("ground-truth covariances: %w", err)
		}
		return covs, nil
	}
}
