// Package selection implements the grid-search model selector and the
// repeated-trial evaluation protocol shared by every baseline.
package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/domain/score"
	"covbench/internal"
	apperrors "covbench/internal/errors"
	"covbench/ports"
)

// TrialFunc fits and scores once. trial is the zero-based trial index; it
// selects the random stream for stochastic fits.
type TrialFunc func(ctx context.Context, trial int) (float64, error)

// EvalFunc scores one candidate configuration on validation data. NaN marks
// the candidate invalid; an error aborts the search.
type EvalFunc func(ctx context.Context, cfg params.Config) (float64, error)

// Runner carries the per-method settings of the protocol.
type Runner struct {
	Method  string
	Policy  FaultPolicy
	Timeout time.Duration // per trial; 0 disables
	Metrics ports.MetricsRecorder
	Logger  *internal.Logger
}

func (r Runner) metrics() ports.MetricsRecorder {
	if r.Metrics == nil {
		return ports.NoopMetrics{}
	}
	return r.Metrics
}

func (r Runner) logger() *internal.Logger {
	if r.Logger == nil {
		return internal.DefaultLogger
	}
	return r.Logger
}

// Search evaluates every candidate of grid in enumeration order and keeps the
// one with the lowest score. The search starts from +Inf with the first
// candidate as fallback, replaces it only on strict improvement and never
// accepts NaN. A grid with an empty candidate list fails before any evaluation.
func (r Runner) Search(ctx context.Context, grid params.Grid, eval EvalFunc) (score.Selection, error) {
	candidates, err := grid.Candidates()
	if err != nil {
		return score.Selection{}, err
	}
	if len(candidates) == 0 {
		return score.Selection{}, core.ErrEmptyCandidates
	}
	r.metrics().ObserveSelection(r.Method, len(candidates))

	best := score.Selection{BestScore: math.Inf(1), BestParams: candidates[0]}
	for _, cfg := range candidates {
		if err := ctx.Err(); err != nil {
			return score.Selection{}, err
		}
		v, err := eval(ctx, cfg)
		if err != nil {
			return score.Selection{}, fmt.Errorf("candidate %s: %w", cfg, err)
		}
		best.Evaluated++
		r.logger().Debug("%s: candidate %s scored %g", r.Method, cfg, v)
		if !math.IsNaN(v) && v < best.BestScore {
			best.BestScore = v
			best.BestParams = cfg
		}
	}
	if !best.Improved() {
		r.logger().Warn("%s: no candidate produced a valid score, falling back to %s", r.Method, best.BestParams)
	}
	return best, nil
}

// RunTrials runs nIter trials of fn. Stochastic methods fit every trial;
// deterministic methods fit once and replicate that score bit-identically.
// A failing trial ends the evaluation: under FaultRecover the result is an
// all-NaN report, under FaultPropagate the error is returned. Cancellation of
// ctx itself is always returned.
func (r Runner) RunTrials(ctx context.Context, nIter int, stochastic bool, fn TrialFunc) (score.Report, error) {
	if nIter < 1 {
		return score.Report{}, core.ErrInvalidTrials
	}
	fits := 1
	if stochastic {
		fits = nIter
	}

	scores := make([]float64, 0, fits)
	for i := 0; i < fits; i++ {
		t := r.runTrial(ctx, i, fn)
		if t.Err != nil {
			if ctx.Err() != nil {
				return score.Report{}, ctx.Err()
			}
			if r.Policy == FaultPropagate {
				return score.Report{}, fmt.Errorf("%s trial %d: %w", r.Method, i, t.Err)
			}
			r.logger().Warn("%s: trial %d failed, reporting NaN: %v", r.Method, i, t.Err)
			return score.Invalid(nIter), nil
		}
		scores = append(scores, t.Score)
	}

	if !stochastic {
		return score.Replicate(scores[0], nIter)
	}
	return score.FromScores(scores)
}

func (r Runner) runTrial(ctx context.Context, i int, fn TrialFunc) score.Trial {
	tctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(tctx, i)
	elapsed := time.Since(start)
	if err == nil && tctx.Err() != nil {
		err = tctx.Err()
	}
	r.metrics().ObserveTrial(r.Method, elapsed, err == nil)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperrors.Timeout(fmt.Sprintf("trial exceeded %s", r.Timeout), err)
		}
		return score.Failed(err)
	}
	return score.Scored(v)
}
