package baselines

import (
	"fmt"
	"sort"
	"time"

	"covbench/adapters/estimators"
	"covbench/domain/core"
	"covbench/domain/covariance"
	"covbench/internal"
	"covbench/internal/selection"
	"covbench/ports"
)

// Kind names an estimator family.
type Kind string

const (
	KindGroundTruth           Kind = "GroundTruth"
	KindDiagonal              Kind = "Diagonal"
	KindLedoitWolf            Kind = "LedoitWolf"
	KindOAS                   Kind = "OAS"
	KindPCA                   Kind = "PCA"
	KindFactorAnalysis        Kind = "FactorAnalysis"
	KindGraphLasso            Kind = "GraphLasso"
	KindLinearCorex           Kind = "LinearCorex"
	KindTimeVaryingCorex      Kind = "TimeVaryingCorex"
	KindTimeVaryingGraphLasso Kind = "TimeVaryingGraphLasso"
	KindSparsePCA             Kind = "SparsePCA"
	KindQUIC                  Kind = "QUIC"
	KindBigQUIC               Kind = "BigQUIC"
	KindLinearCorexWholeData  Kind = "LinearCorexWholeData"
	KindTimeVaryingCorexW     Kind = "TimeVaryingCorexWeighted"
)

type variant struct {
	stochastic bool
	noSelect   bool
	policy     selection.FaultPolicy
	required   []string
	fit        func(deps Deps) (fitFunc, error)
}

func estimator(est ports.Estimator) func(Deps) (fitFunc, error) {
	return func(Deps) (fitFunc, error) { return perBucket(est), nil }
}

func jointEstimator(est ports.JointEstimator) func(Deps) (fitFunc, error) {
	return func(Deps) (fitFunc, error) { return joint(est), nil }
}

var variants = map[Kind]variant{
	KindGroundTruth: {
		noSelect: true,
		policy:   selection.FaultRecover,
		fit: func(d Deps) (fitFunc, error) {
			if len(d.Truth) == 0 {
				return nil, fmt.Errorf("%w: GroundTruth needs the true covariances of the data", core.ErrMissingParam)
			}
			return fixed(d.Truth), nil
		},
	},
	KindDiagonal:       {policy: selection.FaultRecover, fit: estimator(estimators.Diagonal{})},
	KindLedoitWolf:     {policy: selection.FaultRecover, fit: estimator(estimators.LedoitWolf{})},
	KindOAS:            {policy: selection.FaultRecover, fit: estimator(estimators.OAS{})},
	KindPCA:            {policy: selection.FaultRecover, required: []string{"n_components"}, fit: estimator(estimators.PCA{})},
	KindFactorAnalysis: {policy: selection.FaultRecover, required: []string{"n_components"}, fit: estimator(estimators.FactorAnalysis{})},
	KindGraphLasso: {
		policy:   selection.FaultRecover,
		required: []string{"alpha", "max_iter", "mode"},
		fit:      estimator(estimators.GraphLasso{}),
	},
	KindLinearCorex: {
		stochastic: true,
		policy:     selection.FaultPropagate,
		required:   []string{"n_hidden", "max_iter", "anneal"},
		fit:        estimator(estimators.LinearCorex{}),
	},
	KindTimeVaryingCorex: {
		stochastic: true,
		policy:     selection.FaultPropagate,
		required:   []string{"n_hidden", "max_iter", "anneal", "l1", "l2"},
		fit:        jointEstimator(estimators.TimeVaryingCorex{}),
	},
	KindSparsePCA: {
		policy:   selection.FaultRecover,
		required: []string{"n_components", "alpha"},
		fit:      estimator(estimators.SparsePCA{}),
	},
	// BigQUIC solves the same problem as QUIC; it is listed separately so its
	// looser default grid is reported under its own name.
	KindQUIC:    {policy: selection.FaultRecover, required: []string{"lamb"}, fit: estimator(estimators.QUIC{})},
	KindBigQUIC: {policy: selection.FaultRecover, required: []string{"lamb"}, fit: estimator(estimators.QUIC{})},
	KindLinearCorexWholeData: {
		stochastic: true,
		policy:     selection.FaultPropagate,
		required:   []string{"n_hidden", "max_iter", "anneal"},
		fit:        jointEstimator(estimators.PooledLinearCorex{}),
	},
	KindTimeVaryingCorexW: {
		stochastic: true,
		policy:     selection.FaultPropagate,
		required:   []string{"n_hidden", "max_iter", "anneal", "l1", "l2", "gamma"},
		fit:        jointEstimator(estimators.TimeVaryingCorex{}),
	},
	KindTimeVaryingGraphLasso: {
		stochastic: true,
		policy:     selection.FaultPropagate,
		required:   []string{"lamb", "beta", "indexOfPenalty"},
		fit:        jointEstimator(estimators.TimeVaryingGraphLasso{}),
	},
}

// Deps are the collaborators shared by every baseline of a run.
type Deps struct {
	Scorer  ports.Scorer
	Streams ports.RNGPort
	Metrics ports.MetricsRecorder
	Logger  *internal.Logger
	Timeout time.Duration
	// Truth holds the generating covariances per test bucket, when known.
	Truth covariance.Set
}

// Options override per-method defaults.
type Options struct {
	Name   string                 // defaults to the kind
	Policy *selection.FaultPolicy // defaults to the kind's policy
}

// New builds the baseline for kind.
func New(kind Kind, opts Options, deps Deps) (Baseline, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMethod, kind)
	}
	if deps.Scorer == nil || deps.Streams == nil {
		return nil, fmt.Errorf("%s: scorer and random streams are required", kind)
	}
	fit, err := v.fit(deps)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = string(kind)
	}
	policy := v.policy
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	logger := deps.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}

	return &protocol{
		name:       name,
		kind:       kind,
		stochastic: v.stochastic,
		noSelect:   v.noSelect,
		required:   v.required,
		fit:        fit,
		runner: selection.Runner{
			Method:  name,
			Policy:  policy,
			Timeout: deps.Timeout,
			Metrics: deps.Metrics,
			Logger:  logger,
		},
		scorer:  deps.Scorer,
		streams: deps.Streams,
		logger:  logger,
	}, nil
}

// ParseKind resolves a kind name.
func ParseKind(s string) (Kind, error) {
	if _, ok := variants[Kind(s)]; ok {
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownMethod, s)
}

// Kinds lists every known kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(variants))
	for k := range variants {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequiredKeys returns the hyperparameters a grid for kind must define.
func RequiredKeys(kind Kind) []string {
	return append([]string(nil), variants[kind].required...)
}

// DefaultPolicy returns the fault policy a kind uses unless overridden.
func DefaultPolicy(kind Kind) selection.FaultPolicy {
	return variants[kind].policy
}
