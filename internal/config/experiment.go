package config

import (
	stderrors "errors"
	"fmt"
	"os"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/internal/baselines"
	"covbench/internal/errors"
	"covbench/internal/selection"

	"gopkg.in/yaml.v3"
)

// Experiment is the method list of a benchmark run.
type Experiment struct {
	Methods []MethodSpec `yaml:"methods"`
}

// MethodSpec configures one method: its display name, estimator kind, the
// hyperparameter grid searched during selection and an optional fault policy
// override ("recover" or "propagate").
type MethodSpec struct {
	Name        string                 `yaml:"name"`
	Kind        string                 `yaml:"kind"`
	Grid        map[string]interface{} `yaml:"grid"`
	FaultPolicy string                 `yaml:"fault_policy,omitempty"`
}

// Default hyperparameter grids of the stock benchmark.
var (
	hiddenGrid      = []interface{}{8, 16, 32}
	glassoAlphaGrid = []interface{}{0.003, 0.01, 0.03, 0.1, 0.3, 1.0}
	tcorexL1Grid    = []interface{}{0.001, 0.01, 0.1, 1.0, 10.0, 100.0}
	tcorexGammaGrid = []interface{}{1.25, 1.5, 2.0, 3.0, 4.0}
)

// DefaultExperiment returns the benchmark's standard method list. GroundTruth is
// included only when the data source knows its generating covariances.
func DefaultExperiment(withTruth bool) *Experiment {
	var methods []MethodSpec
	if withTruth {
		methods = append(methods, MethodSpec{Name: "Ground Truth", Kind: string(baselines.KindGroundTruth)})
	}
	methods = append(methods,
		MethodSpec{Name: "Diagonal", Kind: string(baselines.KindDiagonal)},
		MethodSpec{Name: "Ledoit-Wolf", Kind: string(baselines.KindLedoitWolf)},
		MethodSpec{Name: "Oracle approximating shrinkage", Kind: string(baselines.KindOAS)},
		MethodSpec{Name: "PCA", Kind: string(baselines.KindPCA), Grid: map[string]interface{}{
			"n_components": hiddenGrid,
		}},
		MethodSpec{Name: "Factor Analysis", Kind: string(baselines.KindFactorAnalysis), Grid: map[string]interface{}{
			"n_components": hiddenGrid,
		}},
		MethodSpec{Name: "Linear CorEx (applied bucket-wise)", Kind: string(baselines.KindLinearCorex), Grid: map[string]interface{}{
			"n_hidden": hiddenGrid,
			"max_iter": 500,
			"anneal":   true,
		}},
		MethodSpec{Name: "Graphical LASSO", Kind: string(baselines.KindGraphLasso), Grid: map[string]interface{}{
			"alpha":    glassoAlphaGrid,
			"mode":     "lars",
			"max_iter": 100,
		}},
		MethodSpec{Name: "T-GLASSO", Kind: string(baselines.KindTimeVaryingGraphLasso), Grid: map[string]interface{}{
			"lamb":           []interface{}{0.01, 0.03, 0.1, 0.3},
			"beta":           []interface{}{0.03, 0.1, 0.3, 1.0},
			"indexOfPenalty": []interface{}{1},
			"max_iter":       100,
		}},
		MethodSpec{Name: "T-GLASSO (no reg)", Kind: string(baselines.KindTimeVaryingGraphLasso), Grid: map[string]interface{}{
			"lamb":           glassoAlphaGrid,
			"beta":           []interface{}{0.0},
			"indexOfPenalty": []interface{}{1},
			"max_iter":       100,
		}},
		MethodSpec{Name: "T-Corex (W)", Kind: string(baselines.KindTimeVaryingCorex), Grid: map[string]interface{}{
			"n_hidden": hiddenGrid,
			"max_iter": 500,
			"anneal":   true,
			"l1":       tcorexL1Grid,
			"l2":       0.0,
		}},
		MethodSpec{Name: "Sparse PCA", Kind: string(baselines.KindSparsePCA), Grid: map[string]interface{}{
			"n_components": hiddenGrid,
			"alpha":        []interface{}{0.1, 0.3, 1.0, 3.0, 10.0, 30.0},
			"ridge_alpha":  0.01,
			"tol":          1e-6,
			"max_iter":     500,
		}},
		MethodSpec{Name: "Linear CorEx (applied on whole data)", Kind: string(baselines.KindLinearCorexWholeData), Grid: map[string]interface{}{
			"n_hidden": hiddenGrid,
			"max_iter": 500,
			"anneal":   true,
		}},
		MethodSpec{Name: "T-Corex (weighted samples, no reg)", Kind: string(baselines.KindTimeVaryingCorexW), Grid: map[string]interface{}{
			"n_hidden": hiddenGrid,
			"max_iter": 500,
			"anneal":   true,
			"l1":       0.0,
			"l2":       0.0,
			"gamma":    tcorexGammaGrid,
			"init":     []interface{}{false, true},
		}},
		MethodSpec{Name: "T-Corex (weighted samples)", Kind: string(baselines.KindTimeVaryingCorexW), Grid: map[string]interface{}{
			"n_hidden": hiddenGrid,
			"max_iter": 500,
			"anneal":   true,
			"l1":       tcorexL1Grid,
			"l2":       0.0,
			"gamma":    tcorexGammaGrid,
			"init":     true,
		}},
		MethodSpec{Name: "QUIC", Kind: string(baselines.KindQUIC), Grid: map[string]interface{}{
			"lamb":     []interface{}{0.001, 0.003, 0.01, 0.03, 0.1, 0.3, 1.0, 3.0},
			"tol":      1e-6,
			"max_iter": 100,
		}},
		MethodSpec{Name: "BigQUIC", Kind: string(baselines.KindBigQUIC), Grid: map[string]interface{}{
			"lamb":     []interface{}{0.01, 0.03, 0.1, 0.3, 1.0, 3.0, 10.0, 30.0},
			"tol":      1e-3,
			"max_iter": 100,
		}},
	)
	return &Experiment{Methods: methods}
}

// LoadExperiment reads a YAML experiment file. JSON is accepted as well since
// it is a subset of YAML.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read experiment file %s", path)
	}
	return ParseExperiment(data)
}

// ParseExperiment decodes and validates an experiment document.
func ParseExperiment(data []byte) (*Experiment, error) {
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("failed to parse experiment: %w", err))
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Validate checks every method before anything runs: known kinds, unique
// names, parseable fault policies, non-empty candidate lists and the required
// hyperparameters of each kind. All problems are reported together.
func (e *Experiment) Validate() error {
	if len(e.Methods) == 0 {
		return errors.ConfigInvalid("experiment defines no methods")
	}
	seen := make(map[string]bool, len(e.Methods))
	var errs []error
	for i, m := range e.Methods {
		name := m.DisplayName()
		if name == "" {
			errs = append(errs, fmt.Errorf("methods[%d]: %w", i, core.NewValidationError("kind", "cannot be empty")))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("%w: %s", core.ErrDuplicateMethod, name))
		}
		seen[name] = true

		kind, err := baselines.ParseKind(m.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if _, err := m.Policy(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		grid := m.ParamGrid()
		if err := grid.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if err := grid.Require(baselines.RequiredKeys(kind)...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

// DisplayName is the method name, falling back to the kind.
func (m MethodSpec) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Kind
}

// ParamGrid returns the grid as the domain type.
func (m MethodSpec) ParamGrid() params.Grid {
	return params.Grid(m.Grid).Clone()
}

// Policy returns the fault policy override, or nil when the kind's default applies.
func (m MethodSpec) Policy() (*selection.FaultPolicy, error) {
	if m.FaultPolicy == "" {
		return nil, nil
	}
	p, err := selection.ParseFaultPolicy(m.FaultPolicy)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Options converts the method settings into baseline construction options.
func (m MethodSpec) Options() (baselines.Options, error) {
	policy, err := m.Policy()
	if err != nil {
		return baselines.Options{}, err
	}
	return baselines.Options{Name: m.DisplayName(), Policy: policy}, nil
}

// HasKind reports whether any method uses kind.
func (e *Experiment) HasKind(kind baselines.Kind) bool {
	for _, m := range e.Methods {
		if m.Kind == string(kind) {
			return true
		}
	}
	return false
}

// Marshal renders the experiment as YAML.
func (e *Experiment) Marshal() ([]byte, error) {
	return yaml.Marshal(e)
}
