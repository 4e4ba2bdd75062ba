package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"covbench/domain/core"
	"covbench/domain/covariance"
	"covbench/domain/dataset"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// NGLFConfig configures the non-overlapping Gaussian latent factor generator.
// Every variable loads on exactly one hidden factor; the factor structure is
// redrawn at the middle bucket so time-varying methods have a regime change to
// track.
type NGLFConfig struct {
	Buckets  int     `json:"nt"`
	Vars     int     `json:"nv"`
	Hidden   int     `json:"m"`
	TrainCnt int     `json:"train_cnt"`
	ValCnt   int     `json:"val_cnt"`
	TestCnt  int     `json:"test_cnt"`
	SNR      float64 `json:"snr"`
	Seed     uint64  `json:"seed"`
}

// DefaultNGLFConfig returns sensible defaults for synthetic benchmark data
func DefaultNGLFConfig() NGLFConfig {
	return NGLFConfig{
		Buckets:  10,
		Vars:     32,
		Hidden:   4,
		TrainCnt: 16,
		ValCnt:   16,
		TestCnt:  100,
		SNR:      5.0,
		Seed:     42,
	}
}

// Validate rejects configurations the generator cannot satisfy.
func (c NGLFConfig) Validate() error {
	switch {
	case c.Buckets < 1:
		return core.NewValidationError("nt", "must be positive")
	case c.Vars < 1:
		return core.NewValidationError("nv", "must be positive")
	case c.Hidden < 1 || c.Hidden > c.Vars:
		return core.NewValidationError("m", fmt.Sprintf("must be between 1 and nv=%d", c.Vars))
	case c.TrainCnt < 1 || c.ValCnt < 1 || c.TestCnt < 1:
		return core.NewValidationError("sample counts", "train, val and test counts must be positive")
	case c.SNR <= 0:
		return core.NewValidationError("snr", "must be positive")
	}
	return nil
}

// Synthetic is a generated benchmark dataset with its generating covariances.
type Synthetic struct {
	Parts dataset.Partitions
	// Truth holds one covariance per bucket, shared by its train, val and test rows.
	Truth covariance.Set
}

// NGLFGenerator draws NGLF buckets
type NGLFGenerator struct {
	config NGLFConfig
	rng    *rand.Rand
}

// NewNGLFGenerator creates a new generator
func NewNGLFGenerator(config NGLFConfig) *NGLFGenerator {
	return &NGLFGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x5851f42d4c957f2d)),
	}
}

// Generate draws the partitions and their ground truth.
func (g *NGLFGenerator) Generate() (*Synthetic, error) {
	if err := g.config.Validate(); err != nil {
		return nil, err
	}
	c := g.config

	before := g.randomStructure()
	after := g.randomStructure()

	train := make([]*mat.Dense, c.Buckets)
	val := make([]*mat.Dense, c.Buckets)
	test := make([]*mat.Dense, c.Buckets)
	truth := make(covariance.Set, c.Buckets)
	for t := 0; t < c.Buckets; t++ {
		cov := before
		if t >= c.Buckets/2 && c.Buckets > 1 {
			cov = after
		}
		truth[t] = cov

		normal, ok := distmv.NewNormal(make([]float64, c.Vars), cov, rand.NewPCG(g.rng.Uint64(), g.rng.Uint64()))
		if !ok {
			return nil, fmt.Errorf("%w: generated covariance", core.ErrNotPositiveDefinite)
		}
		train[t] = sampleRows(normal, c.TrainCnt, c.Vars)
		val[t] = sampleRows(normal, c.ValCnt, c.Vars)
		test[t] = sampleRows(normal, c.TestCnt, c.Vars)
	}

	parts, err := partitions(train, val, test)
	if err != nil {
		return nil, err
	}
	return &Synthetic{Parts: parts, Truth: truth}, nil
}

// randomStructure assigns variables to factors round-robin after a random
// permutation and draws loadings whose signal-to-noise ratio is snr.
func (g *NGLFGenerator) randomStructure() *mat.SymDense {
	c := g.config
	perm := g.rng.Perm(c.Vars)
	group := make([]int, c.Vars)
	for i, v := range perm {
		group[v] = i % c.Hidden
	}

	weights := make([]float64, c.Vars)
	for i := range weights {
		w := math.Sqrt(c.SNR) * (0.5 + g.rng.Float64())
		if g.rng.IntN(2) == 0 {
			w = -w
		}
		weights[i] = w
	}

	cov := mat.NewSymDense(c.Vars, nil)
	for i := 0; i < c.Vars; i++ {
		for j := i; j < c.Vars; j++ {
			switch {
			case i == j:
				cov.SetSym(i, i, weights[i]*weights[i]+1)
			case group[i] == group[j]:
				cov.SetSym(i, j, weights[i]*weights[j])
			}
		}
	}
	return cov
}

func sampleRows(normal *distmv.Normal, n, p int) *mat.Dense {
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, normal.Rand(nil))
	}
	return x
}

func partitions(train, val, test []*mat.Dense) (dataset.Partitions, error) {
	tr, err := dataset.New(train)
	if err != nil {
		return dataset.Partitions{}, fmt.Errorf("train: %w", err)
	}
	va, err := dataset.New(val)
	if err != nil {
		return dataset.Partitions{}, fmt.Errorf("val: %w", err)
	}
	te, err := dataset.New(test)
	if err != nil {
		return dataset.Partitions{}, fmt.Errorf("test: %w", err)
	}
	parts := dataset.Partitions{Train: tr, Val: va, Test: te}
	return parts, parts.Validate()
}

// NGLFLoader serves generated data through the loader port and remembers the
// ground truth of the last load.
type NGLFLoader struct {
	Hidden int
	SNR    float64

	mu    sync.Mutex
	truth covariance.Set
}

func (l *NGLFLoader) Load(ctx context.Context, req ports.LoadRequest) (dataset.Partitions, error) {
	if err := ctx.Err(); err != nil {
		return dataset.Partitions{}, err
	}
	cfg := DefaultNGLFConfig()
	cfg.Buckets, cfg.Vars = req.Buckets, req.Vars
	cfg.TrainCnt, cfg.ValCnt, cfg.TestCnt = req.TrainCnt, req.ValCnt, req.TestCnt
	cfg.Seed = uint64(req.Seed)
	if l.Hidden > 0 {
		cfg.Hidden = l.Hidden
	}
	if cfg.Hidden > cfg.Vars {
		cfg.Hidden = cfg.Vars
	}
	if l.SNR > 0 {
		cfg.SNR = l.SNR
	}

	syn, err := NewNGLFGenerator(cfg).Generate()
	if err != nil {
		return dataset.Partitions{}, err
	}
	l.mu.Lock()
	l.truth = syn.Truth
	l.mu.Unlock()
	return syn.Parts, nil
}

// Truth returns the generating covariances of the last load.
func (l *NGLFLoader) Truth() covariance.Set {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truth
}

var _ ports.DatasetLoader = (*NGLFLoader)(nil)
