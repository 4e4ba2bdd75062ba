package testkit

import (
	"context"
	"sort"
	"sync"

	"covbench/adapters/scoring"
	"covbench/domain/core"
	"covbench/domain/run"
	"covbench/internal/rng"
	"covbench/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	store *InMemoryResultsStore // Shared results store instance
	seed  int64
}

// NewTestKit creates a new test kit instance seeded with seed
func NewTestKit(seed int64) *TestKit {
	return &TestKit{store: NewInMemoryResultsStore(), seed: seed}
}

// RNGAdapter returns seeded random streams
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.New(t.seed)
}

// Scorer returns the NLL scorer
func (t *TestKit) Scorer() ports.Scorer {
	return scoring.NewNLL()
}

// ResultsStore returns the shared in-memory store
func (t *TestKit) ResultsStore() *InMemoryResultsStore {
	return t.store
}

// Synthetic generates a small NGLF dataset with the kit's seed.
func (t *TestKit) Synthetic(nt, nv, trainCnt, valCnt, testCnt int) (*Synthetic, error) {
	cfg := DefaultNGLFConfig()
	cfg.Buckets, cfg.Vars = nt, nv
	cfg.TrainCnt, cfg.ValCnt, cfg.TestCnt = trainCnt, valCnt, testCnt
	cfg.Hidden = min(cfg.Hidden, nv)
	cfg.Seed = uint64(t.seed)
	return NewNGLFGenerator(cfg).Generate()
}

// InMemoryResultsStore implements ResultsStore with in-memory storage. Every
// Save is kept so tests can inspect the record after each method.
type InMemoryResultsStore struct {
	records map[core.RunID]*run.Record
	saves   []*run.Record
	mu      sync.RWMutex
}

func NewInMemoryResultsStore() *InMemoryResultsStore {
	return &InMemoryResultsStore{records: make(map[core.RunID]*run.Record)}
}

func (s *InMemoryResultsStore) Save(ctx context.Context, rec *run.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := rec.Clone()
	s.records[rec.Manifest.RunID] = snapshot
	s.saves = append(s.saves, snapshot)
	return nil
}

func (s *InMemoryResultsStore) ListRuns(ctx context.Context, limit int) ([]run.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]run.Manifest, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].StartedAt.Before(out[i].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryResultsStore) GetRun(ctx context.Context, runID core.RunID) (*run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[runID]
	if !exists {
		return nil, core.NewNotFoundError("run", runID.String())
	}
	return rec.Clone(), nil
}

// Saves returns every snapshot saved so far, in order.
func (s *InMemoryResultsStore) Saves() []*run.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*run.Record(nil), s.saves...)
}

var _ ports.ResultsStore = (*InMemoryResultsStore)(nil)
