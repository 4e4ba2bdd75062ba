package testkit

import (
	"math"
	"time"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/domain/run"
	"covbench/domain/score"
)

// SampleRecord builds a finished run record holding a deterministic method, a
// stochastic one, a method whose evaluation recovered to NaN and the ground
// truth with its NaN validation score.
func SampleRecord(experiment string, startedAt time.Time) *run.Record {
	m := run.Manifest{
		RunID:      core.NewRunID(),
		Experiment: experiment,
		DataType:   "syn_nglf",
		Buckets:    2,
		Vars:       4,
		TrainCnt:   16,
		ValCnt:     16,
		TestCnt:    100,
		Seed:       42,
		EvalIter:   3,
		StartedAt:  core.NewTimestamp(startedAt),
		FinishedAt: core.NewTimestamp(startedAt.Add(time.Minute)),
	}
	m.Fingerprint = run.NewFingerprint(experiment, core.Hash("methods"), "nt=2,nv=4", m.Seed, m.EvalIter, "test")

	rec := run.NewRecord(m)
	lw, _ := score.FromScores([]float64{5.5, 5.5, 5.5})
	rec.Put("Ledoit-Wolf", run.MethodResult{Kind: "LedoitWolf", TestScore: lw, BestParams: params.Empty(), BestValScore: 5.75})

	corex, _ := score.FromScores([]float64{5.25, 5.0, 5.75})
	rec.Put("Linear CorEx", run.MethodResult{
		Kind:         "LinearCorex",
		TestScore:    corex,
		BestParams:   params.NewConfig(map[string]interface{}{"n_hidden": 2, "max_iter": 100, "anneal": true}),
		BestValScore: 5.5,
	})

	rec.Put("PCA", run.MethodResult{
		Kind:         "PCA",
		TestScore:    score.Invalid(3),
		BestParams:   params.NewConfig(map[string]interface{}{"n_components": 8}),
		BestValScore: math.Inf(1),
	})

	truth, _ := score.Replicate(4.5, 3)
	rec.Put("Ground Truth", run.MethodResult{Kind: "GroundTruth", TestScore: truth, BestParams: params.Empty(), BestValScore: math.NaN()})
	return rec
}
