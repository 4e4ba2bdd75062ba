// Package score aggregates repeated-trial NLL scores and carries the outcome of
// model selection.
package score

import (
	"encoding/json"
	"fmt"
	"math"

	"covbench/domain/core"

	"github.com/montanaflynn/stats"
)

// Report summarises the scores of repeated evaluation trials.
type Report struct {
	Mean   float64
	Std    float64
	Min    float64
	Scores []float64
}

// FromScores aggregates a score sequence. Any NaN entry makes mean, std and min
// NaN. Std is the population standard deviation. A sequence whose entries are
// bit-identical reports exactly that value with std 0.
func FromScores(scores []float64) (Report, error) {
	if len(scores) == 0 {
		return Report{}, core.ErrInvalidTrials
	}
	raw := append([]float64(nil), scores...)

	for _, s := range raw {
		if math.IsNaN(s) {
			nan := math.NaN()
			return Report{Mean: nan, Std: nan, Min: nan, Scores: raw}, nil
		}
	}
	if identical(raw) {
		return Report{Mean: raw[0], Std: 0, Min: raw[0], Scores: raw}, nil
	}

	mean, err := stats.Mean(raw)
	if err != nil {
		return Report{}, fmt.Errorf("mean of scores: %w", err)
	}
	std, err := stats.StandardDeviationPopulation(raw)
	if err != nil {
		return Report{}, fmt.Errorf("std of scores: %w", err)
	}
	min, err := stats.Min(raw)
	if err != nil {
		return Report{}, fmt.Errorf("min of scores: %w", err)
	}
	return Report{Mean: mean, Std: std, Min: min, Scores: raw}, nil
}

// Replicate applies the deterministic-method convention: a single precomputed
// score stands for all nIter trials.
func Replicate(value float64, nIter int) (Report, error) {
	if nIter < 1 {
		return Report{}, core.ErrInvalidTrials
	}
	scores := make([]float64, nIter)
	for i := range scores {
		scores[i] = value
	}
	return FromScores(scores)
}

// Invalid is the all-NaN report used when an evaluation fails outright.
func Invalid(nIter int) Report {
	if nIter < 1 {
		nIter = 1
	}
	r, _ := Replicate(math.NaN(), nIter)
	return r
}

// Valid reports whether the mean is a usable (non-NaN) score.
func (r Report) Valid() bool {
	return !math.IsNaN(r.Mean)
}

func identical(xs []float64) bool {
	first := math.Float64bits(xs[0])
	for _, x := range xs[1:] {
		if math.Float64bits(x) != first {
			return false
		}
	}
	return true
}

type reportJSON struct {
	Mean   Number   `json:"mean"`
	Std    Number   `json:"std"`
	Min    Number   `json:"min"`
	Scores []Number `json:"scores"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportJSON{
		Mean:   Number(r.Mean),
		Std:    Number(r.Std),
		Min:    Number(r.Min),
		Scores: numbers(r.Scores),
	})
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var w reportJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Report{
		Mean:   float64(w.Mean),
		Std:    float64(w.Std),
		Min:    float64(w.Min),
		Scores: floats(w.Scores),
	}
	return nil
}
