// Package scoring computes held-out Gaussian negative log-likelihood scores.
package scoring

import (
	"math"

	"covbench/domain/covariance"
	"covbench/domain/dataset"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// NLL scores covariance matrices by the zero-mean Gaussian negative
// log-likelihood of test data, averaged over samples within a bucket and then
// over buckets.
type NLL struct{}

// NewNLL returns the scorer.
func NewNLL() NLL { return NLL{} }

func (s NLL) Score(test dataset.Dataset, covs covariance.Set) float64 {
	per := s.ScoreBuckets(test, covs)
	if len(per) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range per {
		sum += v
	}
	return sum / float64(len(per))
}

// ScoreBuckets returns one score per bucket. A set whose shape does not match
// the data scores NaN everywhere; a covariance that is not positive definite
// scores +Inf; non-finite entries score NaN.
func (NLL) ScoreBuckets(test dataset.Dataset, covs covariance.Set) []float64 {
	out := make([]float64, test.Len())
	if err := covs.Validate(test.Len(), test.Vars()); err != nil {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i := range out {
		out[i] = bucketNLL(test.Bucket(i), covs[i])
	}
	return out
}

func bucketNLL(x mat.Matrix, cov *mat.SymDense) float64 {
	n, p := x.Dims()
	if n == 0 {
		return math.NaN()
	}
	if !covariance.Set([]*mat.SymDense{cov}).Finite() {
		return math.NaN()
	}
	normal, ok := distmv.NewNormal(make([]float64, p), cov, nil)
	if !ok {
		return math.Inf(1)
	}
	row := make([]float64, p)
	total := 0.0
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		total -= normal.LogProb(row)
	}
	return total / float64(n)
}

var _ ports.Scorer = NLL{}
