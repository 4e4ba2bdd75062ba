package ports

import (
	"covbench/domain/covariance"
	"covbench/domain/dataset"
)

// Scorer computes the zero-mean Gaussian negative log-likelihood of held-out data.
// Implementations never fail: ill-conditioned or invalid covariances score +Inf
// or NaN so callers can treat them like any other invalid configuration.
type Scorer interface {
	// Score returns the NLL averaged over samples within a bucket, then over buckets.
	Score(test dataset.Dataset, covs covariance.Set) float64
	// ScoreBuckets returns the per-bucket average NLL.
	ScoreBuckets(test dataset.Dataset, covs covariance.Set) []float64
}
