package estimators

import (
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

// covarianceModel is a fit that produced its covariance directly.
type covarianceModel struct {
	cov *mat.SymDense
}

func (m covarianceModel) Covariance() (*mat.SymDense, error) {
	return m.cov, nil
}

// precisionModel is a fit that produced a precision matrix; the covariance is
// obtained by inversion and can fail.
type precisionModel struct {
	precision *mat.SymDense
}

func (m precisionModel) Covariance() (*mat.SymDense, error) {
	return invertSPD(m.precision)
}

// Precision exposes the fitted precision matrix.
func (m precisionModel) Precision() *mat.SymDense {
	return m.precision
}

var (
	_ ports.FittedModel = covarianceModel{}
	_ ports.FittedModel = precisionModel{}
)
