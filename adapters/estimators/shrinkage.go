package estimators

import (
	"context"
	"math/rand/v2"

	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

// LedoitWolf shrinks the empirical covariance toward mu·I with the Ledoit-Wolf
// optimal shrinkage intensity.
type LedoitWolf struct{}

func (LedoitWolf) Fit(_ context.Context, x mat.Matrix, _ params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	xc := centered(x)
	emp := empiricalCovariance(xc)
	s, mu := ledoitWolfShrinkage(xc)
	return covarianceModel{cov: shrink(emp, s, mu)}, nil
}

// ledoitWolfShrinkage returns the shrinkage coefficient and target scale mu
// for centred data.
func ledoitWolfShrinkage(xc *mat.Dense) (shrinkage, mu float64) {
	n, p := xc.Dims()
	nf, pf := float64(n), float64(p)

	x2 := mat.NewDense(n, p, nil)
	x2.MulElem(xc, xc)

	traceTerms := make([]float64, p)
	total := 0.0
	for j := 0; j < p; j++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += x2.At(i, j)
		}
		traceTerms[j] = s / nf
		total += traceTerms[j]
	}
	mu = total / pf
	if p == 1 {
		return 0, mu
	}

	var x2tx2, xtx mat.Dense
	x2tx2.Mul(x2.T(), x2)
	xtx.Mul(xc.T(), xc)

	betaSum, deltaSum := 0.0, 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			betaSum += x2tx2.At(i, j)
			v := xtx.At(i, j)
			deltaSum += v * v
		}
	}
	deltaSum /= nf * nf

	beta := 1 / (pf * nf) * (betaSum/nf - deltaSum)
	delta := deltaSum - 2*mu*total + pf*mu*mu
	delta /= pf
	if beta > delta {
		beta = delta
	}
	if beta == 0 {
		return 0, mu
	}
	return beta / delta, mu
}

// OAS shrinks the empirical covariance with the oracle approximating shrinkage
// coefficient.
type OAS struct{}

func (OAS) Fit(_ context.Context, x mat.Matrix, _ params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	n, _ := x.Dims()
	emp := empiricalCovariance(centered(x))
	s, mu := oasShrinkage(emp, n)
	return covarianceModel{cov: shrink(emp, s, mu)}, nil
}

func oasShrinkage(emp *mat.SymDense, n int) (shrinkage, mu float64) {
	p := emp.SymmetricDim()
	if p == 1 {
		return 0, emp.At(0, 0)
	}
	pf := float64(p)

	alpha := 0.0
	trace := 0.0
	for i := 0; i < p; i++ {
		trace += emp.At(i, i)
		for j := 0; j < p; j++ {
			v := emp.At(i, j)
			alpha += v * v
		}
	}
	alpha /= pf * pf
	mu = trace / pf
	mu2 := mu * mu

	num := alpha + mu2
	den := float64(n+1) * (alpha - mu2/pf)
	if den == 0 {
		return 1, mu
	}
	shrinkage = num / den
	if shrinkage > 1 {
		shrinkage = 1
	}
	return shrinkage, mu
}

// shrink returns (1-s)·emp + s·mu·I.
func shrink(emp *mat.SymDense, s, mu float64) *mat.SymDense {
	p := emp.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	out.ScaleSym(1-s, emp)
	for i := 0; i < p; i++ {
		out.SetSym(i, i, out.At(i, i)+s*mu)
	}
	return out
}
