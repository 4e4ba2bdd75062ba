package score

import "math"

// Trial is the outcome of one fit-and-score pass: either a score or the reason
// there is none. The scorer itself never fails, so Err is only set when the fit
// (or covariance extraction) failed.
type Trial struct {
	Score float64
	Err   error
}

// Scored wraps a computed score.
func Scored(v float64) Trial { return Trial{Score: v} }

// Failed records a fit failure; its value is NaN.
func Failed(err error) Trial { return Trial{Score: math.NaN(), Err: err} }

// Value returns the score, NaN for failed trials.
func (t Trial) Value() float64 {
	if t.Err != nil {
		return math.NaN()
	}
	return t.Score
}

// Valid reports whether the trial produced a usable score.
func (t Trial) Valid() bool {
	return t.Err == nil && !math.IsNaN(t.Score)
}
