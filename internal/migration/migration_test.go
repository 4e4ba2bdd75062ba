package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunner_StepsAreIdempotent(t *testing.T) {
	r := NewRunner()
	assert.Equal(t, "1.0.0", r.Version())

	steps := r.Steps()
	assert.Len(t, steps, 4)
	for _, s := range steps {
		assert.NotEmpty(t, s.Name)
		for _, stmt := range strings.Split(s.SQL, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			assert.Contains(t, stmt, "IF NOT EXISTS", s.Name)
		}
	}
}

func TestRunner_ResultsReferenceRuns(t *testing.T) {
	steps := NewRunner().Steps()
	assert.True(t, strings.Contains(steps[0].SQL, "benchmark_runs"))
	assert.Contains(t, steps[1].SQL, "REFERENCES benchmark_runs(run_id) ON DELETE CASCADE")

	// the runs table must exist before the results table references it
	var runs, results int
	for i, s := range steps {
		switch {
		case strings.Contains(s.Name, "benchmark_runs table"):
			runs = i
		case strings.Contains(s.Name, "method_results table"):
			results = i
		}
	}
	assert.Less(t, runs, results)
}
