package run

import (
	"encoding/json"
	"sort"

	"covbench/domain/params"
	"covbench/domain/score"
)

// MethodResult is what the harness keeps for a method that completed both
// selection and evaluation.
type MethodResult struct {
	Kind         string        `json:"kind"`
	TestScore    score.Report  `json:"test_score"`
	BestParams   params.Config `json:"best_params"`
	BestValScore float64       `json:"-"`
}

type methodResultJSON struct {
	Kind         string        `json:"kind"`
	TestScore    score.Report  `json:"test_score"`
	BestParams   params.Config `json:"best_params"`
	BestValScore score.Number  `json:"best_val_score"`
}

func (m MethodResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(methodResultJSON{
		Kind:         m.Kind,
		TestScore:    m.TestScore,
		BestParams:   m.BestParams,
		BestValScore: score.Number(m.BestValScore),
	})
}

func (m *MethodResult) UnmarshalJSON(data []byte) error {
	var w methodResultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = MethodResult{
		Kind:         w.Kind,
		TestScore:    w.TestScore,
		BestParams:   w.BestParams,
		BestValScore: float64(w.BestValScore),
	}
	return nil
}

// Record is the persisted results document of a run: the manifest plus one entry
// per successful method keyed by method name. Failed methods are absent.
type Record struct {
	Manifest Manifest                `json:"manifest"`
	Results  map[string]MethodResult `json:"results"`
}

// NewRecord starts an empty record for a manifest.
func NewRecord(m Manifest) *Record {
	return &Record{Manifest: m, Results: make(map[string]MethodResult)}
}

// Put stores the result of a method, replacing any earlier entry.
func (r *Record) Put(name string, res MethodResult) {
	if r.Results == nil {
		r.Results = make(map[string]MethodResult)
	}
	r.Results[name] = res
}

// Methods returns the method names in sorted order.
func (r *Record) Methods() []string {
	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the record so a stored snapshot is not affected by later Puts.
// Score slices and parameter configs are shared; both are treated as immutable.
func (r *Record) Clone() *Record {
	out := &Record{Manifest: r.Manifest, Results: make(map[string]MethodResult, len(r.Results))}
	for k, v := range r.Results {
		out.Results[k] = v
	}
	return out
}
