package score

import (
	"encoding/json"
	"math"

	"covbench/domain/params"
)

// Selection is the result of one grid search. BestScore stays +Inf when no
// candidate produced a usable score; BestParams then holds the first candidate.
type Selection struct {
	BestScore  float64
	BestParams params.Config
	Evaluated  int
}

// Improved reports whether any candidate beat the +Inf starting sentinel.
func (s Selection) Improved() bool {
	return !math.IsInf(s.BestScore, 1) && !math.IsNaN(s.BestScore)
}

type selectionJSON struct {
	BestScore  Number        `json:"best_score"`
	BestParams params.Config `json:"best_params"`
	Evaluated  int           `json:"evaluated"`
}

func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(selectionJSON{BestScore: Number(s.BestScore), BestParams: s.BestParams, Evaluated: s.Evaluated})
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var w selectionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Selection{BestScore: float64(w.BestScore), BestParams: w.BestParams, Evaluated: w.Evaluated}
	return nil
}
