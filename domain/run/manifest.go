package run

import (
	"covbench/domain/core"
)

// Manifest describes one harness run. It is written alongside the results so a
// stored record can be traced back to its inputs.
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	Experiment  string         `json:"experiment"`
	DataType    string         `json:"data_type"`
	Buckets     int            `json:"nt"`
	Vars        int            `json:"nv"`
	TrainCnt    int            `json:"train_cnt"`
	ValCnt      int            `json:"val_cnt"`
	TestCnt     int            `json:"test_cnt"`
	Seed        int64          `json:"seed"`
	EvalIter    int            `json:"eval_iter"`
	Fingerprint Fingerprint    `json:"fingerprint"`
	StartedAt   core.Timestamp `json:"started_at"`
	FinishedAt  core.Timestamp `json:"finished_at,omitempty"`
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if m.RunID.IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if m.Experiment == "" {
		return core.NewValidationError("run_manifest", "experiment cannot be empty")
	}
	if m.Buckets < 1 || m.Vars < 1 {
		return core.NewValidationError("run_manifest", "data shape must be positive")
	}
	if m.EvalIter < 1 {
		return core.NewValidationError("run_manifest", "eval_iter must be at least 1")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewValidationError("run_manifest", "fingerprint cannot be empty")
	}
	return nil
}
