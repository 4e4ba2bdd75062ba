package run

import (
	"crypto/sha256"
	"fmt"

	"covbench/domain/core"
)

// Fingerprint pins down everything that determines a run's numbers, so two runs
// with the same fingerprint are expected to reproduce each other.
type Fingerprint struct {
	Experiment  string    `json:"experiment"`
	MethodsHash core.Hash `json:"methods_hash"`
	DataShape   string    `json:"data_shape"`
	Seed        int64     `json:"seed"`
	EvalIter    int       `json:"eval_iter"`
	CodeVersion string    `json:"code_version"`
	Fingerprint core.Hash `json:"fingerprint"`
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(experiment string, methodsHash core.Hash, dataShape string, seed int64, evalIter int, codeVersion string) Fingerprint {
	return Fingerprint{
		Experiment:  experiment,
		MethodsHash: methodsHash,
		DataShape:   dataShape,
		Seed:        seed,
		EvalIter:    evalIter,
		CodeVersion: codeVersion,
		Fingerprint: computeFingerprint(experiment, methodsHash, dataShape, seed, evalIter, codeVersion),
	}
}

func computeFingerprint(experiment string, methodsHash core.Hash, dataShape string, seed int64, evalIter int, codeVersion string) core.Hash {
	data := fmt.Sprintf("experiment:%s|methods:%s|shape:%s|seed:%d|eval_iter:%d|code:%s",
		experiment, methodsHash, dataShape, seed, evalIter, codeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// ExperimentName builds the driver's experiment naming scheme:
// <prefix><data_type>.nt<nt>.nv<nv>.train_cnt<a>.val_cnt<b>.test_cnt<c>
func ExperimentName(prefix, dataType string, nt, nv, trainCnt, valCnt, testCnt int) string {
	return fmt.Sprintf("%s%s.nt%d.nv%d.train_cnt%d.val_cnt%d.test_cnt%d",
		prefix, dataType, nt, nv, trainCnt, valCnt, testCnt)
}
