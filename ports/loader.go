package ports

import (
	"context"
	"time"

	"covbench/domain/dataset"
)

// LoadRequest describes the partitions a loader should cut from a source.
type LoadRequest struct {
	Source     string
	Sheet      string
	Buckets    int
	Vars       int
	TrainCnt   int
	ValCnt     int
	TestCnt    int
	StartDate  time.Time
	EndDate    time.Time
	Stride     int // 0 means non-overlapping windows
	LogReturns bool
	Seed       int64
}

// WindowSize is the number of consecutive rows one bucket consumes.
func (r LoadRequest) WindowSize() int {
	return r.TrainCnt + r.ValCnt + r.TestCnt
}

// DatasetLoader produces train/validation/test partitions with matching bucket
// structure.
type DatasetLoader interface {
	Load(ctx context.Context, req LoadRequest) (dataset.Partitions, error)
}
