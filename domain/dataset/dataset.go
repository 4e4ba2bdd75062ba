// Package dataset holds the time-bucketed sample matrices every baseline reads.
package dataset

import (
	"strconv"

	"covbench/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Dataset is an ordered sequence of buckets. Each bucket is an N×V sample matrix;
// N may differ between buckets, V may not.
type Dataset struct {
	buckets []*mat.Dense
	vars    int
}

// New validates the bucket shapes and wraps them. The matrices are not copied;
// callers hand ownership to the dataset and must not mutate them afterwards.
func New(buckets []*mat.Dense) (Dataset, error) {
	if len(buckets) == 0 {
		return Dataset{}, core.ErrEmptyDataset
	}
	_, vars := buckets[0].Dims()
	for i, b := range buckets {
		r, c := b.Dims()
		if c != vars {
			return Dataset{}, core.NewShapeError("bucket "+strconv.Itoa(i), r, vars, r, c)
		}
		if r == 0 {
			return Dataset{}, core.NewShapeError("bucket "+strconv.Itoa(i), 1, vars, r, c)
		}
	}
	return Dataset{buckets: buckets, vars: vars}, nil
}

// FromRows builds a dataset from nested slices, one [][]float64 per bucket.
func FromRows(rows [][][]float64) (Dataset, error) {
	buckets := make([]*mat.Dense, len(rows))
	for i, bucket := range rows {
		if len(bucket) == 0 || len(bucket[0]) == 0 {
			return Dataset{}, core.NewShapeError("bucket "+strconv.Itoa(i), 1, 1, 0, 0)
		}
		cols := len(bucket[0])
		data := make([]float64, 0, len(bucket)*cols)
		for _, row := range bucket {
			if len(row) != cols {
				return Dataset{}, core.NewShapeError("bucket "+strconv.Itoa(i), len(bucket), cols, len(bucket), len(row))
			}
			data = append(data, row...)
		}
		buckets[i] = mat.NewDense(len(bucket), cols, data)
	}
	return New(buckets)
}

// Len returns the number of buckets.
func (d Dataset) Len() int { return len(d.buckets) }

// Vars returns V, the variable count shared by all buckets.
func (d Dataset) Vars() int { return d.vars }

// Bucket returns bucket i as a read-only view.
func (d Dataset) Bucket(i int) mat.Matrix { return d.buckets[i] }

// Samples returns N for bucket i.
func (d Dataset) Samples(i int) int {
	r, _ := d.buckets[i].Dims()
	return r
}

// TotalSamples sums N over all buckets.
func (d Dataset) TotalSamples() int {
	total := 0
	for i := range d.buckets {
		total += d.Samples(i)
	}
	return total
}

// Concat stacks every bucket in order into one (ΣN)×V matrix. The result is a
// fresh copy.
func (d Dataset) Concat() *mat.Dense {
	out := mat.NewDense(d.TotalSamples(), d.vars, nil)
	row := 0
	for _, b := range d.buckets {
		r, _ := b.Dims()
		out.Slice(row, row+r, 0, d.vars).(*mat.Dense).Copy(b)
		row += r
	}
	return out
}

// Partitions groups the train/validation/test datasets of one experiment.
type Partitions struct {
	Train Dataset
	Val   Dataset
	Test  Dataset
}

// Validate checks the partitions share bucket count and V.
func (p Partitions) Validate() error {
	if p.Train.Len() == 0 {
		return core.ErrEmptyDataset
	}
	named := []struct {
		name string
		ds   Dataset
	}{{"validation", p.Val}, {"test", p.Test}}
	for _, n := range named {
		name, ds := n.name, n.ds
		if ds.Len() != p.Train.Len() {
			return core.NewBucketCountError(name, p.Train.Len(), ds.Len())
		}
		if ds.Vars() != p.Train.Vars() {
			return core.NewShapeError(name+" variables", 0, p.Train.Vars(), 0, ds.Vars())
		}
	}
	return nil
}
