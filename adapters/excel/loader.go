package excel

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"covbench/domain/core"
	"covbench/domain/dataset"
	"covbench/internal"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

// Loader cuts train/validation/test buckets out of a dated price or return
// sheet. Each bucket is one window of consecutive rows whose order is shuffled
// with the request seed before it is split, so the three partitions of a bucket
// come from the same period.
type Loader struct {
	config LoaderConfig
	logger *internal.Logger
}

// NewLoader creates a new sheet loader
func NewLoader(config LoaderConfig, logger *internal.Logger) *Loader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Loader{config: config, logger: logger}
}

// Load implements ports.DatasetLoader.
func (l *Loader) Load(ctx context.Context, req ports.LoadRequest) (dataset.Partitions, error) {
	if err := validateRequest(req); err != nil {
		return dataset.Partitions{}, err
	}
	table, err := NewDataReader(req.Source, req.Sheet, l.config, l.logger).ReadTable()
	if err != nil {
		return dataset.Partitions{}, err
	}
	if err := ctx.Err(); err != nil {
		return dataset.Partitions{}, err
	}
	return l.Cut(table, req)
}

// Cut applies the request to an already read table.
func (l *Loader) Cut(table *Table, req ports.LoadRequest) (dataset.Partitions, error) {
	if err := validateRequest(req); err != nil {
		return dataset.Partitions{}, err
	}

	rows := filterDates(table, req.StartDate, req.EndDate)
	if len(rows) == 0 {
		return dataset.Partitions{}, fmt.Errorf("%w: no rows between %s and %s", core.ErrEmptyDataset,
			formatDate(req.StartDate), formatDate(req.EndDate))
	}

	names, values, err := selectColumns(table, rows, req.Vars, req.LogReturns)
	if err != nil {
		return dataset.Partitions{}, err
	}
	if req.LogReturns {
		values = logReturns(values)
	}
	l.logger.Info("Using %d series over %d rows (%s .. %s)", len(names), len(values),
		formatDate(table.Dates[rows[0]]), formatDate(table.Dates[rows[len(rows)-1]]))

	window := req.WindowSize()
	stride := req.Stride
	if stride <= 0 {
		stride = window
	}
	need := (req.Buckets-1)*stride + window
	if need > len(values) {
		return dataset.Partitions{}, fmt.Errorf("%w: %d buckets of %d rows with stride %d need %d rows, have %d",
			core.ErrShapeMismatch, req.Buckets, window, stride, need, len(values))
	}

	train := make([]*mat.Dense, req.Buckets)
	val := make([]*mat.Dense, req.Buckets)
	test := make([]*mat.Dense, req.Buckets)
	for b := 0; b < req.Buckets; b++ {
		start := b * stride
		order := make([]int, window)
		for i := range order {
			order[i] = start + i
		}
		rng := rand.New(rand.NewPCG(uint64(req.Seed), uint64(b)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		train[b] = gather(values, order[:req.TrainCnt])
		val[b] = gather(values, order[req.TrainCnt:req.TrainCnt+req.ValCnt])
		test[b] = gather(values, order[req.TrainCnt+req.ValCnt:])
	}

	var parts dataset.Partitions
	if parts.Train, err = dataset.New(train); err != nil {
		return dataset.Partitions{}, err
	}
	if parts.Val, err = dataset.New(val); err != nil {
		return dataset.Partitions{}, err
	}
	if parts.Test, err = dataset.New(test); err != nil {
		return dataset.Partitions{}, err
	}
	return parts, parts.Validate()
}

func validateRequest(req ports.LoadRequest) error {
	switch {
	case req.Buckets < 1:
		return core.NewValidationError("nt", "must be at least 1")
	case req.Vars < 1:
		return core.NewValidationError("nv", "must be at least 1")
	case req.TrainCnt < 1 || req.ValCnt < 1 || req.TestCnt < 1:
		return core.NewValidationError("counts", "train, val and test counts must be positive")
	case req.Stride < 0:
		return core.NewValidationError("stride", "cannot be negative")
	case !req.StartDate.IsZero() && !req.EndDate.IsZero() && !req.StartDate.Before(req.EndDate):
		return core.NewValidationError("dates", "start date must precede end date")
	}
	return nil
}

// filterDates returns the row indexes in [start, end); zero bounds are open.
func filterDates(table *Table, start, end time.Time) []int {
	var rows []int
	for i, d := range table.Dates {
		if !start.IsZero() && d.Before(start) {
			continue
		}
		if !end.IsZero() && !d.Before(end) {
			continue
		}
		rows = append(rows, i)
	}
	return rows
}

// selectColumns keeps the first nv series that are numeric and finite on every
// selected row (and positive when prices are turned into log returns).
func selectColumns(table *Table, rows []int, nv int, positive bool) ([]string, [][]float64, error) {
	var names []string
	var cols [][]float64
	for j, name := range table.Headers {
		col, ok := parseColumn(table, rows, j, positive)
		if !ok {
			continue
		}
		names = append(names, name)
		cols = append(cols, col)
		if len(cols) == nv {
			break
		}
	}
	if len(cols) < nv {
		return nil, nil, fmt.Errorf("%w: need %d complete series, found %d", core.ErrShapeMismatch, nv, len(cols))
	}

	values := make([][]float64, len(rows))
	for i := range rows {
		values[i] = make([]float64, nv)
		for j := range cols {
			values[i][j] = cols[j][i]
		}
	}
	return names, values, nil
}

func parseColumn(table *Table, rows []int, j int, positive bool) ([]float64, bool) {
	col := make([]float64, len(rows))
	for i, r := range rows {
		v, err := strconv.ParseFloat(table.Cells[r][j], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || (positive && v <= 0) {
			return nil, false
		}
		col[i] = v
	}
	return col, true
}

// logReturns converts prices into log(p_t / p_{t-1}); the result has one row less.
func logReturns(prices [][]float64) [][]float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([][]float64, len(prices)-1)
	for t := 1; t < len(prices); t++ {
		out[t-1] = make([]float64, len(prices[t]))
		for j := range prices[t] {
			out[t-1][j] = math.Log(prices[t][j] / prices[t-1][j])
		}
	}
	return out
}

func gather(values [][]float64, idx []int) *mat.Dense {
	m := mat.NewDense(len(idx), len(values[0]), nil)
	for i, r := range idx {
		m.SetRow(i, values[r])
	}
	return m
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

var _ ports.DatasetLoader = (*Loader)(nil)
