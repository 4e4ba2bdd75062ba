package excel

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"covbench/domain/core"
	"covbench/domain/run"
	"covbench/ports"

	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet  = "Results"
	manifestSheet = "Manifest"
)

var resultsHeader = []interface{}{"Method", "Kind", "Test mean", "Test std", "Test min", "Best validation score", "Best params", "Scores"}

// ResultsWorkbook writes run records as xlsx workbooks, one per experiment.
type ResultsWorkbook struct {
	BaseDir string
}

// NewResultsWorkbook creates a workbook sink rooted at baseDir
func NewResultsWorkbook(baseDir string) *ResultsWorkbook {
	return &ResultsWorkbook{BaseDir: baseDir}
}

// Path returns the workbook written for experiment.
func (w *ResultsWorkbook) Path(experiment string) string {
	return filepath.Join(w.BaseDir, experiment+".results.xlsx")
}

// Save rewrites the workbook with the complete record.
func (w *ResultsWorkbook) Save(ctx context.Context, rec *run.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Manifest.Experiment == "" {
		return core.NewValidationError("experiment", "cannot be empty")
	}
	if err := os.MkdirAll(w.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return fmt.Errorf("failed to name results sheet: %w", err)
	}
	if err := writeResults(f, rec); err != nil {
		return err
	}
	if _, err := f.NewSheet(manifestSheet); err != nil {
		return fmt.Errorf("failed to add manifest sheet: %w", err)
	}
	if err := writeManifest(f, rec.Manifest); err != nil {
		return err
	}

	if err := f.SaveAs(w.Path(rec.Manifest.Experiment)); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeResults(f *excelize.File, rec *run.Record) error {
	if err := f.SetSheetRow(resultsSheet, "A1", &resultsHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, name := range rec.Methods() {
		res := rec.Results[name]
		scores := make([]string, len(res.TestScore.Scores))
		for j, s := range res.TestScore.Scores {
			scores[j] = fmt.Sprintf("%g", s)
		}
		row := []interface{}{
			name,
			res.Kind,
			cellValue(res.TestScore.Mean),
			cellValue(res.TestScore.Std),
			cellValue(res.TestScore.Min),
			cellValue(res.BestValScore),
			res.BestParams.String(),
			strings.Join(scores, ", "),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", name, err)
		}
	}
	return nil
}

func writeManifest(f *excelize.File, m run.Manifest) error {
	rows := [][]interface{}{
		{"Run ID", m.RunID.String()},
		{"Experiment", m.Experiment},
		{"Data type", m.DataType},
		{"nt", m.Buckets},
		{"nv", m.Vars},
		{"train_cnt", m.TrainCnt},
		{"val_cnt", m.ValCnt},
		{"test_cnt", m.TestCnt},
		{"Seed", m.Seed},
		{"Eval iterations", m.EvalIter},
		{"Fingerprint", m.Fingerprint.Fingerprint.String()},
		{"Started", m.StartedAt.Time().Format("2006-01-02 15:04:05")},
	}
	if !m.FinishedAt.IsZero() {
		rows = append(rows, []interface{}{"Finished", m.FinishedAt.Time().Format("2006-01-02 15:04:05")})
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(manifestSheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}
	return nil
}

// cellValue keeps finite scores numeric; spreadsheets cannot store NaN or Inf.
func cellValue(v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return v
}

var _ ports.ResultsSink = (*ResultsWorkbook)(nil)
