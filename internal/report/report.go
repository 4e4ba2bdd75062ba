// Package report renders run records as markdown tables and HTML pages.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"covbench/domain/run"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Row is one method of a record in ranking order.
type Row struct {
	Rank   int // 0 when the method has no valid test score
	Method string
	run.MethodResult
}

// Rank orders the methods of a record by mean test NLL, lowest first. Methods
// whose mean is NaN come last; ties are broken by name.
func Rank(rec *run.Record) []Row {
	rows := make([]Row, 0, len(rec.Results))
	for _, name := range rec.Methods() {
		rows = append(rows, Row{Method: name, MethodResult: rec.Results[name]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].TestScore.Mean, rows[j].TestScore.Mean
		switch {
		case math.IsNaN(a) && math.IsNaN(b):
			return rows[i].Method < rows[j].Method
		case math.IsNaN(a):
			return false
		case math.IsNaN(b):
			return true
		case a != b:
			return a < b
		}
		return rows[i].Method < rows[j].Method
	})

	rank := 0
	for i := range rows {
		if math.IsNaN(rows[i].TestScore.Mean) {
			continue
		}
		rank++
		rows[i].Rank = rank
	}
	return rows
}

// Markdown renders a record as a title, a short manifest summary and the
// ranked results table.
func Markdown(rec *run.Record) string {
	m := rec.Manifest
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", m.Experiment)
	fmt.Fprintf(&sb, "- Run: `%s`\n", m.RunID)
	fmt.Fprintf(&sb, "- Data: %d buckets x %d variables (train %d, val %d, test %d)\n",
		m.Buckets, m.Vars, m.TrainCnt, m.ValCnt, m.TestCnt)
	fmt.Fprintf(&sb, "- Evaluation: %d iterations, seed %d\n", m.EvalIter, m.Seed)
	if !m.Fingerprint.Fingerprint.IsEmpty() {
		fmt.Fprintf(&sb, "- Fingerprint: `%s`\n", m.Fingerprint.Fingerprint.Short())
	}
	if !m.StartedAt.IsZero() && !m.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "- Duration: %s\n", m.FinishedAt.Sub(m.StartedAt).Round(time.Second))
	}
	sb.WriteString("\n")

	rows := Rank(rec)
	if len(rows) == 0 {
		sb.WriteString("No method completed.\n")
		return sb.String()
	}

	sb.WriteString("| # | Method | Test NLL | Std | Min | Validation NLL | Best parameters |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range rows {
		rank := "-"
		if r.Rank > 0 {
			rank = fmt.Sprint(r.Rank)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s | %s |\n",
			rank,
			escape(r.Method),
			formatScore(r.TestScore.Mean),
			formatScore(r.TestScore.Std),
			formatScore(r.TestScore.Min),
			formatScore(r.BestValScore),
			escape(r.BestParams.String()),
		)
	}
	return sb.String()
}

// HTML renders the markdown report as a complete HTML page.
func HTML(rec *run.Record) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: rec.Manifest.Experiment,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(Markdown(rec)), p, renderer)
}

func formatScore(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return fmt.Sprintf("%.4f", v)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
