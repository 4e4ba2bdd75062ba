package excel

import "time"

// Table is a dated numeric sheet: one date column followed by series columns.
// Cells keep their raw text; parsing happens when columns are selected.
type Table struct {
	Headers []string   // series names, date column excluded
	Dates   []time.Time
	Cells   [][]string // Cells[row][series]
}

// Rows returns the number of dated rows.
func (t *Table) Rows() int { return len(t.Dates) }
