package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"covbench/internal"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	config   LoaderConfig
	logger   *internal.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files.
// sheet selects the worksheet of an xlsx file; empty means the first sheet.
func NewDataReader(filePath, sheet string, config LoaderConfig, logger *internal.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{filePath: filePath, fileType: fileType, sheet: sheet, config: config, logger: logger}
}

// ReadTable reads the file into a date-sorted table
func (r *DataReader) ReadTable() (*Table, error) {
	r.logger.Debug("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	return r.processRows(rows)
}

// readExcelRows reads the configured sheet, or the first one
func (r *DataReader) readExcelRows() ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("Excel file has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	r.logger.Debug("[DataReader] Sheet %s read in %.2fms (%d rows)",
		sheet, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

// readCSVRows reads CSV rows; ragged rows are allowed
func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// processRows splits off the date column, parses dates and sorts by date
func (r *DataReader) processRows(rows [][]string) (*Table, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}

	header := rows[0]
	dateCol := 0
	if r.config.DateColumn != "" {
		dateCol = -1
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), r.config.DateColumn) {
				dateCol = i
				break
			}
		}
		if dateCol < 0 {
			return nil, fmt.Errorf("date column %q not found", r.config.DateColumn)
		}
	}

	var series []int
	table := &Table{}
	for i, h := range header {
		if i == dateCol {
			continue
		}
		series = append(series, i)
		table.Headers = append(table.Headers, strings.TrimSpace(h))
	}

	type datedRow struct {
		date  time.Time
		cells []string
	}
	var parsed []datedRow
	skipped := 0
	for _, row := range rows[1:] {
		if dateCol >= len(row) {
			skipped++
			continue
		}
		date, err := r.parseDate(strings.TrimSpace(row[dateCol]))
		if err != nil {
			skipped++
			continue
		}
		cells := make([]string, len(series))
		for j, col := range series {
			if col < len(row) {
				cells[j] = strings.TrimSpace(row[col])
			}
		}
		parsed = append(parsed, datedRow{date: date, cells: cells})
	}
	if skipped > 0 {
		r.logger.Warn("[DataReader] Skipped %d rows without a parseable date", skipped)
	}

	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].date.Before(parsed[j].date) })
	for _, p := range parsed {
		table.Dates = append(table.Dates, p.date)
		table.Cells = append(table.Cells, p.cells)
	}

	r.logger.Debug("[DataReader] %s file processed (%d series, %d rows)",
		strings.ToUpper(r.fileType), len(table.Headers), table.Rows())
	return table, nil
}

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func (r *DataReader) parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range r.config.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		days := int(serial)
		return excelEpoch.AddDate(0, 0, days), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
