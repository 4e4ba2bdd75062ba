package excel

// LoaderConfig controls how sheets are interpreted.
type LoaderConfig struct {
	// DateColumn names the date column; empty means the first column.
	DateColumn string `json:"date_column"`
	// DateLayouts are tried in order when parsing date cells. Numeric cells are
	// read as spreadsheet serial dates.
	DateLayouts []string `json:"date_layouts"`
}

// DefaultLoaderConfig returns sensible defaults for stock price sheets
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		DateLayouts: []string{
			"2006-01-02",
			"2006-01-02 15:04:05",
			"01/02/2006",
			"1/2/06",
			"02-Jan-2006",
		},
	}
}
