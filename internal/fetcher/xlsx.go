package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/mmm-cli/internal/model"
)

// XLSXOptions selects the worksheet holding the series.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// LoadSeriesXLSX reads a date,spend,revenue worksheet. The first non-blank
// row is the header.
func LoadSeriesXLSX(path string, opts XLSXOptions) (model.Series, error) {
	t, err := readXLSX(path, opts)
	if err != nil {
		return model.Series{}, err
	}
	s, err := t.series()
	if err != nil {
		return model.Series{}, eris.Wrapf(err, "xlsx: parse %s", path)
	}
	return s, nil
}

func readXLSX(path string, opts XLSXOptions) (*table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	t := &table{}
	for i, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := rowToStrings(row, f.Date1904)
		if isBlank(cells) {
			continue
		}
		if t.header == nil {
			t.header = cells
			continue
		}
		t.rows = append(t.rows, cells)
		t.lines = append(t.lines, i+1)
	}
	if t.header == nil {
		return nil, model.NewMalformedInput("xlsx", "sheet "+sheet.Name+" is empty")
	}
	return t, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, model.NewMalformedInput("xlsx", "sheet "+opts.SheetName+" not found")
		}
		return sheet, nil
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

// rowToStrings renders each cell as text. Date-formatted cells are emitted
// as YYYY-MM-DD rather than their display format.
func rowToStrings(row *xlsx.Row, date1904 bool) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell.IsTime() {
			if t, err := cell.GetTime(date1904); err == nil {
				cells[j] = t.Format(model.DateLayout)
				continue
			}
		}
		cells[j] = cell.String()
	}
	return cells
}
