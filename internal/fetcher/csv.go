// Package fetcher reads spend/revenue series from CSV, XLSX, YAML and SQLite
// sources.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mmm-cli/internal/model"
)

// Record is one parsed CSV row and the line it started on.
type Record struct {
	Line   int
	Fields []string
}

// StreamCSV reads r and sends each record, fields trimmed, on the returned
// channel. Errors are sent on the error channel. Both channels are closed
// when the input is exhausted or ctx is cancelled.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		reader.Comment = '#'

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- &model.MalformedInputError{Field: "csv", Err: err}
				return
			}
			for i, f := range fields {
				fields[i] = strings.TrimSpace(f)
			}
			line, _ := reader.FieldPos(0)

			select {
			case recCh <- Record{Line: line, Fields: fields}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// collect drains a record stream into a table.
func collect(recCh <-chan Record, errCh <-chan error) (*table, error) {
	t := &table{}
	for rec := range recCh {
		if t.header == nil {
			t.header = rec.Fields
			continue
		}
		if isBlank(rec.Fields) {
			continue
		}
		t.rows = append(t.rows, rec.Fields)
		t.lines = append(t.lines, rec.Line)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if t.header == nil {
		return nil, model.NewMalformedInput("csv", "missing header row")
	}
	return t, nil
}

// ReadSeriesCSV parses a date,spend,revenue CSV from r.
func ReadSeriesCSV(ctx context.Context, r io.Reader) (model.Series, error) {
	t, err := collect(StreamCSV(ctx, r))
	if err != nil {
		return model.Series{}, err
	}
	return t.series()
}

// LoadSeriesCSV opens path and parses it with ReadSeriesCSV.
func LoadSeriesCSV(ctx context.Context, path string) (model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Series{}, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	s, err := ReadSeriesCSV(ctx, f)
	if err != nil {
		return model.Series{}, eris.Wrapf(err, "csv: parse %s", path)
	}
	return s, nil
}

// ReadRevenueCSV parses the revenue column of a CSV, in file order.
func ReadRevenueCSV(ctx context.Context, r io.Reader) ([]float64, error) {
	t, err := collect(StreamCSV(ctx, r))
	if err != nil {
		return nil, err
	}
	return t.revenue()
}

// LoadRevenueCSV opens path and parses it with ReadRevenueCSV.
func LoadRevenueCSV(ctx context.Context, path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rev, err := ReadRevenueCSV(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: parse %s", path)
	}
	return rev, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
