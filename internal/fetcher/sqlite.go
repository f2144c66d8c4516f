package fetcher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mmm-cli/internal/model"
)

// DefaultSQLiteQuery selects the series from a daily_metrics table.
const DefaultSQLiteQuery = `SELECT date, spend, revenue FROM daily_metrics ORDER BY date`

// LoadSeriesSQLite opens the SQLite database at dsn read-only and runs query,
// which must return date, spend and revenue columns in that order.
func LoadSeriesSQLite(ctx context.Context, dsn, query string) (model.Series, error) {
	if query == "" {
		query = DefaultSQLiteQuery
	}

	db, err := sql.Open("sqlite", "file:"+dsn+"?mode=ro")
	if err != nil {
		return model.Series{}, eris.Wrap(err, "sqlite: open")
	}
	defer db.Close() //nolint:errcheck

	s, err := QuerySeries(ctx, db, query)
	if err != nil {
		return model.Series{}, eris.Wrapf(err, "sqlite: load %s", dsn)
	}
	return s, nil
}

// QuerySeries runs query on db and converts the rows into a series.
func QuerySeries(ctx context.Context, db *sql.DB, query string) (model.Series, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return model.Series{}, eris.Wrap(err, "sqlite: query series")
	}
	defer rows.Close() //nolint:errcheck

	var obs []model.Observation
	row := 0
	for rows.Next() {
		row++
		var (
			rawDate any
			spend   sql.NullFloat64
			revenue sql.NullFloat64
		)
		if err := rows.Scan(&rawDate, &spend, &revenue); err != nil {
			return model.Series{}, &model.MalformedInputError{Field: fmt.Sprintf("row %d", row), Err: err}
		}
		date, err := scanDate(fmt.Sprintf("date (row %d)", row), rawDate)
		if err != nil {
			return model.Series{}, err
		}
		if !spend.Valid {
			return model.Series{}, model.NewMalformedInput(fmt.Sprintf("spend (row %d)", row), "missing value")
		}
		if !revenue.Valid {
			return model.Series{}, model.NewMalformedInput(fmt.Sprintf("revenue (row %d)", row), "missing value")
		}
		obs = append(obs, model.Observation{Date: date, Spend: spend.Float64, Revenue: revenue.Float64})
	}
	if err := rows.Err(); err != nil {
		return model.Series{}, eris.Wrap(err, "sqlite: iterate rows")
	}
	return model.NewSeries(obs)
}

func scanDate(field string, v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return model.ParseDate(field, d.Format(model.DateLayout))
	case string:
		return model.ParseDate(field, d)
	case []byte:
		return model.ParseDate(field, string(d))
	case nil:
		return time.Time{}, model.NewMalformedInput(field, "missing value")
	default:
		return time.Time{}, model.NewMalformedInput(field, fmt.Sprintf("unsupported type %T", v))
	}
}
