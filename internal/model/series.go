// Package model defines the shared data types for spend/revenue series and
// estimation results.
package model

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Observation is one day of spend and revenue.
type Observation struct {
	Date    time.Time `json:"date" yaml:"date"`
	Spend   float64   `json:"spend" yaml:"spend"`
	Revenue float64   `json:"revenue" yaml:"revenue"`
}

// Series is a date-ascending sequence of observations with at most one
// observation per day. Gaps between days are allowed.
type Series struct {
	obs []Observation
}

// NewSeries sorts the observations by date and validates them. Duplicate
// dates, non-finite and negative values are rejected with a MalformedInputError.
func NewSeries(obs []Observation) (Series, error) {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	for i := range sorted {
		sorted[i].Date = truncateDay(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	for i, o := range sorted {
		if !isFinite(o.Spend) {
			return Series{}, NewMalformedInput("spend", "non-finite value on "+o.Date.Format(DateLayout))
		}
		if !isFinite(o.Revenue) {
			return Series{}, NewMalformedInput("revenue", "non-finite value on "+o.Date.Format(DateLayout))
		}
		if o.Spend < 0 {
			return Series{}, NewMalformedInput("spend", "negative value on "+o.Date.Format(DateLayout))
		}
		if o.Revenue < 0 {
			return Series{}, NewMalformedInput("revenue", "negative value on "+o.Date.Format(DateLayout))
		}
		if i > 0 && o.Date.Equal(sorted[i-1].Date) {
			return Series{}, NewMalformedInput("date", "duplicate date "+o.Date.Format(DateLayout))
		}
	}
	return Series{obs: sorted}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.obs) }

// Observations returns a copy of the underlying observations.
func (s Series) Observations() []Observation {
	out := make([]Observation, len(s.obs))
	copy(out, s.obs)
	return out
}

// Window returns the observations with start <= date <= end. Both bounds are
// compared at day granularity.
func (s Series) Window(start, end time.Time) Series {
	start, end = truncateDay(start), truncateDay(end)
	lo := sort.Search(len(s.obs), func(i int) bool {
		return !s.obs[i].Date.Before(start)
	})
	hi := sort.Search(len(s.obs), func(i int) bool {
		return s.obs[i].Date.After(end)
	})
	if hi < lo {
		hi = lo
	}
	return Series{obs: s.obs[lo:hi]}
}

// Spend returns the spend column.
func (s Series) Spend() []float64 {
	out := make([]float64, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Spend
	}
	return out
}

// Revenue returns the revenue column.
func (s Series) Revenue() []float64 {
	out := make([]float64, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Revenue
	}
	return out
}

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// ParseDate parses a calendar date in any of the accepted layouts.
func ParseDate(field, s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, NewMalformedInput(field, "unparsable date "+strconv.Quote(s))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
