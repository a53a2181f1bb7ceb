// Package rolling computes trailing windows and calendar-month baselines over
// one region's daily series. A series is a pair of aligned slices: ascending,
// unique dates and their values. Series never mix regions.
package rolling

import (
	"database/sql"
	"time"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/aggregate"
)

// Op is the aggregate a trailing window reports.
type Op int

const (
	Sum Op = iota
	Mean
)

// Trailing computes, for each date d, the sum or mean of values over the
// calendar days [d-days+1, d]. The result is missing unless every day in that
// range is present in the series with a value.
func Trailing(dates []civil.Date, values []sql.NullFloat64, days int, op Op) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(dates))
	var sum float64
	count := 0
	lo := 0
	for hi, d := range dates {
		if values[hi].Valid {
			sum += values[hi].Float64
			count++
		}
		start := d.AddDays(-(days - 1))
		for dates[lo].Before(start) {
			if values[lo].Valid {
				sum -= values[lo].Float64
				count--
			}
			lo++
		}
		if count < days {
			continue
		}
		switch op {
		case Sum:
			out[hi] = sql.NullFloat64{Float64: sum, Valid: true}
		case Mean:
			out[hi] = sql.NullFloat64{Float64: sum / float64(days), Valid: true}
		}
	}
	return out
}

// TrailingMax returns the largest value over [d-days+1, d] among the days that
// have one. Unlike Trailing, gaps are tolerated.
func TrailingMax(dates []civil.Date, values []sql.NullFloat64, days int) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(dates))
	lo := 0
	for hi, d := range dates {
		start := d.AddDays(-(days - 1))
		for dates[lo].Before(start) {
			lo++
		}
		for i := lo; i <= hi; i++ {
			if !values[i].Valid {
				continue
			}
			if !out[hi].Valid || values[i].Float64 > out[hi].Float64 {
				out[hi] = values[i]
			}
		}
	}
	return out
}

// Period is an inclusive range of years.
type Period struct {
	From int
	To   int
}

func (p Period) Contains(d civil.Date) bool {
	return d.Year >= p.From && d.Year <= p.To
}

// Baseline holds one value per calendar month. Months with no reference data
// are absent.
type Baseline map[time.Month]float64

// MonthlyBaseline reduces the daily values that fall in the reference period,
// grouped by calendar month across all years.
func MonthlyBaseline(dates []civil.Date, values []sql.NullFloat64, ref Period, reduce aggregate.Reducer) Baseline {
	byMonth := make(map[time.Month][]float64)
	for i, d := range dates {
		if !ref.Contains(d) || !values[i].Valid {
			continue
		}
		byMonth[d.Month] = append(byMonth[d.Month], values[i].Float64)
	}
	b := make(Baseline, len(byMonth))
	for m, x := range byMonth {
		b[m] = reduce(x)
	}
	return b
}

type yearMonth struct {
	year  int
	month time.Month
}

// MonthlyTotalBaseline sums daily values per year-month of the reference
// period, then averages those totals per calendar month.
func MonthlyTotalBaseline(dates []civil.Date, values []sql.NullFloat64, ref Period) Baseline {
	totals := make(map[yearMonth]float64)
	for i, d := range dates {
		if !ref.Contains(d) || !values[i].Valid {
			continue
		}
		totals[yearMonth{d.Year, d.Month}] += values[i].Float64
	}
	byMonth := make(map[time.Month][]float64)
	for ym, total := range totals {
		byMonth[ym.month] = append(byMonth[ym.month], total)
	}
	b := make(Baseline, len(byMonth))
	for m, x := range byMonth {
		b[m] = aggregate.Mean(x)
	}
	return b
}

// Broadcast assigns every date the baseline of its calendar month, whatever
// its year.
func (b Baseline) Broadcast(dates []civil.Date) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(dates))
	for i, d := range dates {
		if v, ok := b[d.Month]; ok {
			out[i] = sql.NullFloat64{Float64: v, Valid: true}
		}
	}
	return out
}

// CalendarMonth reduces the values of each year-month and assigns the result
// to every date of that year-month.
func CalendarMonth(dates []civil.Date, values []sql.NullFloat64, reduce aggregate.Reducer) []sql.NullFloat64 {
	groups := make(map[yearMonth][]float64)
	for i, d := range dates {
		if values[i].Valid {
			ym := yearMonth{d.Year, d.Month}
			groups[ym] = append(groups[ym], values[i].Float64)
		}
	}
	reduced := make(map[yearMonth]float64, len(groups))
	for ym, x := range groups {
		reduced[ym] = reduce(x)
	}
	out := make([]sql.NullFloat64, len(dates))
	for i, d := range dates {
		if v, ok := reduced[yearMonth{d.Year, d.Month}]; ok {
			out[i] = sql.NullFloat64{Float64: v, Valid: true}
		}
	}
	return out
}

// Difference returns a - b, missing where either side is.
func Difference(a, b []sql.NullFloat64) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(a))
	for i := range a {
		if a[i].Valid && b[i].Valid {
			out[i] = sql.NullFloat64{Float64: a[i].Float64 - b[i].Float64, Valid: true}
		}
	}
	return out
}

// PercentOf returns 100 * a / b. A zero or missing b yields missing.
func PercentOf(a, b []sql.NullFloat64) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(a))
	for i := range a {
		if a[i].Valid && b[i].Valid && b[i].Float64 != 0 {
			out[i] = sql.NullFloat64{Float64: 100 * a[i].Float64 / b[i].Float64, Valid: true}
		}
	}
	return out
}
