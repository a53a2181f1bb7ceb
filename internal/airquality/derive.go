package airquality

import (
	"database/sql"
	"fmt"

	"github.com/lox/esseosc/internal/rolling"
	"github.com/lox/esseosc/internal/table"
)

// Windows of the poor-day counts, keyed by the variable infix.
var poorWindows = []struct {
	infix string
	days  int
}{
	{"ndyprw", 7},
	{"ndyprm", 30},
	{"ndypry", 365},
}

// ConcentrationVariables are the variables of the daily concentration table:
// one per pollutant, named after its AirPollutant name.
func ConcentrationVariables() []string {
	vars := make([]string, len(Pollutants))
	for i, p := range Pollutants {
		vars[i] = p.Name
	}
	return vars
}

// IndexVariables lists the derived variables in output order.
func IndexVariables() []string {
	var vars []string
	for _, prefix := range []string{"aqiwd", "aqiw2d"} {
		for _, p := range Pollutants {
			vars = append(vars, prefix+p.Suffix)
		}
		vars = append(vars, prefix)
	}
	for _, w := range poorWindows {
		for _, p := range Pollutants {
			vars = append(vars, w.infix+p.Suffix)
		}
		vars = append(vars, w.infix)
	}
	return vars
}

// Derive computes the index table from a daily region-day concentration table.
// Only region-days with at least one concentration become rows.
func Derive(conc *table.Table) (*table.Table, error) {
	out := table.New(IndexVariables()...)

	for _, region := range conc.Regions() {
		dates := conc.Dates(region)
		if len(dates) == 0 {
			continue
		}

		present := make([]bool, len(dates))
		worst := make([]sql.NullFloat64, len(dates))
		levels := make(map[string][]sql.NullFloat64, len(Pollutants)+1)
		for _, p := range Pollutants {
			values, err := conc.Column(region, dates, p.Name)
			if err != nil {
				return nil, err
			}
			lv := make([]sql.NullFloat64, len(dates))
			for i, c := range values {
				if !c.Valid {
					continue
				}
				present[i] = true
				level, ok := p.Bin(c.Float64)
				if !ok {
					continue
				}
				lv[i] = table.Valid(float64(level))
				if !worst[i].Valid || lv[i].Float64 > worst[i].Float64 {
					worst[i] = lv[i]
				}
			}
			levels[p.Suffix] = lv
		}
		levels[""] = worst

		var kept []int
		for i := range dates {
			if present[i] {
				kept = append(kept, i)
			}
		}
		keptDates := pick(dates, kept)

		for suffix, all := range levels {
			lv := pick(all, kept)
			if err := out.SetColumn(region, keptDates, "aqiwd"+suffix, lv); err != nil {
				return nil, err
			}
			if err := out.SetColumn(region, keptDates, "aqiw2d"+suffix, rolling.TrailingMax(keptDates, lv, 2)); err != nil {
				return nil, err
			}
			poor := poorIndicator(lv)
			for _, w := range poorWindows {
				counts := rolling.Trailing(keptDates, poor, w.days, rolling.Sum)
				if err := out.SetColumn(region, keptDates, w.infix+suffix, counts); err != nil {
					return nil, fmt.Errorf("%s %s: %w", region, w.infix+suffix, err)
				}
			}
		}
	}
	return out, nil
}

// poorIndicator maps levels to 1 when Poor or worse and 0 otherwise. A missing
// level on a present day counts as not poor.
func poorIndicator(levels []sql.NullFloat64) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(levels))
	for i, l := range levels {
		if l.Valid && Level(l.Float64).IsPoor() {
			out[i] = table.Valid(1)
		} else {
			out[i] = table.Valid(0)
		}
	}
	return out
}

func pick[T any](x []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}
