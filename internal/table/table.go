// Package table holds region-day tables: an explicit (region, date) →
// {variable: value} mapping with a fixed variable set.
package table

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/models"
)

var ErrUnknownVariable = errors.New("unknown variable")

// Key identifies one row. A table has at most one row per key.
type Key struct {
	Region string
	Date   civil.Date
}

func (k Key) String() string {
	return k.Region + "/" + k.Date.String()
}

// Table is a wide region-day table. Every row carries a value slot for every
// variable; unset slots are missing.
type Table struct {
	variables []string
	index     map[string]int
	rows      map[Key][]sql.NullFloat64
}

func New(variables ...string) *Table {
	t := &Table{
		variables: slices.Clone(variables),
		index:     make(map[string]int, len(variables)),
		rows:      make(map[Key][]sql.NullFloat64),
	}
	for i, v := range variables {
		t.index[v] = i
	}
	return t
}

func Valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func (t *Table) Variables() []string {
	return slices.Clone(t.variables)
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Has(k Key) bool {
	_, ok := t.rows[k]
	return ok
}

// Ensure creates the row for k, with every value missing, if it does not exist.
func (t *Table) Ensure(k Key) {
	if _, ok := t.rows[k]; !ok {
		t.rows[k] = make([]sql.NullFloat64, len(t.variables))
	}
}

func (t *Table) Set(k Key, variable string, v sql.NullFloat64) error {
	i, ok := t.index[variable]
	if !ok {
		return fmt.Errorf("set %s on %s: %w", variable, k, ErrUnknownVariable)
	}
	t.Ensure(k)
	t.rows[k][i] = v
	return nil
}

func (t *Table) Get(k Key, variable string) sql.NullFloat64 {
	i, ok := t.index[variable]
	if !ok {
		return sql.NullFloat64{}
	}
	row, ok := t.rows[k]
	if !ok {
		return sql.NullFloat64{}
	}
	return row[i]
}

// Keys returns every row key ordered by region then date.
func (t *Table) Keys() []Key {
	keys := make([]Key, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Region != keys[j].Region {
			return keys[i].Region < keys[j].Region
		}
		return keys[i].Date.Before(keys[j].Date)
	})
	return keys
}

func (t *Table) Regions() []string {
	seen := make(map[string]bool)
	var regions []string
	for k := range t.rows {
		if !seen[k.Region] {
			seen[k.Region] = true
			regions = append(regions, k.Region)
		}
	}
	sort.Strings(regions)
	return regions
}

// Dates returns the dates present for region in ascending order.
func (t *Table) Dates(region string) []civil.Date {
	var dates []civil.Date
	for k := range t.rows {
		if k.Region == region {
			dates = append(dates, k.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Column returns the values of variable for the given dates of region, in order.
func (t *Table) Column(region string, dates []civil.Date, variable string) ([]sql.NullFloat64, error) {
	i, ok := t.index[variable]
	if !ok {
		return nil, fmt.Errorf("column %s: %w", variable, ErrUnknownVariable)
	}
	out := make([]sql.NullFloat64, len(dates))
	for j, d := range dates {
		if row, ok := t.rows[Key{Region: region, Date: d}]; ok {
			out[j] = row[i]
		}
	}
	return out, nil
}

// SetColumn writes values of variable for the given dates of region. values
// must be aligned with dates.
func (t *Table) SetColumn(region string, dates []civil.Date, variable string, values []sql.NullFloat64) error {
	if len(dates) != len(values) {
		return fmt.Errorf("set column %s: %d dates, %d values", variable, len(dates), len(values))
	}
	for j, d := range dates {
		if err := t.Set(Key{Region: region, Date: d}, variable, values[j]); err != nil {
			return err
		}
	}
	return nil
}

// Row returns a copy of the values of k in variable order.
func (t *Table) Row(k Key) []sql.NullFloat64 {
	return slices.Clone(t.rows[k])
}

// Delete removes every row for which drop returns true.
func (t *Table) Delete(drop func(Key) bool) {
	for k := range t.rows {
		if drop(k) {
			delete(t.rows, k)
		}
	}
}

// DeleteEmpty removes rows where every one of the given variables is missing.
func (t *Table) DeleteEmpty(variables ...string) {
	t.Delete(func(k Key) bool {
		for _, v := range variables {
			if t.Get(k, v).Valid {
				return false
			}
		}
		return true
	})
}

// Long flattens the table into persisted values, ordered by key then variable.
func (t *Table) Long(dataset string) []models.RegionDayValue {
	var out []models.RegionDayValue
	for _, k := range t.Keys() {
		row := t.rows[k]
		for i, v := range t.variables {
			out = append(out, models.RegionDayValue{
				Dataset:  dataset,
				Region:   k.Region,
				Date:     k.Date,
				Variable: v,
				Value:    row[i],
			})
		}
	}
	return out
}

// FromLong rebuilds a table from persisted values. Values of variables outside
// the given set are rejected.
func FromLong(variables []string, values []models.RegionDayValue) (*Table, error) {
	t := New(variables...)
	for _, v := range values {
		if err := t.Set(Key{Region: v.Region, Date: v.Date}, v.Variable, v.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}
