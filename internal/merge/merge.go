// Package merge joins survey respondents with region-day tables on region and
// interview date.
package merge

import (
	"fmt"

	"github.com/lox/esseosc/internal/export"
	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/survey"
	"github.com/lox/esseosc/internal/table"
)

// Source is one region-day table and the labels of its columns.
type Source struct {
	Schema labels.Schema
	Table  *table.Table
}

// Stats counts what happened to the survey rows.
type Stats struct {
	Respondents int
	Undated     int
	Unmatched   int
	Merged      int
}

var interviewDate = labels.Variable{
	Name:   survey.InterviewDateColumn,
	Label:  "Interview date",
	Format: labels.DateFormat,
}

// Join inner-joins the survey with each source in turn. A respondent is kept
// only when every source has a row for its region and interview date. The
// output holds the survey columns, the interview date, and the value columns
// of each source; source key columns are not repeated.
func Join(s *survey.Survey, sources ...Source) (*export.Frame, Stats, error) {
	stats := Stats{Respondents: len(s.Rows)}

	f := &export.Frame{Name: s.Name + "_merged", Dataset: "merged"}
	seen := make(map[string]string)
	add := func(v labels.Variable, from string) error {
		if prev, dup := seen[v.Name]; dup {
			return fmt.Errorf("merge %s: column %s is in both %s and %s", s.Name, v.Name, prev, from)
		}
		seen[v.Name] = from
		f.Columns = append(f.Columns, v)
		return nil
	}
	for _, c := range s.Columns {
		if err := add(labels.Variable{Name: c}, s.Name); err != nil {
			return nil, stats, err
		}
	}
	if err := add(interviewDate, "merge"); err != nil {
		return nil, stats, err
	}
	for _, src := range sources {
		for _, c := range src.Schema.ValueColumns() {
			v, _ := src.Schema.Lookup(c)
			if err := add(v, src.Schema.Dataset); err != nil {
				return nil, stats, err
			}
		}
	}

	interviews, undated := s.Interviews()
	stats.Undated = undated

next:
	for _, iv := range interviews {
		key := table.Key{Region: iv.Region, Date: iv.Date}
		for _, src := range sources {
			if !src.Table.Has(key) {
				stats.Unmatched++
				continue next
			}
		}

		row := make([]string, 0, len(f.Columns))
		row = append(row, s.Rows[iv.Row]...)
		row = append(row, iv.Date.String())
		for _, src := range sources {
			for _, c := range src.Schema.ValueColumns() {
				v, _ := src.Schema.Lookup(c)
				row = append(row, export.FormatValue(src.Table.Get(key, c), v.Format))
			}
		}
		f.Rows = append(f.Rows, row)
	}
	stats.Merged = len(f.Rows)
	return f, stats, nil
}
