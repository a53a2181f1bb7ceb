// Package labels holds the hand-maintained output metadata: variable labels,
// value labels and display formats for each dataset.
package labels

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrSchemaDrift = errors.New("computed columns do not match labeled columns")

// Key columns shared by every region-day dataset.
const (
	DateColumn   = "date"
	RegionColumn = "region"
)

// DateFormat is the display format of date columns.
const DateFormat = "SDATE10"

// ValueLabel attaches a label to one coded value.
type ValueLabel struct {
	Value int
	Label string
}

// Variable is the metadata of one output column. An empty Format means the
// exporter picks one from the data.
type Variable struct {
	Name        string
	Label       string
	Format      string
	ValueLabels []ValueLabel
}

// Schema is the ordered column set of one dataset.
type Schema struct {
	Dataset   string
	Variables []Variable
}

// Columns returns the column names in output order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Variables))
	for i, v := range s.Variables {
		cols[i] = v.Name
	}
	return cols
}

// ValueColumns returns the column names without the key columns.
func (s Schema) ValueColumns() []string {
	var cols []string
	for _, v := range s.Variables {
		if v.Name == DateColumn || v.Name == RegionColumn {
			continue
		}
		cols = append(cols, v.Name)
	}
	return cols
}

func (s Schema) Lookup(name string) (Variable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Check compares the computed columns with the schema. Any column present on
// only one side is drift.
func (s Schema) Check(computed []string) error {
	want := make(map[string]bool, len(s.Variables))
	for _, v := range s.Variables {
		want[v.Name] = true
	}
	have := make(map[string]bool, len(computed))
	for _, c := range computed {
		have[c] = true
	}

	var unlabeled, absent []string
	for c := range have {
		if !want[c] {
			unlabeled = append(unlabeled, c)
		}
	}
	for c := range want {
		if !have[c] {
			absent = append(absent, c)
		}
	}
	if len(unlabeled) == 0 && len(absent) == 0 {
		return nil
	}
	sort.Strings(unlabeled)
	sort.Strings(absent)

	var parts []string
	if len(unlabeled) > 0 {
		parts = append(parts, "unlabeled: "+strings.Join(unlabeled, ", "))
	}
	if len(absent) > 0 {
		parts = append(parts, "not computed: "+strings.Join(absent, ", "))
	}
	return fmt.Errorf("%s: %w (%s)", s.Dataset, ErrSchemaDrift, strings.Join(parts, "; "))
}
