// Package survey reads ESS survey exports and resolves each respondent's
// interview date.
package survey

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	RegionColumn        = "region"
	InterviewDateColumn = "interview_date"
)

// Datetime columns holding the interview date, in order of preference.
var datetimeColumns = []string{"inwds", "questcmp"}

// Component columns used when no datetime column has a value.
const (
	yearColumn  = "inwyys"
	monthColumn = "inwmms"
	dayColumn   = "inwdds"
)

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
}

// Survey is one survey file: a header and one row per respondent.
type Survey struct {
	Name    string
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// Read parses a CSV survey export. The file must have a region column.
func Read(r io.Reader, name string) (*Survey, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("survey %s: read header: %w", name, err)
	}
	s := &Survey{Name: name, index: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		if _, dup := s.index[h]; dup {
			return nil, fmt.Errorf("survey %s: column %s appears twice", name, h)
		}
		s.Columns = append(s.Columns, h)
		s.index[h] = i
	}
	if _, ok := s.index[RegionColumn]; !ok {
		return nil, fmt.Errorf("survey %s: no %s column", name, RegionColumn)
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("survey %s: %w", name, err)
		}
		s.Rows = append(s.Rows, record)
	}
	return s, nil
}

// ReadFile reads a survey named after its file.
func ReadFile(path string) (*Survey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Read(f, name)
}

// Column returns the position of a column.
func (s *Survey) Column(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *Survey) value(row []string, column string) string {
	i, ok := s.index[column]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Interview is a survey row with its join key.
type Interview struct {
	Row    int
	Region string
	Date   civil.Date
}

// Interviews returns the rows that have a region and an interview date, and
// the number of rows dropped for lacking either.
func (s *Survey) Interviews() ([]Interview, int) {
	var out []Interview
	dropped := 0
	for i, row := range s.Rows {
		region := s.value(row, RegionColumn)
		date, ok := s.InterviewDate(row)
		if region == "" || !ok {
			dropped++
			continue
		}
		out = append(out, Interview{Row: i, Region: region, Date: date})
	}
	return out, dropped
}

// InterviewDate resolves a row's interview date from inwds, then questcmp,
// then the inwyys/inwmms/inwdds components.
func (s *Survey) InterviewDate(row []string) (civil.Date, bool) {
	for _, col := range datetimeColumns {
		if d, ok := parseDatetime(s.value(row, col)); ok {
			return d, true
		}
	}

	y, okY := parseComponent(s.value(row, yearColumn))
	m, okM := parseComponent(s.value(row, monthColumn))
	d, okD := parseComponent(s.value(row, dayColumn))
	if !okY || !okM || !okD {
		return civil.Date{}, false
	}
	date := civil.Date{Year: y, Month: time.Month(m), Day: d}
	// Refusal and don't-know codes such as 99 or 9999 make invalid dates.
	if !date.IsValid() {
		return civil.Date{}, false
	}
	return date, true
}

func parseDatetime(s string) (civil.Date, bool) {
	if s == "" {
		return civil.Date{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// parseComponent accepts integers written as floats, as statistics packages
// export them ("2018.0").
func parseComponent(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
