// Package export writes labeled datasets as a CSV file plus an SPSS syntax
// file that imports it with variable labels, value labels and formats.
package export

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/metrics"
	"github.com/lox/esseosc/internal/table"
)

// Frame is a dataset ready to write: labeled columns and formatted cells.
// Empty cells are missing.
type Frame struct {
	Name    string
	Dataset string
	Columns []labels.Variable
	Rows    [][]string
}

// FromTable formats a region-day table in schema column order. The table's
// columns must match the schema exactly.
func FromTable(name string, schema labels.Schema, t *table.Table) (*Frame, error) {
	computed := append([]string{labels.DateColumn, labels.RegionColumn}, t.Variables()...)
	if err := schema.Check(computed); err != nil {
		return nil, err
	}

	f := &Frame{Name: name, Dataset: schema.Dataset, Columns: schema.Variables}
	for _, k := range t.Keys() {
		row := make([]string, len(schema.Variables))
		for i, v := range schema.Variables {
			switch v.Name {
			case labels.DateColumn:
				row[i] = k.Date.String()
			case labels.RegionColumn:
				row[i] = k.Region
			default:
				row[i] = FormatValue(t.Get(k, v.Name), v.Format)
			}
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// FormatValue renders a value with the decimals of an SPSS F format, or
// with the shortest exact representation when the format is empty.
func FormatValue(v sql.NullFloat64, format string) string {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return ""
	}
	if _, decimals, ok := numericFormat(format); ok {
		return strconv.FormatFloat(v.Float64, 'f', decimals, 64)
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

// numericFormat parses "Fw.d".
func numericFormat(format string) (width, decimals int, ok bool) {
	rest, found := strings.CutPrefix(format, "F")
	if !found {
		return 0, 0, false
	}
	w, d, _ := strings.Cut(rest, ".")
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, false
	}
	if d != "" {
		if decimals, err = strconv.Atoi(d); err != nil {
			return 0, 0, false
		}
	}
	return width, decimals, true
}

// Formats returns the display format of every column, inferring one from
// the cells where the column has none.
func (f *Frame) Formats() []string {
	out := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		if c.Format != "" {
			out[i] = c.Format
			continue
		}
		out[i] = f.infer(i)
	}
	return out
}

// SPSS limits.
const (
	maxNumericWidth = 40
	maxDecimals     = 16
	maxStringWidth  = 32767
)

func (f *Frame) infer(col int) string {
	numeric := true
	width, decimals := 1, 0
	for _, row := range f.Rows {
		cell := row[col]
		if cell == "" {
			continue
		}
		width = max(width, len(cell))
		if !numeric {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			numeric = false
			continue
		}
		if _, frac, ok := strings.Cut(cell, "."); ok {
			decimals = max(decimals, len(frac))
		}
	}
	if !numeric {
		return fmt.Sprintf("A%d", min(width, maxStringWidth))
	}
	decimals = min(decimals, maxDecimals)
	width = min(max(width, decimals+2), maxNumericWidth)
	return fmt.Sprintf("F%d.%d", width, decimals)
}

// WriteCSV writes the header and rows.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// WriteSyntax writes SPSS syntax that reads csvFile, which must hold the
// frame as written by WriteCSV.
func WriteSyntax(w io.Writer, f *Frame, csvFile string) error {
	bw := bufio.NewWriter(w)
	formats := f.Formats()

	fmt.Fprintf(bw, "* %s.\n", f.Name)
	fmt.Fprintln(bw, "GET DATA")
	fmt.Fprintln(bw, "  /TYPE=TXT")
	fmt.Fprintf(bw, "  /FILE=%s\n", quote(csvFile))
	fmt.Fprintln(bw, "  /ENCODING='UTF8'")
	fmt.Fprintln(bw, "  /ARRANGEMENT=DELIMITED")
	fmt.Fprintln(bw, "  /DELCASE=LINE")
	fmt.Fprintln(bw, "  /FIRSTCASE=2")
	fmt.Fprintln(bw, `  /DELIMITERS=","`)
	fmt.Fprintln(bw, `  /QUALIFIER='"'`)
	fmt.Fprintln(bw, "  /VARIABLES=")
	for i, c := range f.Columns {
		fmt.Fprintf(bw, "    %s %s\n", c.Name, formats[i])
	}
	fmt.Fprintln(bw, ".")

	var varLabels, valueLabels, displayFormats []string
	for i, c := range f.Columns {
		if c.Label != "" {
			varLabels = append(varLabels, c.Name+" "+quote(c.Label))
		}
		if len(c.ValueLabels) > 0 {
			parts := []string{c.Name}
			for _, vl := range c.ValueLabels {
				parts = append(parts, strconv.Itoa(vl.Value)+" "+quote(vl.Label))
			}
			valueLabels = append(valueLabels, strings.Join(parts, " "))
		}
		displayFormats = append(displayFormats, c.Name+" ("+formats[i]+")")
	}
	writeCommand(bw, "VARIABLE LABELS", varLabels)
	writeCommand(bw, "VALUE LABELS", valueLabels)
	writeCommand(bw, "FORMATS", displayFormats)
	fmt.Fprintln(bw, "EXECUTE.")
	return bw.Flush()
}

// writeCommand writes a command with one slash-separated specification per
// line. Commands without specifications are omitted.
func writeCommand(w io.Writer, name string, specs []string) {
	if len(specs) == 0 {
		return
	}
	fmt.Fprintln(w, name)
	for i, s := range specs {
		if i == 0 {
			fmt.Fprintf(w, "  %s\n", s)
		} else {
			fmt.Fprintf(w, "  /%s\n", s)
		}
	}
	fmt.Fprintln(w, ".")
}

// Writer places frames in an output directory.
type Writer struct {
	dir    string
	logger zerolog.Logger
}

func NewWriter(dir string, logger zerolog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger.With().Str("component", "export").Logger()}
}

// Write writes {name}.csv and {name}.sps and returns the CSV path.
func (w *Writer) Write(f *Frame) (string, error) {
	csvPath := filepath.Join(w.dir, f.Name+".csv")
	spsPath := filepath.Join(w.dir, f.Name+".sps")

	if err := writeFile(csvPath, func(out io.Writer) error { return WriteCSV(out, f) }); err != nil {
		return "", fmt.Errorf("export %s: %w", f.Name, err)
	}
	err := writeFile(spsPath, func(out io.Writer) error {
		return WriteSyntax(out, f, filepath.Base(csvPath))
	})
	if err != nil {
		return "", fmt.Errorf("export %s: %w", f.Name, err)
	}

	metrics.RowsExported.WithLabelValues(f.Dataset).Add(float64(len(f.Rows)))
	w.logger.Info().
		Str("dataset", f.Dataset).
		Str("path", csvPath).
		Int("rows", len(f.Rows)).
		Int("columns", len(f.Columns)).
		Msg("exported")
	return csvPath, nil
}

// writeFile replaces path only once write has succeeded.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = write(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
