package ingest

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/models"
)

const (
	FlagMultiDay              = "multi_day"
	FlagMissingConcentration  = "missing_concentration"
	FlagNegativeConcentration = "negative_concentration"
	FlagInvertedInterval      = "inverted_interval"
)

// ValidateReading returns the quality flags of a station reading. A flagged
// reading is stored but never aggregated.
func ValidateReading(r *models.Reading) []string {
	var flags []string

	if !r.End.After(r.Begin) {
		flags = append(flags, FlagInvertedInterval)
	} else if civil.DateOf(r.Begin) != civil.DateOf(r.End.Add(-time.Second)) {
		// Daily and annual averages reported alongside the hourly series.
		flags = append(flags, FlagMultiDay)
	}

	if !r.Concentration.Valid {
		flags = append(flags, FlagMissingConcentration)
	} else if r.Concentration.Float64 < 0 {
		flags = append(flags, FlagNegativeConcentration)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}

// QualityFlagsFromJSON is the inverse of QualityFlagsToJSON.
func QualityFlagsFromJSON(s string) []string {
	if s == "" {
		return nil
	}
	var flags []string
	if err := json.Unmarshal([]byte(s), &flags); err != nil {
		return []string{s}
	}
	return flags
}
