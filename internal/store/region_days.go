package store

import (
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/models"
)

// ReplaceRegionDays atomically replaces every stored value of dataset.
func (s *Store) ReplaceRegionDays(dataset string, values []models.RegionDayValue) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM region_days WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("clear %s: %w", dataset, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO region_days (dataset, region, date, variable, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.Exec(dataset, v.Region, v.Date.String(), v.Variable, v.Value); err != nil {
			return fmt.Errorf("insert %s %s %s: %w", v.Region, v.Date, v.Variable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", dataset, err)
	}
	s.logger.Debug().Str("dataset", dataset).Int("values", len(values)).Msg("replaced region days")
	return nil
}

// GetRegionDays returns the stored values of dataset ordered by region, date
// and variable.
func (s *Store) GetRegionDays(dataset string) ([]models.RegionDayValue, error) {
	rows, err := s.db.Query(`
		SELECT region, date, variable, value FROM region_days
		WHERE dataset = ?
		ORDER BY region, date, variable
	`, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.RegionDayValue
	for rows.Next() {
		v := models.RegionDayValue{Dataset: dataset}
		var date string
		if err := rows.Scan(&v.Region, &date, &v.Variable, &v.Value); err != nil {
			return nil, err
		}
		if v.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
