package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/models"
)

// Store is the SQLite working store shared by all pipeline stages. Raw station
// readings, ERA5 grid readings and the derived region-day tables live here.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger zerolog.Logger
}

func New(db *sql.DB, clock clockwork.Clock, logger zerolog.Logger) *Store {
	return &Store{db: db, clock: clock, logger: logger.With().Str("component", "store").Logger()}
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, country_code, station_type, latitude, longitude)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			country_code = excluded.country_code,
			station_type = excluded.station_type,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`, st.StationID, st.CountryCode, st.StationType, st.Latitude, st.Longitude)
	return err
}

// AssignStationRegion records that a station lies inside a region of the given
// boundary set. A station has at most one region per boundary set.
func (s *Store) AssignStationRegion(stationID, region, boundarySet string) error {
	_, err := s.db.Exec(`
		INSERT INTO station_regions (station_id, boundary_set, region)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id, boundary_set) DO UPDATE SET region = excluded.region
	`, stationID, boundarySet, region)
	return err
}

func (s *Store) GetRegionStations(region string) ([]models.Station, error) {
	rows, err := s.db.Query(`
		SELECT st.station_id, st.country_code, st.station_type, st.latitude, st.longitude
		FROM stations st
		JOIN station_regions sr ON sr.station_id = st.station_id
		WHERE sr.region = ?
		ORDER BY st.station_id
	`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.StationID, &st.CountryCode, &st.StationType, &st.Latitude, &st.Longitude); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// InsertReadings stores hourly station readings in one transaction. Readings that
// already exist for (station, pollutant, begin) are skipped. Returns the number of
// new rows.
func (s *Store) InsertReadings(readings []models.Reading) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO readings (station_id, pollutant, begin_at, end_at, concentration, quality_flags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, pollutant, begin_at) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, r := range readings {
		res, err := stmt.Exec(r.StationID, r.Pollutant, r.Begin.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Concentration, r.QualityFlags)
		if err != nil {
			return 0, fmt.Errorf("insert reading %s/%s: %w", r.StationID, r.Pollutant, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			stored += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit readings: %w", err)
	}
	return stored, nil
}

// GetRegionReadings returns every reading of every station assigned to region,
// ordered by station, pollutant and begin time.
func (s *Store) GetRegionReadings(region string) ([]models.Reading, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.station_id, r.pollutant, r.begin_at, r.end_at, r.concentration, r.quality_flags
		FROM readings r
		JOIN station_regions sr ON sr.station_id = r.station_id
		WHERE sr.region = ?
		ORDER BY r.station_id, r.pollutant, r.begin_at
	`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var begin, end string
		if err := rows.Scan(&r.ID, &r.StationID, &r.Pollutant, &begin, &end, &r.Concentration, &r.QualityFlags); err != nil {
			return nil, err
		}
		if r.Begin, err = time.Parse(time.RFC3339, begin); err != nil {
			return nil, fmt.Errorf("parse begin %q: %w", begin, err)
		}
		if r.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("parse end %q: %w", end, err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ReplaceGridCells replaces the grid cells of a region.
func (s *Store) ReplaceGridCells(region string, cells []models.GridCell) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM grid_cells WHERE region = ?`, region); err != nil {
		return fmt.Errorf("clear grid cells: %w", err)
	}
	for _, c := range cells {
		if _, err := tx.Exec(`
			INSERT INTO grid_cells (region, grid_id, longitude, latitude, population)
			VALUES (?, ?, ?, ?, ?)
		`, region, c.GridID, c.Longitude, c.Latitude, c.Population); err != nil {
			return fmt.Errorf("insert grid cell %d: %w", c.GridID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetGridCells(region string) ([]models.GridCell, error) {
	rows, err := s.db.Query(`
		SELECT region, grid_id, longitude, latitude, population
		FROM grid_cells WHERE region = ? ORDER BY grid_id
	`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []models.GridCell
	for rows.Next() {
		var c models.GridCell
		if err := rows.Scan(&c.Region, &c.GridID, &c.Longitude, &c.Latitude, &c.Population); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// InsertGridReadings stores hourly ERA5 values. Existing (region, grid, time)
// rows are overwritten so a re-flattened month replaces its earlier version.
func (s *Store) InsertGridReadings(readings []models.GridReading) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO grid_readings (region, grid_id, observed_at, temp, precip, wind_gust)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(region, grid_id, observed_at) DO UPDATE SET
			temp = excluded.temp,
			precip = excluded.precip,
			wind_gust = excluded.wind_gust
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.Exec(r.Region, r.GridID, r.ObservedAt.UTC().Unix(), r.Temp, r.Precip, r.WindGust); err != nil {
			return 0, fmt.Errorf("insert grid reading %s/%d: %w", r.Region, r.GridID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit grid readings: %w", err)
	}
	return len(readings), nil
}

// EachGridReading streams a region's grid readings ordered by grid and time. The
// ERA5 tables are too large to hold as a slice for long periods.
func (s *Store) EachGridReading(region string, fn func(models.GridReading) error) error {
	rows, err := s.db.Query(`
		SELECT region, grid_id, observed_at, temp, precip, wind_gust
		FROM grid_readings WHERE region = ?
		ORDER BY grid_id, observed_at
	`, region)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.GridReading
		var ts int64
		if err := rows.Scan(&r.Region, &r.GridID, &ts, &r.Temp, &r.Precip, &r.WindGust); err != nil {
			return err
		}
		r.ObservedAt = time.Unix(ts, 0).UTC()
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) CountGridReadings(region string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM grid_readings WHERE region = ?`, region).Scan(&n)
	return n, err
}
