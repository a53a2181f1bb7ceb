package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Stations and hourly readings",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    country_code TEXT NOT NULL,
    station_type TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS station_regions (
    station_id TEXT NOT NULL,
    boundary_set TEXT NOT NULL,
    region TEXT NOT NULL,
    PRIMARY KEY (station_id, boundary_set)
);

CREATE INDEX IF NOT EXISTS idx_station_regions_region ON station_regions(region);

CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id TEXT NOT NULL,
    pollutant TEXT NOT NULL,
    begin_at TEXT NOT NULL,
    end_at TEXT NOT NULL,
    concentration REAL,
    quality_flags TEXT NOT NULL DEFAULT '',
    UNIQUE(station_id, pollutant, begin_at)
);
`,
	},
	{
		Version:     2,
		Description: "ERA5 grid cells and readings",
		SQL: `
CREATE TABLE IF NOT EXISTS grid_cells (
    region TEXT NOT NULL,
    grid_id INTEGER NOT NULL,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    population REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (region, grid_id)
);

CREATE TABLE IF NOT EXISTS grid_readings (
    region TEXT NOT NULL,
    grid_id INTEGER NOT NULL,
    observed_at INTEGER NOT NULL,
    temp REAL,
    precip REAL,
    wind_gust REAL,
    PRIMARY KEY (region, grid_id, observed_at)
);
`,
	},
	{
		Version:     3,
		Description: "Region-day output tables",
		SQL: `
CREATE TABLE IF NOT EXISTS region_days (
    dataset TEXT NOT NULL,
    region TEXT NOT NULL,
    date TEXT NOT NULL,
    variable TEXT NOT NULL,
    value REAL,
    PRIMARY KEY (dataset, region, date, variable)
);
`,
	},
	{
		Version:     4,
		Description: "Fetch run audit and download log",
		SQL: `
CREATE TABLE IF NOT EXISTS fetch_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_fetch_runs_run ON fetch_runs(run_id);

CREATE TABLE IF NOT EXISTS downloads (
    url TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    sha256 TEXT NOT NULL,
    fetched_at DATETIME NOT NULL
);
`,
	},
}

// Migrate applies every migration not yet recorded, in version order. Each
// migration commits on its own.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		s.logger.Info().Int("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Description, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
