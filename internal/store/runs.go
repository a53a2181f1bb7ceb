package store

import (
	"database/sql"
	"time"
)

// FetchRun is the audit record of one fetch-and-load step (a station file, an
// ERA5 month, a boundary file).
type FetchRun struct {
	ID            int64
	RunID         string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Source        string // "eea", "era5", "nuts", "population"
	Target        string // station/pollutant/year, region/month, url
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ParseErrors   sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(runID, source, target string) (*FetchRun, error) {
	run := &FetchRun{
		RunID:     runID,
		StartedAt: s.clock.Now().UTC(),
		Source:    source,
		Target:    target,
	}

	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (run_id, started_at, source, target, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.RunID, run.StartedAt, run.Source, run.Target)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetchRun records the outcome of a fetch run. A nil run is ignored.
func (s *Store) CompleteFetchRun(run *FetchRun, runErr error) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.RecordsStored, run.ParseErrors,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// FetchRunSummary aggregates the fetch runs of one source within a run.
type FetchRunSummary struct {
	Source           string
	TotalRuns        int
	SuccessRuns      int
	FailedRuns       int
	TotalRecords     int64
	TotalParseErrors int64
}

func (s *Store) GetFetchRunSummary(runID string) ([]FetchRunSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			source,
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END),
			COALESCE(SUM(records_stored), 0),
			COALESCE(SUM(parse_errors), 0)
		FROM fetch_runs
		WHERE run_id = ?
		GROUP BY source
		ORDER BY source
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRunSummary
	for rows.Next() {
		var h FetchRunSummary
		if err := rows.Scan(&h.Source, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns,
			&h.TotalRecords, &h.TotalParseErrors); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetFailedFetchRuns returns the most recent failed runs, newest first.
func (s *Store) GetFailedFetchRuns(limit int) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, started_at, finished_at, source, target,
			   records_parsed, records_stored, parse_errors, success, error_message
		FROM fetch_runs
		WHERE success = FALSE
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Target,
			&r.RecordsParsed, &r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
