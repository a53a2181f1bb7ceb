package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Download is the log entry of a file fetched into the download directory.
type Download struct {
	URL       string
	Path      string
	SizeBytes int64
	SHA256    string
	FetchedAt time.Time
}

// RecordDownload upserts the log entry for url.
func (s *Store) RecordDownload(url, path string, size int64, sha string) error {
	_, err := s.db.Exec(`
		INSERT INTO downloads (url, path, size_bytes, sha256, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			sha256 = excluded.sha256,
			fetched_at = excluded.fetched_at
	`, url, path, size, sha, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// GetDownload returns the log entry for url, or nil if it was never downloaded.
func (s *Store) GetDownload(url string) (*Download, error) {
	var d Download
	err := s.db.QueryRow(`
		SELECT url, path, size_bytes, sha256, fetched_at FROM downloads WHERE url = ?
	`, url).Scan(&d.URL, &d.Path, &d.SizeBytes, &d.SHA256, &d.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DownloadStats summarises the download log.
type DownloadStats struct {
	TotalCount     int
	TotalSizeBytes int64
}

func (s *Store) GetDownloadStats() (*DownloadStats, error) {
	var stats DownloadStats
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM downloads`).
		Scan(&stats.TotalCount, &stats.TotalSizeBytes)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
