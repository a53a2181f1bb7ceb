// Package pipeline runs the batch stages: fetching sources into the working
// store, preparing the region-day tables, and merging them with surveys.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/export"
	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/store"
)

// Pipeline holds what every stage shares. Stages communicate only through the
// store and the output directory, so each can run on its own.
type Pipeline struct {
	cfg     *config.Config
	runID   string
	store   *store.Store
	fetcher *fetch.Fetcher
	writer  *export.Writer
	logger  zerolog.Logger
}

func New(cfg *config.Config, runID string, st *store.Store, fetcher *fetch.Fetcher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		runID:   runID,
		store:   st,
		fetcher: fetcher,
		writer:  export.NewWriter(cfg.OutputDir, logger),
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

type stage struct {
	name string
	run  func(context.Context) error
}

// Run executes every stage in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	stages := []stage{
		{"fetch eea", p.FetchEEA},
		{"fetch era5", p.FetchERA5},
		{"prepare eea", p.PrepareEEA},
		{"prepare era5", p.PrepareERA5},
		{"merge", p.Merge},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Info().Str("stage", s.name).Msg("starting")
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// LogSummary reports this run's fetch outcomes and the download cache size.
func (p *Pipeline) LogSummary() error {
	summaries, err := p.store.GetFetchRunSummary(p.runID)
	if err != nil {
		return fmt.Errorf("fetch run summary: %w", err)
	}
	for _, s := range summaries {
		p.logger.Info().
			Str("source", s.Source).
			Int("runs", s.TotalRuns).
			Int("succeeded", s.SuccessRuns).
			Int("failed", s.FailedRuns).
			Int64("records", s.TotalRecords).
			Int64("parse_errors", s.TotalParseErrors).
			Msg("fetch summary")
	}

	failed, err := p.store.GetFailedFetchRuns(10)
	if err != nil {
		return fmt.Errorf("failed fetch runs: %w", err)
	}
	for _, r := range failed {
		if r.RunID != p.runID {
			continue
		}
		p.logger.Warn().
			Str("source", r.Source).
			Str("target", r.Target).
			Str("error", r.ErrorMessage.String).
			Msg("failed fetch")
	}

	stats, err := p.store.GetDownloadStats()
	if err != nil {
		return fmt.Errorf("download stats: %w", err)
	}
	p.logger.Info().Int("files", stats.TotalCount).Int64("bytes", stats.TotalSizeBytes).Msg("download cache")
	return nil
}
