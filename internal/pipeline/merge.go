package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/merge"
	"github.com/lox/esseosc/internal/survey"
	"github.com/lox/esseosc/internal/table"
)

// Merge joins every configured survey with the stored air-quality and
// climate tables and exports one file per survey.
func (p *Pipeline) Merge(ctx context.Context) error {
	var sources []merge.Source
	for _, schema := range []labels.Schema{labels.AirQuality(), labels.Climate()} {
		t, err := p.loadTable(schema)
		if err != nil {
			return err
		}
		if t.Len() == 0 {
			return fmt.Errorf("no %s region-days stored; run prepare %s first", schema.Dataset, schema.Dataset)
		}
		sources = append(sources, merge.Source{Schema: schema, Table: t})
	}

	for _, path := range p.cfg.Surveys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.cfg.DataDir, path)
		}
		s, err := survey.ReadFile(path)
		if err != nil {
			return err
		}

		f, stats, err := merge.Join(s, sources...)
		if err != nil {
			return err
		}
		p.logger.Info().
			Str("survey", s.Name).
			Int("respondents", stats.Respondents).
			Int("undated", stats.Undated).
			Int("unmatched", stats.Unmatched).
			Int("merged", stats.Merged).
			Msg("survey merged")
		if _, err := p.writer.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) loadTable(schema labels.Schema) (*table.Table, error) {
	values, err := p.store.GetRegionDays(schema.Dataset)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", schema.Dataset, err)
	}
	t, err := table.FromLong(schema.ValueColumns(), values)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", schema.Dataset, err)
	}
	return t, nil
}
