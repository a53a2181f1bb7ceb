package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lox/esseosc/internal/aggregate"
	"github.com/lox/esseosc/internal/airquality"
	"github.com/lox/esseosc/internal/climate"
	"github.com/lox/esseosc/internal/export"
	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/metrics"
	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/rolling"
	"github.com/lox/esseosc/internal/table"
)

// Daily station values are the 99th percentile of the day's hourly readings.
const stationDayPercentile = 99

// PrepareEEA builds the air-quality region-day table from the stored readings,
// persists it and exports it.
func (p *Pipeline) PrepareEEA(ctx context.Context) error {
	conc := table.New(airquality.ConcentrationVariables()...)
	for _, region := range p.cfg.RegionIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		readings, err := p.store.GetRegionReadings(region)
		if err != nil {
			return fmt.Errorf("readings of %s: %w", region, err)
		}
		obs := observations(region, readings)
		days := aggregate.Daily(obs, aggregate.OwnOffset, aggregate.Percentile(stationDayPercentile))
		if err := aggregate.MaxAcrossEntities(days, conc); err != nil {
			return fmt.Errorf("region %s: %w", region, err)
		}
		p.logger.Debug().Str("region", region).Int("readings", len(readings)).Int("observations", len(obs)).Int("station_days", len(days)).Msg("region aggregated")
	}

	index, err := airquality.Derive(conc)
	if err != nil {
		return err
	}
	from := p.cfg.Output.FromYear
	index.Delete(func(k table.Key) bool { return k.Date.Year < from })

	return p.publish(labels.AirQuality(), index, "eea_regions")
}

// observations keeps the readings that passed validation.
func observations(region string, readings []models.Reading) []models.Observation {
	obs := make([]models.Observation, 0, len(readings))
	for _, r := range readings {
		if r.QualityFlags != "" || !r.Concentration.Valid {
			continue
		}
		obs = append(obs, models.Observation{
			EntityID:   r.StationID,
			Variable:   r.Pollutant,
			Region:     region,
			ObservedAt: r.Begin,
			Value:      r.Concentration.Float64,
		})
	}
	return obs
}

// PrepareERA5 builds the climate region-day table from the stored grid
// readings. It exports the full timeseries and a cut from the output year.
func (p *Pipeline) PrepareERA5(ctx context.Context) error {
	daily := table.New(climate.DailyVariables...)
	for _, region := range p.cfg.RegionIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.regionClimate(region, daily); err != nil {
			return fmt.Errorf("region %s: %w", region, err)
		}
	}

	ref := rolling.Period{From: p.cfg.Baseline.From, To: p.cfg.Baseline.To}
	derived, err := climate.Derive(daily, ref)
	if err != nil {
		return err
	}

	ts := rolling.Period{From: p.cfg.Output.Timeseries.From, To: p.cfg.Output.Timeseries.To}
	derived.Delete(func(k table.Key) bool { return !ts.Contains(k.Date) })
	name := "era5_regions_" + strconv.Itoa(ts.From) + "_" + strconv.Itoa(ts.To)
	if err := p.publish(labels.Climate(), derived, name); err != nil {
		return err
	}

	from := p.cfg.Output.FromYear
	derived.Delete(func(k table.Key) bool { return k.Date.Year < from })
	return p.export(labels.Climate(), derived, "era5_regions")
}

// regionClimate adds the population-weighted daily values of one region to
// daily. Days are local to the region's timezone.
func (p *Pipeline) regionClimate(region string, daily *table.Table) error {
	loc, err := p.cfg.Location(region)
	if err != nil {
		return err
	}
	cells, err := p.store.GetGridCells(region)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		p.logger.Warn().Str("region", region).Msg("no grid cells stored")
		return nil
	}

	grid := climate.NewDailyGrid(region, loc, cells)
	readings := 0
	err = p.store.EachGridReading(region, func(r models.GridReading) error {
		grid.Add(r)
		readings++
		return nil
	})
	if err != nil {
		return err
	}

	zero, err := aggregate.PopulationWeighted(grid.Days(), climate.DailyVariables, daily)
	if err != nil {
		return err
	}
	if len(zero) > 0 {
		metrics.ZeroPopulationDays.WithLabelValues(region).Add(float64(len(zero)))
		p.logger.Warn().Str("region", region).Int("days", len(zero)).Str("first", zero[0].Date.String()).Msg("days without population weight")
	}
	p.logger.Debug().Str("region", region).Int("cells", len(cells)).Int("readings", readings).Msg("region aggregated")
	return nil
}

// publish persists a region-day table and exports it.
func (p *Pipeline) publish(schema labels.Schema, t *table.Table, name string) error {
	// Check before replacing what an earlier run stored.
	if err := schema.Check(append([]string{labels.DateColumn, labels.RegionColumn}, t.Variables()...)); err != nil {
		return err
	}
	if err := p.store.ReplaceRegionDays(schema.Dataset, t.Long(schema.Dataset)); err != nil {
		return fmt.Errorf("store %s: %w", schema.Dataset, err)
	}
	return p.export(schema, t, name)
}

func (p *Pipeline) export(schema labels.Schema, t *table.Table, name string) error {
	f, err := export.FromTable(name, schema, t)
	if err != nil {
		return err
	}
	_, err = p.writer.Write(f)
	return err
}
