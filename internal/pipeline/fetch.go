package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/geom"

	"github.com/lox/esseosc/internal/ingest"
	"github.com/lox/esseosc/internal/spatial"
)

// FetchEEA resolves background stations to the configured regions and loads
// their hourly readings.
func (p *Pipeline) FetchEEA(ctx context.Context) error {
	resolvers, err := ingest.LoadResolvers(ctx, p.cfg, p.fetcher, p.logger)
	if err != nil {
		return err
	}

	loader := ingest.NewEEALoader(p.cfg.EEA, p.runID, p.fetcher, p.store, p.logger)
	stations, err := loader.LoadStations(ctx, resolvers, p.cfg.RegionIDs())
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		p.logger.Warn().Msg("no station lies in a configured region")
		return nil
	}
	return loader.LoadReadings(ctx, stations)
}

// FetchERA5 downloads the hourly reanalysis of every region and weights its
// grid cells by population.
func (p *Pipeline) FetchERA5(ctx context.Context) error {
	if p.cfg.ERA5.APIKey == "" {
		return errors.New("no CDS API key configured")
	}

	resolvers, err := ingest.LoadResolvers(ctx, p.cfg, p.fetcher, p.logger)
	if err != nil {
		return err
	}
	regions := make([]*spatial.Region, 0, len(p.cfg.Regions))
	for _, id := range p.cfg.RegionIDs() {
		r, ok := resolvers.Region(id)
		if !ok {
			return fmt.Errorf("region %s has no boundary", id)
		}
		regions = append(regions, r)
	}

	population, err := p.population(ctx, regions)
	if err != nil {
		return err
	}

	cds := ingest.NewCDSClient(p.cfg.ERA5.APIURL, p.cfg.ERA5.APIKey, p.cfg.ERA5.Dataset, p.fetcher, p.logger).
		WithPolling(p.cfg.ERA5.PollInterval.Duration, p.cfg.ERA5.MaxPollWait.Duration)
	loader := ingest.NewERA5Loader(p.cfg.ERA5, p.runID, cds, p.store, p.logger)
	for _, r := range regions {
		if err := loader.LoadRegion(ctx, r, population); err != nil {
			return fmt.Errorf("region %s: %w", r.ID, err)
		}
	}
	return nil
}

// population reads the raster cells that can fall into any region's grid.
// Bounds are widened by one grid step so cells on a region's edge keep the
// people just outside the polygon's box.
func (p *Pipeline) population(ctx context.Context, regions []*spatial.Region) (_ []spatial.PopulationPoint, err error) {
	path := p.cfg.Population.Path
	if path == "" {
		return nil, errors.New("no population raster configured")
	}

	run, err := p.store.StartFetchRun(p.runID, "population", path)
	if err != nil {
		return nil, fmt.Errorf("start fetch run: %w", err)
	}
	defer func() {
		if cerr := p.store.CompleteFetchRun(run, err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if strings.Contains(path, "://") {
		if path, err = p.fetcher.Fetch(ctx, path, "population"); err != nil {
			return nil, fmt.Errorf("fetch population raster: %w", err)
		}
	}

	transform, err := ingest.PopulationTransform(p.cfg.Population.CRS)
	if err != nil {
		return nil, err
	}
	bounds := unionBounds(regions, p.cfg.ERA5.GridStep)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := ingest.ReadPopulation(f, transform, bounds)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	run.RecordsParsed.Int64, run.RecordsParsed.Valid = int64(len(points)), true

	total := 0.0
	for _, pt := range points {
		total += pt.Population
	}
	p.logger.Info().Int("cells", len(points)).Float64("population", total).Msg("population loaded")
	return points, nil
}

func unionBounds(regions []*spatial.Region, margin float64) *geom.Bounds {
	b := &geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, r := range regions {
		rb := r.Bounds()
		b.Min.X = math.Min(b.Min.X, rb.Min.X-margin)
		b.Min.Y = math.Min(b.Min.Y, rb.Min.Y-margin)
		b.Max.X = math.Max(b.Max.X, rb.Max.X+margin)
		b.Max.Y = math.Max(b.Max.Y, rb.Max.Y+margin)
	}
	return b
}
