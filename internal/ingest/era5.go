package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/metrics"
	"github.com/lox/esseosc/internal/spatial"
	"github.com/lox/esseosc/internal/store"
)

// era5Files names the cached file of each NetCDF variable.
var era5Files = []struct {
	variable string
	prefix   string
}{
	{"t2m", "tmpdc"},
	{"tp", "pac"},
	{"i10fg", "iwg10"},
}

// RequestArea returns the CDS area of a region's bounding box.
func RequestArea(r *spatial.Region) Area {
	b := r.Bounds()
	return Area{b.Max.Y, b.Min.X, b.Min.Y, b.Max.X}
}

// ERA5Loader downloads a region's monthly ERA5 files, flattens them into grid
// readings and stores them with the population of each grid cell.
type ERA5Loader struct {
	cfg    config.ERA5
	runID  string
	cds    *CDSClient
	store  *store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	index *GridIndex
}

func NewERA5Loader(cfg config.ERA5, runID string, cds *CDSClient, store *store.Store, logger zerolog.Logger) *ERA5Loader {
	return &ERA5Loader{
		cfg:    cfg,
		runID:  runID,
		cds:    cds,
		store:  store,
		logger: logger.With().Str("component", "era5").Logger(),
	}
}

type yearMonth struct {
	year  int
	month time.Month
}

// LoadRegion loads every configured month of one region. Months download
// concurrently; the first failure cancels the rest.
func (l *ERA5Loader) LoadRegion(ctx context.Context, region *spatial.Region, population []spatial.PopulationPoint) error {
	l.mu.Lock()
	l.index = nil
	l.mu.Unlock()

	var months []yearMonth
	for y := l.cfg.Years.From; y <= l.cfg.Years.To; y++ {
		for m := time.January; m <= time.December; m++ {
			months = append(months, yearMonth{y, m})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, ym := range months {
		g.Go(func() error {
			return l.loadMonth(gctx, region, ym)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.mu.Lock()
	idx := l.index
	l.mu.Unlock()
	if idx == nil {
		return fmt.Errorf("region %s: no ERA5 grid loaded", region.ID)
	}

	cells := idx.Cells()
	pop := spatial.GridPopulation(region.Polygonal, cells, l.cfg.GridStep, population)
	populated := 0
	for i := range cells {
		cells[i].Population = pop[cells[i].GridID]
		if cells[i].Population > 0 {
			populated++
		}
	}
	if populated == 0 {
		l.logger.Warn().Str("region", region.ID).Msg("no grid cell has population")
	}
	if err := l.store.ReplaceGridCells(region.ID, cells); err != nil {
		return fmt.Errorf("store %s grid cells: %w", region.ID, err)
	}

	l.logger.Info().Str("region", region.ID).Int("cells", len(cells)).Int("populated", populated).Int("months", len(months)).Msg("region loaded")
	return nil
}

func (l *ERA5Loader) gridIndex(region string, f *Field) *GridIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index == nil {
		l.index = NewGridIndex(region, f.Lons, f.Lats)
	}
	return l.index
}

func (l *ERA5Loader) loadMonth(ctx context.Context, region *spatial.Region, ym yearMonth) (err error) {
	target := fmt.Sprintf("%s/%d-%02d", region.ID, ym.year, int(ym.month))
	run, runErr := l.store.StartFetchRun(l.runID, "era5", target)
	if runErr != nil {
		l.logger.Warn().Err(runErr).Str("target", target).Msg("failed to start fetch run")
	}
	defer func() {
		if cerr := l.store.CompleteFetchRun(run, err); cerr != nil {
			l.logger.Warn().Err(cerr).Str("target", target).Msg("failed to complete fetch run")
		}
	}()

	fields := make([]*Field, len(era5Files))
	for i, ef := range era5Files {
		req := RetrieveRequest{
			Variable: ERA5Variables[ef.variable],
			Year:     ym.year,
			Month:    ym.month,
			Area:     RequestArea(region),
			Grid:     l.cfg.GridStep,
		}
		name := fmt.Sprintf("%s%sy%dm%02d.nc", ef.prefix, region.ID, ym.year, int(ym.month))
		path, err := l.cds.Retrieve(ctx, req, name)
		if err != nil {
			return fmt.Errorf("retrieve %s: %w", name, err)
		}
		if fields[i], err = ReadField(path, ef.variable); err != nil {
			return err
		}
	}

	idx := l.gridIndex(region.ID, fields[0])
	readings, err := Flatten(idx, fields[0], fields[1], fields[2])
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	stored, err := l.store.InsertGridReadings(readings)
	if err != nil {
		return fmt.Errorf("store %s: %w", target, err)
	}
	metrics.ReadingsLoaded.WithLabelValues("era5", region.ID).Add(float64(stored))
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(readings)), Valid: true}
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	}
	return nil
}
