package pipeline

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ctessum/geom"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/spatial"
	"github.com/lox/esseosc/internal/store"
	"github.com/lox/esseosc/internal/table"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *config.Config) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClock()
	logger := zerolog.New(io.Discard)
	st := store.New(db, clock, logger)
	require.NoError(t, st.Migrate())

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DownloadDir = filepath.Join(dir, "raw")
	cfg.OutputDir = filepath.Join(dir, "output")
	cfg.DBPath = filepath.Join(dir, "esseosc.db")
	cfg.Regions = []config.Region{
		{ID: "AT13", Timezone: "Europe/Vienna"},
		{ID: "UKI", Timezone: "Europe/London"},
	}
	cfg.Baseline = config.Period{From: 2018, To: 2019}
	cfg.Output = config.Output{FromYear: 2019, Timeseries: config.Period{From: 2018, To: 2019}}
	cfg.Surveys = []string{"ESS9.csv"}
	require.NoError(t, cfg.EnsureDirs())

	fetcher := fetch.New(cfg.DownloadDir, st, clock, logger)
	return New(&cfg, "run-1", st, fetcher, logger), st, &cfg
}

func seedReadings(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.UpsertStation(models.Station{StationID: "AT0001", CountryCode: "AT", Longitude: 16.4, Latitude: 48.2}))
	require.NoError(t, st.AssignStationRegion("AT0001", "AT13", "2016-2"))

	cet := time.FixedZone("", 3600)
	var readings []models.Reading
	for _, day := range []int{31, 32} { // 2018-12-31 and 2019-01-01
		for h := 0; h < 24; h++ {
			begin := time.Date(2018, 12, day, h, 0, 0, 0, cet)
			readings = append(readings, models.Reading{
				StationID:     "AT0001",
				Pollutant:     "PM10",
				Begin:         begin,
				End:           begin.Add(time.Hour),
				Concentration: sql.NullFloat64{Float64: 30, Valid: true},
			})
		}
	}
	// Excluded by its flag despite the much worse value.
	spike := time.Date(2019, 1, 1, 12, 30, 0, 0, cet)
	readings = append(readings, models.Reading{
		StationID:     "AT0001",
		Pollutant:     "PM10",
		Begin:         spike,
		End:           spike.Add(48 * time.Hour),
		Concentration: sql.NullFloat64{Float64: 900, Valid: true},
		QualityFlags:  `["multi_day"]`,
	})
	_, err := st.InsertReadings(readings)
	require.NoError(t, err)
}

func seedGrid(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.ReplaceGridCells("AT13", []models.GridCell{
		{Region: "AT13", GridID: 0, Longitude: 16.3, Latitude: 48.2, Population: 100},
		{Region: "AT13", GridID: 1, Longitude: 16.4, Latitude: 48.2, Population: 300},
	}))

	var readings []models.GridReading
	// 23:00 UTC on 31 December is midnight in Vienna.
	start := time.Date(2018, 12, 31, 23, 0, 0, 0, time.UTC)
	for grid, kelvin := range []float64{273.15 + 8, 273.15 + 12} {
		for h := 0; h < 24; h++ {
			readings = append(readings, models.GridReading{
				Region:     "AT13",
				GridID:     grid,
				ObservedAt: start.Add(time.Duration(h) * time.Hour),
				Temp:       table.Valid(kelvin),
				Precip:     table.Valid(0.0001),
				WindGust:   table.Valid(float64(5 + grid)),
			})
		}
	}
	_, err := st.InsertGridReadings(readings)
	require.NoError(t, err)
}

var newYear = civil.Date{Year: 2019, Month: 1, Day: 1}

func loadStored(t *testing.T, st *store.Store, schema labels.Schema) *table.Table {
	t.Helper()
	values, err := st.GetRegionDays(schema.Dataset)
	require.NoError(t, err)
	tbl, err := table.FromLong(schema.ValueColumns(), values)
	require.NoError(t, err)
	return tbl
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestPrepareEEA(t *testing.T) {
	p, st, cfg := newTestPipeline(t)
	seedReadings(t, st)

	require.NoError(t, p.PrepareEEA(context.Background()))

	tbl := loadStored(t, st, labels.AirQuality())
	k := table.Key{Region: "AT13", Date: newYear}
	require.True(t, tbl.Has(k))
	assert.Equal(t, table.Valid(1), tbl.Get(k, "aqiwdpm10"), "30 µg/m³ PM10 is fair")
	assert.Equal(t, table.Valid(1), tbl.Get(k, "aqiwd"))
	assert.Equal(t, table.Valid(1), tbl.Get(k, "aqiw2dpm10"))
	assert.False(t, tbl.Get(k, "ndyprwpm10").Valid, "a week of history is missing")
	assert.Equal(t, 1, tbl.Len(), "2018 rows are history only")

	records := readCSV(t, filepath.Join(cfg.OutputDir, "eea_regions.csv"))
	require.Len(t, records, 2)
	assert.Equal(t, labels.AirQuality().Columns(), records[0])
	assert.Equal(t, []string{"2019-01-01", "AT13"}, records[1][:2])
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "eea_regions.sps"))
}

func TestPrepareERA5(t *testing.T) {
	p, st, cfg := newTestPipeline(t)
	seedGrid(t, st)

	require.NoError(t, p.PrepareERA5(context.Background()))

	tbl := loadStored(t, st, labels.Climate())
	k := table.Key{Region: "AT13", Date: newYear}
	require.True(t, tbl.Has(k))
	// Weighted 1:3 between 8 and 12 degrees.
	assert.InDelta(t, 11.0, tbl.Get(k, "tmpdca").Float64, 1e-9)
	assert.InDelta(t, 11.0, tbl.Get(k, "tmpdcmx").Float64, 1e-9)
	assert.InDelta(t, 2.4, tbl.Get(k, "paccta").Float64, 1e-9)

	assert.FileExists(t, filepath.Join(cfg.OutputDir, "era5_regions_2018_2019.csv"))
	records := readCSV(t, filepath.Join(cfg.OutputDir, "era5_regions.csv"))
	require.Len(t, records, 2)
	assert.Equal(t, labels.Climate().Columns(), records[0])
}

func TestMerge(t *testing.T) {
	p, st, cfg := newTestPipeline(t)
	seedReadings(t, st)
	seedGrid(t, st)

	ess := "idno,region,inwds\n1,AT13,2019-01-01 18:00:00\n2,UKI,2019-01-01\n3,AT13,\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "ESS9.csv"), []byte(ess), 0644))

	err := p.Merge(context.Background())
	require.Error(t, err, "tables are not prepared yet")
	assert.Contains(t, err.Error(), "prepare eea")

	require.NoError(t, p.PrepareEEA(context.Background()))
	require.NoError(t, p.PrepareERA5(context.Background()))
	require.NoError(t, p.Merge(context.Background()))

	records := readCSV(t, filepath.Join(cfg.OutputDir, "ESS9_merged.csv"))
	require.Len(t, records, 2, "only the dated AT13 respondent has both tables")
	header := records[0]
	assert.Equal(t, []string{"idno", "region", "inwds", "interview_date"}, header[:4])
	assert.Contains(t, header, "aqiwdpm10")
	assert.Contains(t, header, "tmpdca")
	assert.Equal(t, len(header), len(records[1]))
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "2019-01-01", records[1][3])

	syntax, err := os.ReadFile(filepath.Join(cfg.OutputDir, "ESS9_merged.sps"))
	require.NoError(t, err)
	assert.Contains(t, string(syntax), "interview_date (SDATE10)")
	assert.Contains(t, string(syntax), "aqiwdpm10 0 'Good'")
}

func TestPopulation(t *testing.T) {
	p, st, cfg := newTestPipeline(t)

	grid := "ncols 3\nnrows 1\nxllcorner 16.0\nyllcorner 48.0\ncellsize 0.5\nNODATA_value -1\n10 20 30\n"
	cfg.Population.Path = filepath.Join(cfg.DataDir, "pop.asc")
	require.NoError(t, os.WriteFile(cfg.Population.Path, []byte(grid), 0644))
	cfg.ERA5.GridStep = 0.1

	region := &spatial.Region{
		Polygonal: geom.Polygon{{{X: 16.2, Y: 48.1}, {X: 16.6, Y: 48.1}, {X: 16.6, Y: 48.4}, {X: 16.2, Y: 48.4}, {X: 16.2, Y: 48.1}}},
		ID:        "AT13",
	}
	points, err := p.population(context.Background(), []*spatial.Region{region})
	require.NoError(t, err)
	require.Len(t, points, 1, "only the cell centred at 16.25 lies within a grid step")
	assert.Equal(t, 10.0, points[0].Population)

	summary, err := st.GetFetchRunSummary("run-1")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "population", summary[0].Source)
	assert.Equal(t, 1, summary[0].SuccessRuns)

	cfg.Population.Path = ""
	_, err = p.population(context.Background(), []*spatial.Region{region})
	assert.ErrorContains(t, err, "no population raster")
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestFetchERA5_NeedsAPIKey(t *testing.T) {
	p, _, cfg := newTestPipeline(t)
	cfg.ERA5.APIKey = ""
	err := p.FetchERA5(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "API key"))
}
