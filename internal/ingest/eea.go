package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/esseosc/internal/airquality"
	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/metrics"
	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/spatial"
	"github.com/lox/esseosc/internal/store"
)

// EEA timestamps carry their own UTC offset, e.g. "2019-01-01 01:00:00 +01:00".
const eeaTimeLayout = "2006-01-02 15:04:05 -07:00"

const utf8BOM = "\ufeff"

// CountryCode returns the EEA country code of a NUTS region id.
func CountryCode(region string) string {
	if len(region) < 2 {
		return region
	}
	cc := region[:2]
	if cc == "UK" {
		return "GB"
	}
	return cc
}

type columnIndex map[string]int

func newColumnIndex(header []string, required ...string) (columnIndex, error) {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		idx[strings.TrimPrefix(strings.TrimSpace(h), utf8BOM)] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func (c columnIndex) get(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ParseStationMetadata reads the tab-separated pan-European station metadata
// and returns the stations of the given type. The file lists one row per
// sampling point; the first row of each station is kept.
func ParseStationMetadata(r io.Reader, stationType string) ([]models.Station, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := newColumnIndex(header, "AirQualityStation", "AirQualityStationType", "Countrycode", "Longitude", "Latitude")
	if err != nil {
		return nil, fmt.Errorf("station metadata: %w", err)
	}

	seen := make(map[string]bool)
	var stations []models.Station
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read station metadata: %w", err)
		}

		id := cols.get(record, "AirQualityStation")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		st := models.Station{
			StationID:   id,
			CountryCode: cols.get(record, "Countrycode"),
			StationType: cols.get(record, "AirQualityStationType"),
		}
		if st.StationType != stationType {
			continue
		}
		if st.Longitude, err = strconv.ParseFloat(cols.get(record, "Longitude"), 64); err != nil {
			continue
		}
		if st.Latitude, err = strconv.ParseFloat(cols.get(record, "Latitude"), 64); err != nil {
			continue
		}
		stations = append(stations, st)
	}
	return stations, nil
}

// ParseListing splits the download service's URL listing into URLs.
func ParseListing(body string) []string {
	body = strings.TrimPrefix(body, utf8BOM)
	var urls []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls
}

// ReadStationCSV parses one EEA timeseries file. Rows with unparseable
// timestamps are skipped and counted; an unparseable concentration is stored as
// missing and counted.
func ReadStationCSV(r io.Reader, stationID string, p airquality.Pollutant) ([]models.Reading, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols, err := newColumnIndex(header, "DatetimeBegin", "DatetimeEnd", "Concentration")
	if err != nil {
		return nil, 0, fmt.Errorf("station csv: %w", err)
	}

	var readings []models.Reading
	parseErrors := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseErrors, fmt.Errorf("read station csv: %w", err)
		}
		if id := cols.get(record, "AirQualityStation"); id != "" && id != stationID {
			continue
		}

		begin, err := time.Parse(eeaTimeLayout, cols.get(record, "DatetimeBegin"))
		if err != nil {
			parseErrors++
			continue
		}
		end, err := time.Parse(eeaTimeLayout, cols.get(record, "DatetimeEnd"))
		if err != nil {
			parseErrors++
			continue
		}

		reading := models.Reading{
			StationID: stationID,
			Pollutant: p.Name,
			Begin:     begin,
			End:       end,
		}
		if s := cols.get(record, "Concentration"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				parseErrors++
			} else {
				reading.Concentration = sql.NullFloat64{Float64: v, Valid: true}
			}
		}
		readings = append(readings, reading)
	}
	return readings, parseErrors, nil
}

// LocatedStation is a station with the allow-listed regions it lies in.
type LocatedStation struct {
	models.Station
	Regions []string
}

// EEALoader downloads station metadata and readings and loads them into the
// store.
type EEALoader struct {
	cfg     config.EEA
	runID   string
	fetcher *fetch.Fetcher
	store   *store.Store
	logger  zerolog.Logger
}

func NewEEALoader(cfg config.EEA, runID string, fetcher *fetch.Fetcher, store *store.Store, logger zerolog.Logger) *EEALoader {
	return &EEALoader{
		cfg:     cfg,
		runID:   runID,
		fetcher: fetcher,
		store:   store,
		logger:  logger.With().Str("component", "eea").Logger(),
	}
}

// LoadStations resolves the metadata stations of the regions' countries and
// stores every station that lands in at least one region.
func (l *EEALoader) LoadStations(ctx context.Context, resolvers spatial.Resolvers, regions []string) ([]LocatedStation, error) {
	path, err := l.fetcher.Fetch(ctx, l.cfg.MetadataURL, "eea")
	if err != nil {
		return nil, fmt.Errorf("fetch station metadata: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := ParseStationMetadata(f, l.cfg.StationType)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(regions))
	countries := make(map[string]bool)
	for _, r := range regions {
		wanted[r] = true
		countries[CountryCode(r)] = true
	}

	var located []LocatedStation
	for _, st := range all {
		if !countries[st.CountryCode] {
			continue
		}
		assignments := resolvers.ResolveAll(st.Longitude, st.Latitude, func(set spatial.BoundarySet, err error) {
			dropped(l.logger, set, st.StationID, err)
		})

		var inRegions []string
		for _, a := range assignments {
			if !wanted[a.Region] {
				continue
			}
			if err := l.store.AssignStationRegion(st.StationID, a.Region, a.Set.String()); err != nil {
				return nil, fmt.Errorf("assign station %s: %w", st.StationID, err)
			}
			inRegions = append(inRegions, a.Region)
		}
		if len(inRegions) == 0 {
			continue
		}
		if err := l.store.UpsertStation(st); err != nil {
			return nil, fmt.Errorf("store station %s: %w", st.StationID, err)
		}
		located = append(located, LocatedStation{Station: st, Regions: inRegions})
	}

	l.logger.Info().Int("metadata_stations", len(all)).Int("located", len(located)).Msg("stations resolved")
	return located, nil
}

func dropped(logger zerolog.Logger, set spatial.BoundarySet, entity string, err error) {
	reason := "no_region"
	if errors.Is(err, spatial.ErrAmbiguousRegion) {
		reason = "ambiguous"
	}
	metrics.EntitiesDropped.WithLabelValues(set.String(), reason).Inc()
	logger.Debug().Err(err).Str("entity", entity).Str("boundary_set", set.String()).Msg("entity dropped")
}

// LoadReadings fetches every pollutant series of every station and stores the
// readings. Fetches fan out up to the configured concurrency; the first
// failure cancels the rest.
func (l *EEALoader) LoadReadings(ctx context.Context, stations []LocatedStation) error {
	sorted := append([]LocatedStation(nil), stations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StationID < sorted[j].StationID })

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, st := range sorted {
		for _, p := range airquality.Pollutants {
			g.Go(func() error {
				return l.loadSeries(ctx, st, p)
			})
		}
	}
	return g.Wait()
}

func (l *EEALoader) listURL(st models.Station, p airquality.Pollutant) string {
	q := url.Values{}
	q.Set("Pollutant", p.Code)
	q.Set("CountryCode", st.CountryCode)
	q.Set("Station", st.StationID)
	q.Set("Year_from", strconv.Itoa(l.cfg.Years.From))
	q.Set("Year_to", strconv.Itoa(l.cfg.Years.To))
	q.Set("Source", "All")
	q.Set("Output", "TEXT")
	q.Set("TimeCoverage", "Year")
	return l.cfg.ListURL + "?" + q.Encode()
}

func (l *EEALoader) loadSeries(ctx context.Context, st LocatedStation, p airquality.Pollutant) (err error) {
	target := st.StationID + "/" + p.Suffix
	run, runErr := l.store.StartFetchRun(l.runID, "eea", target)
	if runErr != nil {
		l.logger.Warn().Err(runErr).Str("target", target).Msg("failed to start fetch run")
	}
	defer func() {
		if cerr := l.store.CompleteFetchRun(run, err); cerr != nil {
			l.logger.Warn().Err(cerr).Str("target", target).Msg("failed to complete fetch run")
		}
	}()

	body, err := l.fetcher.Text(ctx, l.listURL(st.Station, p))
	if errors.Is(err, fetch.ErrNoContent) {
		l.logger.Debug().Str("target", target).Msg("no data")
		return nil
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", target, err)
	}

	var readings []models.Reading
	parseErrors := 0
	for _, u := range ParseListing(body) {
		path, err := l.fetcher.Fetch(ctx, u, "eea/raw")
		if err != nil {
			return fmt.Errorf("fetch %s: %w", target, err)
		}
		rs, n, err := readStationFile(path, st.StationID, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		readings = append(readings, rs...)
		parseErrors += n
	}

	for i := range readings {
		flags := ValidateReading(&readings[i])
		for _, f := range flags {
			metrics.ReadingsRejected.WithLabelValues("eea", f).Inc()
		}
		readings[i].QualityFlags = QualityFlagsToJSON(flags)
	}

	stored, err := l.store.InsertReadings(readings)
	if err != nil {
		return fmt.Errorf("store %s: %w", target, err)
	}
	for _, region := range st.Regions {
		metrics.ReadingsLoaded.WithLabelValues("eea", region).Add(float64(stored))
	}
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(readings)), Valid: true}
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		run.ParseErrors = sql.NullInt64{Int64: int64(parseErrors), Valid: true}
	}

	l.logger.Debug().Str("target", target).Int("parsed", len(readings)).Int("stored", stored).Int("parse_errors", parseErrors).Msg("series loaded")
	return nil
}

func readStationFile(path, stationID string, p airquality.Pollutant) ([]models.Reading, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadStationCSV(f, stationID, p)
}
