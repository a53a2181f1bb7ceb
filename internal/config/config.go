// Package config holds the run configuration shared by every pipeline stage.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Region is an allow-listed region and the timezone used for its local dates.
type Region struct {
	ID       string `toml:"id"`
	Timezone string `toml:"timezone"`
}

// BoundarySet is a NUTS boundary file to resolve against. When Only is set,
// every other region of the file is ignored.
type BoundarySet struct {
	Year  int      `toml:"year"`
	Level int      `toml:"level"`
	Only  []string `toml:"only"`
}

type Period struct {
	From int `toml:"from"`
	To   int `toml:"to"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type EEA struct {
	MetadataURL string `toml:"metadata_url"`
	ListURL     string `toml:"list_url"`
	StationType string `toml:"station_type"`
	Years       Period `toml:"years"`
	Concurrency int    `toml:"concurrency"`
}

type ERA5 struct {
	APIURL       string   `toml:"api_url"`
	APIKey       string   `toml:"api_key"`
	Dataset      string   `toml:"dataset"`
	Years        Period   `toml:"years"`
	GridStep     float64  `toml:"grid_step"`
	Concurrency  int      `toml:"concurrency"`
	PollInterval Duration `toml:"poll_interval"`
	MaxPollWait  Duration `toml:"max_poll_wait"`
}

type Population struct {
	// Path is a local ESRI ASCII grid or a URL to fetch it from.
	Path string `toml:"path"`
	// CRS is the PROJ.4 definition of the raster coordinates. Empty means
	// lon/lat degrees.
	CRS string `toml:"crs"`
}

type Output struct {
	// FromYear drops earlier rows, which only feed the rolling windows.
	FromYear int `toml:"from_year"`
	// Timeseries bounds the full ERA5 timeseries output.
	Timeseries Period `toml:"timeseries"`
}

type Config struct {
	DataDir      string        `toml:"data_dir"`
	DownloadDir  string        `toml:"download_dir"`
	OutputDir    string        `toml:"output_dir"`
	DBPath       string        `toml:"db_path"`
	NUTSURL      string        `toml:"nuts_url"`
	Regions      []Region      `toml:"regions"`
	BoundarySets []BoundarySet `toml:"boundary_sets"`
	EEA          EEA           `toml:"eea"`
	ERA5         ERA5          `toml:"era5"`
	Population   Population    `toml:"population"`
	Baseline     Period        `toml:"baseline"`
	Output       Output        `toml:"output"`
	Surveys      []string      `toml:"surveys"`
}

// Default returns the configuration of the ESS rounds 8 to 10 enrichment.
func Default() Config {
	return Config{
		DataDir: "data",
		NUTSURL: "https://gisco-services.ec.europa.eu/distribution/v2/nuts/geojson/NUTS_RG_01M_{year}_4326_LEVL_{level}.geojson",
		Regions: []Region{
			{ID: "AT13", Timezone: "Europe/Vienna"},
			{ID: "BE10", Timezone: "Europe/Brussels"},
			{ID: "CZ010", Timezone: "Europe/Prague"},
			{ID: "DE3", Timezone: "Europe/Berlin"},
			{ID: "ES30", Timezone: "Europe/Madrid"},
			{ID: "FR10", Timezone: "Europe/Paris"},
			{ID: "HU101", Timezone: "Europe/Budapest"},
			{ID: "HU110", Timezone: "Europe/Budapest"},
			{ID: "NO01", Timezone: "Europe/Oslo"},
			{ID: "SE11", Timezone: "Europe/Stockholm"},
			{ID: "SE110", Timezone: "Europe/Stockholm"},
			{ID: "UKI", Timezone: "Europe/London"},
		},
		BoundarySets: []BoundarySet{
			{Year: 2016, Level: 1},
			{Year: 2016, Level: 2},
			{Year: 2016, Level: 3},
			// HU101 is missing from the 2016 vintage.
			{Year: 2013, Level: 3, Only: []string{"HU101"}},
		},
		EEA: EEA{
			MetadataURL: "https://discomap.eea.europa.eu/map/fme/metadata/PanEuropean_metadata.csv",
			ListURL:     "https://fme.discomap.eea.europa.eu/fmedatastreaming/AirQualityDownload/AQData_Extract.fmw",
			StationType: "background",
			Years:       Period{From: 1991, To: 2022},
			Concurrency: 8,
		},
		ERA5: ERA5{
			APIURL:       "https://cds.climate.copernicus.eu/api",
			Dataset:      "reanalysis-era5-single-levels",
			Years:        Period{From: 1990, To: 2022},
			GridStep:     0.1,
			Concurrency:  4,
			PollInterval: Duration{5 * time.Second},
			MaxPollWait:  Duration{6 * time.Hour},
		},
		Baseline: Period{From: 1991, To: 2020},
		Output: Output{
			FromYear:   2016,
			Timeseries: Period{From: 1991, To: 2022},
		},
		Surveys: []string{"ESS8e02_2.csv", "ESS9e03_1.csv", "ESS10.csv", "ESS10SC.csv"},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !(optional && errors.Is(err, os.ErrNotExist)) {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}
	cfg.fillPaths()
	return cfg, nil
}

func (c *Config) fillPaths() {
	if c.DownloadDir == "" {
		c.DownloadDir = filepath.Join(c.DataDir, "raw")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.DataDir, "output")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "esseosc.db")
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return errors.New("no regions configured")
	}
	seen := make(map[string]bool)
	for _, r := range c.Regions {
		if r.ID == "" {
			return errors.New("region with empty id")
		}
		if seen[r.ID] {
			return fmt.Errorf("region %s listed twice", r.ID)
		}
		seen[r.ID] = true
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("region %s timezone %q: %w", r.ID, r.Timezone, err)
		}
	}
	if len(c.BoundarySets) == 0 {
		return errors.New("no boundary sets configured")
	}
	for _, b := range c.BoundarySets {
		if b.Level < 0 || b.Level > 3 {
			return fmt.Errorf("boundary set %d: level %d out of range", b.Year, b.Level)
		}
	}
	for name, p := range map[string]Period{
		"eea.years":         c.EEA.Years,
		"era5.years":        c.ERA5.Years,
		"baseline":          c.Baseline,
		"output.timeseries": c.Output.Timeseries,
	} {
		if p.From > p.To {
			return fmt.Errorf("%s: from %d after to %d", name, p.From, p.To)
		}
	}
	if c.ERA5.GridStep <= 0 {
		return fmt.Errorf("era5.grid_step must be positive, got %g", c.ERA5.GridStep)
	}
	if c.EEA.Concurrency < 1 || c.ERA5.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if !strings.Contains(c.NUTSURL, "{year}") || !strings.Contains(c.NUTSURL, "{level}") {
		return fmt.Errorf("nuts_url %q needs {year} and {level}", c.NUTSURL)
	}
	return nil
}

// EnsureDirs creates the download and output directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DownloadDir, c.OutputDir, filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// RegionIDs returns the allow-listed region ids in configuration order.
func (c *Config) RegionIDs() []string {
	ids := make([]string, len(c.Regions))
	for i, r := range c.Regions {
		ids[i] = r.ID
	}
	return ids
}

// Location returns the timezone of a region.
func (c *Config) Location(region string) (*time.Location, error) {
	for _, r := range c.Regions {
		if r.ID == region {
			return time.LoadLocation(r.Timezone)
		}
	}
	return nil, fmt.Errorf("region %s not configured", region)
}

// BoundaryURL expands the NUTS URL template for a boundary set.
func (c *Config) BoundaryURL(b BoundarySet) string {
	return strings.NewReplacer(
		"{year}", strconv.Itoa(b.Year),
		"{level}", strconv.Itoa(b.Level),
	).Replace(c.NUTSURL)
}

// Allowed reports whether a region of boundary set b should be resolved.
func (c *Config) Allowed(b BoundarySet, region string) bool {
	if len(b.Only) > 0 {
		found := false
		for _, id := range b.Only {
			if id == region {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, r := range c.Regions {
		if r.ID == region {
			return true
		}
	}
	return false
}
