package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/spatial"
)

type nutsCollection struct {
	Features []struct {
		Properties struct {
			NUTSID  string `json:"NUTS_ID"`
			Level   int    `json:"LEVL_CODE"`
			Country string `json:"CNTR_CODE"`
		} `json:"properties"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// ReadBoundaries decodes a GISCO NUTS GeoJSON feature collection and returns
// the regions keep accepts.
func ReadBoundaries(r io.Reader, set spatial.BoundarySet, keep func(id string) bool) ([]spatial.Region, error) {
	var fc nutsCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode %s boundaries: %w", set, err)
	}

	var regions []spatial.Region
	for _, f := range fc.Features {
		id := f.Properties.NUTSID
		if keep != nil && !keep(id) {
			continue
		}
		g, err := geojson.Decode(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%s region %s geometry: %w", set, id, err)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("%s region %s: geometry %T is not polygonal", set, id, g)
		}
		regions = append(regions, spatial.Region{
			Polygonal:   poly,
			ID:          id,
			Level:       f.Properties.Level,
			CountryCode: f.Properties.Country,
			Set:         set,
		})
	}
	return regions, nil
}

// LoadResolvers fetches every configured boundary set and builds one resolver
// per set holding only its allow-listed regions.
func LoadResolvers(ctx context.Context, cfg *config.Config, fetcher *fetch.Fetcher, logger zerolog.Logger) (spatial.Resolvers, error) {
	logger = logger.With().Str("component", "nuts").Logger()

	var resolvers spatial.Resolvers
	found := make(map[string]bool)
	for _, b := range cfg.BoundarySets {
		set := spatial.BoundarySet{Year: b.Year, Level: b.Level}
		path, err := fetcher.Fetch(ctx, cfg.BoundaryURL(b), "nuts")
		if err != nil {
			return nil, fmt.Errorf("fetch %s boundaries: %w", set, err)
		}
		regions, err := readBoundaryFile(path, set, func(id string) bool {
			return cfg.Allowed(b, id)
		})
		if err != nil {
			return nil, err
		}
		for _, r := range regions {
			found[r.ID] = true
		}
		logger.Debug().Str("boundary_set", set.String()).Int("regions", len(regions)).Msg("boundaries loaded")
		resolvers = append(resolvers, spatial.NewResolver(set, regions))
	}

	for _, id := range cfg.RegionIDs() {
		if !found[id] {
			return nil, fmt.Errorf("region %s is in no boundary set", id)
		}
	}
	return resolvers, nil
}

func readBoundaryFile(path string, set spatial.BoundarySet, keep func(string) bool) ([]spatial.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBoundaries(f, set, keep)
}
