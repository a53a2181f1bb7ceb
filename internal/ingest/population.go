package ingest

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/lox/esseosc/internal/spatial"
)

// WGS84 is the lon/lat reference the population points are returned in.
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// PopulationTransform returns the transform from a raster's PROJ.4 definition
// to lon/lat degrees. An empty definition needs no transform and returns nil.
func PopulationTransform(crs string) (proj.Transformer, error) {
	if crs == "" {
		return nil, nil
	}
	src, err := proj.Parse(crs)
	if err != nil {
		return nil, fmt.Errorf("parse population crs: %w", err)
	}
	dst, err := proj.Parse(WGS84)
	if err != nil {
		return nil, err
	}
	return src.NewTransform(dst)
}

// asciiHeader is the header of an ESRI ASCII grid.
type asciiHeader struct {
	ncols, nrows int
	x, y         float64
	center       bool
	cellSize     float64
	noData       float64
	hasNoData    bool
}

// ReadPopulation streams an ESRI ASCII grid and returns the populated cells
// whose centres, after transform, fall inside bounds. transform may be nil
// when the grid is in lon/lat degrees.
func ReadPopulation(r io.Reader, transform proj.Transformer, bounds *geom.Bounds) ([]spatial.PopulationPoint, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	h, first, err := readASCIIHeader(sc)
	if err != nil {
		return nil, err
	}

	var points []spatial.PopulationPoint
	x0 := h.x
	y0 := h.y
	if !h.center {
		x0 += h.cellSize / 2
		y0 += h.cellSize / 2
	}

	total := h.ncols * h.nrows
	for i := 0; i < total; i++ {
		var tok string
		if i == 0 {
			tok = first
		} else {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return nil, fmt.Errorf("read population grid: %w", err)
				}
				return nil, fmt.Errorf("population grid ends after %d of %d cells", i, total)
			}
			tok = sc.Text()
		}

		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("population cell %d: %w", i, err)
		}
		if (h.hasNoData && v == h.noData) || v <= 0 || math.IsNaN(v) {
			continue
		}

		row, col := i/h.ncols, i%h.ncols
		x := x0 + float64(col)*h.cellSize
		y := y0 + float64(h.nrows-1-row)*h.cellSize
		if transform != nil {
			if x, y, err = transform(x, y); err != nil {
				continue
			}
		}
		if bounds != nil && (x < bounds.Min.X || x > bounds.Max.X || y < bounds.Min.Y || y > bounds.Max.Y) {
			continue
		}
		points = append(points, spatial.PopulationPoint{Lon: x, Lat: y, Population: v})
	}
	return points, nil
}

// readASCIIHeader consumes the header keywords and returns the first data
// token, which ends the header.
func readASCIIHeader(sc *bufio.Scanner) (asciiHeader, string, error) {
	var h asciiHeader
	seen := make(map[string]bool)
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			for _, required := range []string{"ncols", "nrows", "cellsize"} {
				if !seen[required] {
					return h, "", fmt.Errorf("population grid header lacks %s", required)
				}
			}
			if !(seen["xllcorner"] || seen["xllcenter"]) || !(seen["yllcorner"] || seen["yllcenter"]) {
				return h, "", fmt.Errorf("population grid header lacks the lower-left corner")
			}
			return h, sc.Text(), nil
		}
		if !sc.Scan() {
			break
		}
		val := sc.Text()
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return h, "", fmt.Errorf("population grid header %s: %w", key, err)
		}
		seen[key] = true
		switch key {
		case "ncols":
			h.ncols = int(f)
		case "nrows":
			h.nrows = int(f)
		case "xllcorner":
			h.x = f
		case "xllcenter":
			h.x = f
			h.center = true
		case "yllcorner":
			h.y = f
		case "yllcenter":
			h.y = f
			h.center = true
		case "cellsize":
			h.cellSize = f
		case "nodata_value":
			h.noData = f
			h.hasNoData = true
		default:
			return h, "", fmt.Errorf("population grid header: unknown keyword %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return h, "", err
	}
	return h, "", fmt.Errorf("population grid has no data")
}
