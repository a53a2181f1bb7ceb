package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/lox/esseosc/internal/models"
)

// Field is one hourly variable of an ERA5 NetCDF file. Values are unpacked,
// time-major, then latitude, then longitude; missing values are NaN.
type Field struct {
	Name   string
	Times  []time.Time
	Lats   []float64
	Lons   []float64
	Values []float64
}

func (f *Field) At(t, lat, lon int) float64 {
	return f.Values[(t*len(f.Lats)+lat)*len(f.Lons)+lon]
}

var (
	timeDims = []string{"time", "valid_time"}
	latDims  = []string{"latitude", "lat"}
	lonDims  = []string{"longitude", "lon"}
)

// ReadField reads variable name from a NetCDF file. The variable must have a
// time, a latitude and a longitude dimension in any order; other dimensions
// must have length one.
func ReadField(path, name string) (*Field, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %s: %w", path, name, err)
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, err
	}

	f := &Field{Name: name}
	shape := make([]int, len(dims))
	roles := make([]string, len(dims))
	for i, d := range dims {
		dimName, err := d.Name()
		if err != nil {
			return nil, err
		}
		n, err := d.Len()
		if err != nil {
			return nil, err
		}
		shape[i] = int(n)

		switch {
		case contains(timeDims, dimName):
			roles[i] = "time"
			if f.Times, err = readTimes(ds, dimName); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case contains(latDims, dimName):
			roles[i] = "lat"
			if f.Lats, err = readCoordinate(ds, dimName); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case contains(lonDims, dimName):
			roles[i] = "lon"
			if f.Lons, err = readCoordinate(ds, dimName); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		default:
			if n != 1 {
				return nil, fmt.Errorf("%s: %s has unexpected dimension %s of length %d", path, name, dimName, n)
			}
		}
	}
	if f.Times == nil || f.Lats == nil || f.Lons == nil {
		return nil, fmt.Errorf("%s: %s lacks a time, latitude or longitude dimension", path, name)
	}

	raw, err := readValues(v)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", path, name, err)
	}
	unpack, err := unpacker(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %s attributes: %w", path, name, err)
	}

	// Reorder into time, lat, lon using the strides of the stored order.
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	var st, sl, sn int
	for i, role := range roles {
		switch role {
		case "time":
			st = strides[i]
		case "lat":
			sl = strides[i]
		case "lon":
			sn = strides[i]
		}
	}

	f.Values = make([]float64, len(f.Times)*len(f.Lats)*len(f.Lons))
	k := 0
	for t := range f.Times {
		for i := range f.Lats {
			for j := range f.Lons {
				f.Values[k] = unpack(raw[t*st+i*sl+j*sn])
				k++
			}
		}
	}
	return f, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func readCoordinate(ds netcdf.Dataset, name string) ([]float64, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	return readValues(v)
}

func readTimes(ds netcdf.Dataset, name string) ([]time.Time, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	units, ok, err := attrString(v, "units")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("coordinate %s has no units", name)
	}
	unit, ref, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	offsets, err := readValues(v)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(offsets))
	for i, o := range offsets {
		times[i] = ref.Add(time.Duration(math.Round(o * float64(unit))))
	}
	return times, nil
}

var timeUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// ParseTimeUnits parses CF time units such as "hours since 1900-01-01
// 00:00:00.0". The reference time is taken as UTC.
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unitName, rest, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: missing \"since\"", units)
	}
	unit, ok := timeUnits[strings.ToLower(strings.TrimSpace(unitName))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: unknown unit %q", units, unitName)
	}

	ref := strings.TrimSuffix(strings.TrimSpace(rest), "Z")
	ref = strings.Replace(ref, "T", " ", 1)
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		ref = ref[:i]
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, ref, time.UTC); err == nil {
			return unit, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: unparseable reference time", units)
}

func readValues(v netcdf.Var) ([]float64, error) {
	n, err := v.Len()
	if err != nil {
		return nil, err
	}
	t, err := v.Type()
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := v.ReadFloat32s(buf); err != nil {
			return nil, err
		}
		for i, x := range buf {
			out[i] = float64(x)
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := v.ReadInt16s(buf); err != nil {
			return nil, err
		}
		for i, x := range buf {
			out[i] = float64(x)
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err := v.ReadInt32s(buf); err != nil {
			return nil, err
		}
		for i, x := range buf {
			out[i] = float64(x)
		}
	case netcdf.INT64:
		buf := make([]int64, n)
		if err := v.ReadInt64s(buf); err != nil {
			return nil, err
		}
		for i, x := range buf {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("unsupported variable type %v", t)
	}
	return out, nil
}

// unpacker returns the function turning a stored value into a physical value,
// applying _FillValue, missing_value, scale_factor and add_offset.
func unpacker(v netcdf.Var) (func(float64) float64, error) {
	scale, hasScale, err := attrFloat(v, "scale_factor")
	if err != nil {
		return nil, err
	}
	offset, _, err := attrFloat(v, "add_offset")
	if err != nil {
		return nil, err
	}
	fill, hasFill, err := attrFloat(v, "_FillValue")
	if err != nil {
		return nil, err
	}
	missing, hasMissing, err := attrFloat(v, "missing_value")
	if err != nil {
		return nil, err
	}
	if !hasScale {
		scale = 1
	}

	return func(raw float64) float64 {
		if (hasFill && raw == fill) || (hasMissing && raw == missing) || math.IsNaN(raw) {
			return math.NaN()
		}
		return raw*scale + offset
	}, nil
}

func attrFloat(v netcdf.Var, name string) (float64, bool, error) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		// The library reports an absent attribute as an error.
		return 0, false, nil
	}
	t, err := a.Type()
	if err != nil {
		return 0, false, err
	}

	switch t {
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err != nil {
			return 0, false, err
		}
		return buf[0], true, nil
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err != nil {
			return 0, false, err
		}
		return float64(buf[0]), true, nil
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := a.ReadInt16s(buf); err != nil {
			return 0, false, err
		}
		return float64(buf[0]), true, nil
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err != nil {
			return 0, false, err
		}
		return float64(buf[0]), true, nil
	default:
		return 0, false, fmt.Errorf("attribute %s: unsupported type %v", name, t)
	}
}

func attrString(v netcdf.Var, name string) (string, bool, error) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false, nil
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false, fmt.Errorf("attribute %s: %w", name, err)
	}
	return strings.TrimRight(string(buf), "\x00"), true, nil
}

// coordinate keys are rounded so float32 and float64 encodings of the same
// grid point compare equal.
func coordKey(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

type lonLat struct {
	lon, lat float64
}

// GridIndex numbers a region's grid points, sorted by longitude then
// latitude. The numbering is stable for a fixed request area and step.
type GridIndex struct {
	region string
	ids    map[lonLat]int
	cells  []models.GridCell
}

func NewGridIndex(region string, lons, lats []float64) *GridIndex {
	points := make([]lonLat, 0, len(lons)*len(lats))
	for _, lon := range lons {
		for _, lat := range lats {
			points = append(points, lonLat{coordKey(lon), coordKey(lat)})
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].lon != points[j].lon {
			return points[i].lon < points[j].lon
		}
		return points[i].lat < points[j].lat
	})

	idx := &GridIndex{region: region, ids: make(map[lonLat]int, len(points))}
	for _, p := range points {
		if _, ok := idx.ids[p]; ok {
			continue
		}
		id := len(idx.cells)
		idx.ids[p] = id
		idx.cells = append(idx.cells, models.GridCell{Region: region, GridID: id, Longitude: p.lon, Latitude: p.lat})
	}
	return idx
}

// Cells returns a copy of the indexed grid cells, ordered by id.
func (g *GridIndex) Cells() []models.GridCell {
	return append([]models.GridCell(nil), g.cells...)
}

func (g *GridIndex) ID(lon, lat float64) (int, bool) {
	id, ok := g.ids[lonLat{coordKey(lon), coordKey(lat)}]
	return id, ok
}

var errGridMismatch = errors.New("fields are on different grids")

// Flatten joins the temperature, precipitation and gust fields of one month
// into one reading per grid point and hour. Hours missing from a field leave
// that value missing.
func Flatten(idx *GridIndex, temp, precip, gust *Field) ([]models.GridReading, error) {
	for _, f := range []*Field{precip, gust} {
		if len(f.Lats) != len(temp.Lats) || len(f.Lons) != len(temp.Lons) {
			return nil, fmt.Errorf("%s and %s: %w", temp.Name, f.Name, errGridMismatch)
		}
	}

	ids := make([]int, len(temp.Lats)*len(temp.Lons))
	for i, lat := range temp.Lats {
		for j, lon := range temp.Lons {
			id, ok := idx.ID(lon, lat)
			if !ok {
				return nil, fmt.Errorf("grid point (%g, %g) not in %s grid", lon, lat, idx.region)
			}
			ids[i*len(temp.Lons)+j] = id
		}
	}

	precipAt := timeIndex(precip)
	gustAt := timeIndex(gust)

	readings := make([]models.GridReading, 0, len(temp.Times)*len(ids))
	for t, ts := range temp.Times {
		pt, hasP := precipAt[ts.Unix()]
		gt, hasG := gustAt[ts.Unix()]
		for i := range temp.Lats {
			for j := range temp.Lons {
				r := models.GridReading{
					Region:     idx.region,
					GridID:     ids[i*len(temp.Lons)+j],
					ObservedAt: ts.UTC(),
					Temp:       nullable(temp.At(t, i, j)),
				}
				if hasP {
					r.Precip = nullable(precip.At(pt, i, j))
				}
				if hasG {
					r.WindGust = nullable(gust.At(gt, i, j))
				}
				readings = append(readings, r)
			}
		}
	}
	return readings, nil
}

func timeIndex(f *Field) map[int64]int {
	m := make(map[int64]int, len(f.Times))
	for i, t := range f.Times {
		m[t.Unix()] = i
	}
	return m
}

func nullable(x float64) sql.NullFloat64 {
	if math.IsNaN(x) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}
