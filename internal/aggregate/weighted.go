package aggregate

import (
	"database/sql"
	"sort"

	"cloud.google.com/go/civil"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/esseosc/internal/table"
)

// CellDay holds the daily values of one grid cell. Values maps a variable name
// to its value; a variable absent from the map is missing for that cell.
type CellDay struct {
	Region     string
	GridID     int
	Date       civil.Date
	Population float64
	Values     map[string]float64
}

type weightedSeries struct {
	values  []float64
	weights []float64
}

// PopulationWeighted collapses cell days to one row per region-day in t, using
// cell population as the weight. A cell missing a variable is left out of both
// numerator and denominator for that variable. A region-day whose cells carry
// no population at all gets a row with every variable missing; its key is
// returned so the caller can report it.
func PopulationWeighted(cells []CellDay, variables []string, t *table.Table) ([]table.Key, error) {
	type group struct {
		population float64
		series     map[string]*weightedSeries
	}
	groups := make(map[table.Key]*group)
	for _, c := range cells {
		k := table.Key{Region: c.Region, Date: c.Date}
		g, ok := groups[k]
		if !ok {
			g = &group{series: make(map[string]*weightedSeries)}
			groups[k] = g
		}
		g.population += c.Population
		if c.Population <= 0 {
			continue
		}
		for _, v := range variables {
			val, ok := c.Values[v]
			if !ok {
				continue
			}
			s, ok := g.series[v]
			if !ok {
				s = &weightedSeries{}
				g.series[v] = s
			}
			s.values = append(s.values, val)
			s.weights = append(s.weights, c.Population)
		}
	}

	var unpopulated []table.Key
	for k, g := range groups {
		t.Ensure(k)
		if g.population <= 0 {
			unpopulated = append(unpopulated, k)
			continue
		}
		for _, v := range variables {
			value := sql.NullFloat64{}
			if s, ok := g.series[v]; ok && len(s.values) > 0 {
				value = table.Valid(stat.Mean(s.values, s.weights))
			}
			if err := t.Set(k, v, value); err != nil {
				return nil, err
			}
		}
	}
	sort.Slice(unpopulated, func(i, j int) bool {
		if unpopulated[i].Region != unpopulated[j].Region {
			return unpopulated[i].Region < unpopulated[j].Region
		}
		return unpopulated[i].Date.Before(unpopulated[j].Date)
	})
	return unpopulated, nil
}
