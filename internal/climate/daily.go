package climate

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/aggregate"
	"github.com/lox/esseosc/internal/models"
)

// Daily grid-cell variables.
const (
	TempMean  = "tmpdca"
	TempMax   = "tmpdcmx"
	TempMin   = "tmpdcmn"
	PrecipSum = "paccta"
	GustMax   = "iwg10mx"
)

// DailyVariables are the variables produced per grid cell and day.
var DailyVariables = []string{TempMean, TempMax, TempMin, PrecipSum, GustMax}

type cellDate struct {
	grid int
	date civil.Date
}

// DailyGrid accumulates one region's hourly readings into daily cell values.
// Readings must arrive ordered by grid cell and time, as the store returns them.
type DailyGrid struct {
	region     string
	loc        *time.Location
	population map[int]float64

	current cellDate
	started bool
	temps   []float64
	precips []float64
	gusts   []float64

	days []aggregate.CellDay
}

// NewDailyGrid buckets readings by their date in loc. Cells not listed in cells
// carry no population.
func NewDailyGrid(region string, loc *time.Location, cells []models.GridCell) *DailyGrid {
	pop := make(map[int]float64, len(cells))
	for _, c := range cells {
		pop[c.GridID] = c.Population
	}
	return &DailyGrid{region: region, loc: loc, population: pop}
}

func (g *DailyGrid) Add(r models.GridReading) {
	k := cellDate{grid: r.GridID, date: civil.DateOf(r.ObservedAt.In(g.loc))}
	if g.started && k != g.current {
		g.flush()
	}
	g.current = k
	g.started = true

	if r.Temp.Valid {
		g.temps = append(g.temps, KelvinToCelsius(r.Temp.Float64))
	}
	if r.Precip.Valid {
		g.precips = append(g.precips, MetresToMillimetres(r.Precip.Float64))
	}
	if r.WindGust.Valid {
		g.gusts = append(g.gusts, r.WindGust.Float64)
	}
}

func (g *DailyGrid) flush() {
	values := make(map[string]float64, len(DailyVariables))
	if len(g.temps) > 0 {
		values[TempMean] = aggregate.Mean(g.temps)
		values[TempMax] = aggregate.Max(g.temps)
		values[TempMin] = aggregate.Min(g.temps)
	}
	if len(g.precips) > 0 {
		values[PrecipSum] = aggregate.Sum(g.precips)
	}
	if len(g.gusts) > 0 {
		values[GustMax] = aggregate.Max(g.gusts)
	}
	g.days = append(g.days, aggregate.CellDay{
		Region:     g.region,
		GridID:     g.current.grid,
		Date:       g.current.date,
		Population: g.population[g.current.grid],
		Values:     values,
	})
	g.temps = g.temps[:0]
	g.precips = g.precips[:0]
	g.gusts = g.gusts[:0]
}

// Days flushes the pending day and returns every cell day seen so far.
func (g *DailyGrid) Days() []aggregate.CellDay {
	if g.started {
		g.flush()
		g.started = false
	}
	return g.days
}
