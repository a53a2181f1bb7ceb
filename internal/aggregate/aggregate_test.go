package aggregate

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/table"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name string
		q    float64
		x    []float64
		want float64
	}{
		{"single", 0.99, []float64{7}, 7},
		{"median even", 0.5, []float64{1, 2, 3, 4}, 2.5},
		{"p99 of 1..100", 0.99, seq(1, 100), 99.01},
		{"p95 of 1..5", 0.95, []float64{1, 2, 3, 4, 5}, 4.8},
		{"min", 0, []float64{1, 2}, 1},
		{"max", 1, []float64{1, 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantile(tt.q, tt.x), 1e-9)
		})
	}
}

func TestPercentileSortsInput(t *testing.T) {
	assert.InDelta(t, 4.8, Percentile(95)([]float64{5, 1, 4, 2, 3}), 1e-9)
}

func TestReducers(t *testing.T) {
	x := []float64{3, 1, 2}
	assert.Equal(t, 3.0, Max(x))
	assert.Equal(t, 1.0, Min(x))
	assert.Equal(t, 6.0, Sum(x))
	assert.Equal(t, 2.0, Mean(x))
}

func TestDailyUsesOwnOffset(t *testing.T) {
	cet := time.FixedZone("", 3600)
	obs := []models.Observation{
		// 23:00 UTC on the 1st is 00:00 on the 2nd in the reported offset.
		{EntityID: "S1", Variable: "PM10", Region: "AT13", ObservedAt: time.Date(2020, 1, 2, 0, 0, 0, 0, cet), Value: 10},
		{EntityID: "S1", Variable: "PM10", Region: "AT13", ObservedAt: time.Date(2020, 1, 2, 1, 0, 0, 0, cet), Value: 30},
		{EntityID: "S1", Variable: "PM10", Region: "AT13", ObservedAt: time.Date(2020, 1, 1, 23, 0, 0, 0, cet), Value: 50},
	}

	days := Daily(obs, OwnOffset, Max)
	require.Len(t, days, 2)
	assert.Equal(t, civil.Date{Year: 2020, Month: 1, Day: 1}, days[0].Date)
	assert.Equal(t, 50.0, days[0].Value)
	assert.Equal(t, civil.Date{Year: 2020, Month: 1, Day: 2}, days[1].Date)
	assert.Equal(t, 30.0, days[1].Value)
}

func TestInLocation(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	// 23:30 UTC in July is 00:30 BST the next day.
	got := InLocation(london)(time.Date(2020, 7, 1, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, civil.Date{Year: 2020, Month: 7, Day: 2}, got)
}

func TestMaxAcrossEntities(t *testing.T) {
	d := civil.Date{Year: 2020, Month: 3, Day: 1}
	days := []models.EntityDay{
		{Region: "CZ010", EntityID: "A", Variable: "NO2", Date: d, Value: 40},
		{Region: "CZ010", EntityID: "B", Variable: "NO2", Date: d, Value: 95},
		{Region: "CZ010", EntityID: "C", Variable: "NO2", Date: d, Value: 60},
		{Region: "CZ010", EntityID: "C", Variable: "PM10", Date: d, Value: 25},
	}
	tbl := table.New("NO2", "PM10", "O3")
	require.NoError(t, MaxAcrossEntities(days, tbl))

	k := table.Key{Region: "CZ010", Date: d}
	assert.Equal(t, 95.0, tbl.Get(k, "NO2").Float64)
	assert.Equal(t, 25.0, tbl.Get(k, "PM10").Float64)
	assert.False(t, tbl.Get(k, "O3").Valid)

	err := MaxAcrossEntities([]models.EntityDay{{Region: "CZ010", Variable: "CO", Date: d}}, tbl)
	assert.ErrorIs(t, err, table.ErrUnknownVariable)
}

func TestPopulationWeighted(t *testing.T) {
	d := civil.Date{Year: 2020, Month: 6, Day: 1}
	cells := []CellDay{
		{Region: "UKI", GridID: 1, Date: d, Population: 1, Values: map[string]float64{"tmpdca": 10, "paccta": 4}},
		{Region: "UKI", GridID: 2, Date: d, Population: 3, Values: map[string]float64{"tmpdca": 20}},
		{Region: "UKI", GridID: 3, Date: d, Population: 0, Values: map[string]float64{"tmpdca": 1000, "paccta": 1000}},
	}
	tbl := table.New("tmpdca", "paccta", "iwg10mx")

	unpopulated, err := PopulationWeighted(cells, tbl.Variables(), tbl)
	require.NoError(t, err)
	assert.Empty(t, unpopulated)

	k := table.Key{Region: "UKI", Date: d}
	assert.InDelta(t, 17.5, tbl.Get(k, "tmpdca").Float64, 1e-9)
	// Only cell 1 has precipitation, so it alone forms the denominator.
	assert.InDelta(t, 4.0, tbl.Get(k, "paccta").Float64, 1e-9)
	assert.False(t, tbl.Get(k, "iwg10mx").Valid)
}

func TestPopulationWeighted_ZeroPopulation(t *testing.T) {
	d := civil.Date{Year: 2020, Month: 6, Day: 1}
	cells := []CellDay{
		{Region: "NO01", GridID: 1, Date: d, Population: 0, Values: map[string]float64{"tmpdca": 5}},
		{Region: "NO01", GridID: 2, Date: d, Population: 0, Values: map[string]float64{"tmpdca": 7}},
	}
	tbl := table.New("tmpdca")

	unpopulated, err := PopulationWeighted(cells, tbl.Variables(), tbl)
	require.NoError(t, err)

	k := table.Key{Region: "NO01", Date: d}
	assert.Equal(t, []table.Key{k}, unpopulated)
	assert.True(t, tbl.Has(k))
	assert.False(t, tbl.Get(k, "tmpdca").Valid)
}

func seq(from, to int) []float64 {
	var out []float64
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}
