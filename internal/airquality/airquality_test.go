package airquality

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/table"
)

func TestBin(t *testing.T) {
	tests := []struct {
		p     Pollutant
		conc  float64
		want  Level
		valid bool
	}{
		{PM10, 0, LevelGood, true},
		{PM10, 20, LevelGood, true},
		{PM10, 20.01, LevelFair, true},
		{PM10, 25, LevelFair, true},
		{NO2, 95, LevelModerate, true},
		{NO2, 230, LevelPoor, true},
		{O3, 800, LevelExtremelyPoor, true},
		{O3, 800.5, 0, false},
		{SO2, -1, 0, false},
		{PM25, 75.5, LevelExtremelyPoor, true},
	}
	for _, tt := range tests {
		got, ok := tt.p.Bin(tt.conc)
		assert.Equal(t, tt.valid, ok, "%s %v", tt.p.Name, tt.conc)
		if tt.valid {
			assert.Equal(t, tt.want, got, "%s %v", tt.p.Name, tt.conc)
		}
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "Extremely poor", LevelExtremelyPoor.String())
	assert.True(t, LevelPoor.IsPoor())
	assert.False(t, LevelModerate.IsPoor())
}

func TestByName(t *testing.T) {
	p, ok := ByName("PM2.5")
	require.True(t, ok)
	assert.Equal(t, "pm2_5", p.Suffix)
	p, ok = ByName("8")
	require.True(t, ok)
	assert.Equal(t, NO2, p)
	_, ok = ByName("CO")
	assert.False(t, ok)
}

func TestIndexVariablesMatchLabels(t *testing.T) {
	assert.Equal(t, labels.AirQuality().ValueColumns(), IndexVariables())
}

func concTable(t *testing.T, region string, start civil.Date, values map[string][]float64) *table.Table {
	t.Helper()
	tbl := table.New(ConcentrationVariables()...)
	for name, series := range values {
		for i, v := range series {
			if v < 0 {
				continue
			}
			require.NoError(t, tbl.Set(table.Key{Region: region, Date: start.AddDays(i)}, name, table.Valid(v)))
		}
	}
	return tbl
}

func TestDerive_WorstAcrossPollutants(t *testing.T) {
	d := civil.Date{Year: 2018, Month: 5, Day: 1}
	conc := concTable(t, "DE3", d, map[string][]float64{
		"PM10": {25},
		"NO2":  {95},
	})

	out, err := Derive(conc)
	require.NoError(t, err)

	k := table.Key{Region: "DE3", Date: d}
	assert.Equal(t, 1.0, out.Get(k, "aqiwdpm10").Float64)
	assert.Equal(t, 2.0, out.Get(k, "aqiwdno2").Float64)
	assert.Equal(t, 2.0, out.Get(k, "aqiwd").Float64)
	assert.False(t, out.Get(k, "aqiwdo3").Valid)
	assert.Equal(t, 2.0, out.Get(k, "aqiw2d").Float64)
}

func TestDerive_TwoDayWorst(t *testing.T) {
	d := civil.Date{Year: 2018, Month: 5, Day: 1}
	conc := concTable(t, "ES30", d, map[string][]float64{
		"O3": {250, 10, 10},
	})

	out, err := Derive(conc)
	require.NoError(t, err)

	assert.Equal(t, 3.0, out.Get(table.Key{Region: "ES30", Date: d}, "aqiw2do3").Float64)
	assert.Equal(t, 3.0, out.Get(table.Key{Region: "ES30", Date: d.AddDays(1)}, "aqiw2do3").Float64)
	assert.Equal(t, 0.0, out.Get(table.Key{Region: "ES30", Date: d.AddDays(2)}, "aqiw2do3").Float64)
}

func TestDerive_PoorDayCounts(t *testing.T) {
	d := civil.Date{Year: 2018, Month: 1, Day: 1}
	// Days 0, 2 and 7 are poor on PM10. SO2 only reported on day 1.
	conc := concTable(t, "FR10", d, map[string][]float64{
		"PM10": {120, 10, 101, 10, 10, 10, 10, 200, -1},
		"SO2":  {-1, 5},
	})
	require.NoError(t, conc.Set(table.Key{Region: "FR10", Date: d.AddDays(8)}, "NO2", table.Valid(10)))

	out, err := Derive(conc)
	require.NoError(t, err)

	get := func(i int) table.Key { return table.Key{Region: "FR10", Date: d.AddDays(i)} }
	for i := 0; i < 6; i++ {
		assert.False(t, out.Get(get(i), "ndyprwpm10").Valid, "day %d", i)
	}
	assert.Equal(t, 2.0, out.Get(get(6), "ndyprwpm10").Float64)
	assert.Equal(t, 2.0, out.Get(get(6), "ndyprw").Float64)
	assert.Equal(t, 2.0, out.Get(get(7), "ndyprwpm10").Float64)
	// Day 8 has no PM10, which counts as not poor.
	assert.Equal(t, 2.0, out.Get(get(8), "ndyprwpm10").Float64)
	assert.Equal(t, 0.0, out.Get(get(6), "ndyprwso2").Float64)
	assert.False(t, out.Get(get(8), "ndyprm").Valid)
}

func TestDerive_GapMakesCountUndefined(t *testing.T) {
	d := civil.Date{Year: 2018, Month: 1, Day: 1}
	conc := table.New(ConcentrationVariables()...)
	for i := 0; i < 10; i++ {
		if i == 3 {
			continue
		}
		require.NoError(t, conc.Set(table.Key{Region: "UKI", Date: d.AddDays(i)}, "PM10", table.Valid(10)))
	}

	out, err := Derive(conc)
	require.NoError(t, err)
	assert.False(t, out.Has(table.Key{Region: "UKI", Date: d.AddDays(3)}))
	assert.False(t, out.Get(table.Key{Region: "UKI", Date: d.AddDays(9)}, "ndyprw").Valid)

	conc.Ensure(table.Key{Region: "UKI", Date: d.AddDays(3)})
	out, err = Derive(conc)
	require.NoError(t, err)
	assert.False(t, out.Has(table.Key{Region: "UKI", Date: d.AddDays(3)}), "empty day is not a row")
}
