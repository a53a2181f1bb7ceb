package climate

import (
	"database/sql"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/esseosc/internal/labels"
	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/rolling"
	"github.com/lox/esseosc/internal/table"
)

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func TestUnits(t *testing.T) {
	assert.InDelta(t, 0.0, KelvinToCelsius(273.15), 1e-9)
	assert.InDelta(t, 1.23, MetresToMillimetres(0.0012345), 1e-9)
	assert.InDelta(t, 0.0, MetresToMillimetres(0.000001), 1e-9)
}

func TestVariablesMatchLabels(t *testing.T) {
	got := Variables()
	want := labels.Climate().ValueColumns()
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestDailyGrid_LocalDate(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cells := []models.GridCell{{Region: "DE3", GridID: 1, Population: 50}}
	g := NewDailyGrid("DE3", berlin, cells)

	// 22:00 UTC on 2020-01-01 is 23:00 in Berlin; 23:00 UTC is already the 2nd.
	t0 := time.Date(2020, 1, 1, 22, 0, 0, 0, time.UTC)
	g.Add(models.GridReading{GridID: 1, ObservedAt: t0, Temp: valid(273.15), Precip: valid(0.001), WindGust: valid(5)})
	g.Add(models.GridReading{GridID: 1, ObservedAt: t0.Add(time.Hour), Temp: valid(275.15), Precip: valid(0.002)})
	g.Add(models.GridReading{GridID: 1, ObservedAt: t0.Add(2 * time.Hour), Temp: valid(277.15), Precip: valid(0.003), WindGust: valid(9)})
	g.Add(models.GridReading{GridID: 2, ObservedAt: t0, Temp: valid(280.15)})

	days := g.Days()
	require.Len(t, days, 3)

	first := days[0]
	assert.Equal(t, civil.Date{Year: 2020, Month: 1, Day: 1}, first.Date)
	assert.Equal(t, 50.0, first.Population)
	assert.InDelta(t, 0.0, first.Values[TempMean], 1e-9)
	assert.InDelta(t, 1.0, first.Values[PrecipSum], 1e-9)
	assert.InDelta(t, 5.0, first.Values[GustMax], 1e-9)

	second := days[1]
	assert.Equal(t, civil.Date{Year: 2020, Month: 1, Day: 2}, second.Date)
	assert.InDelta(t, 3.0, second.Values[TempMean], 1e-9)
	assert.InDelta(t, 4.0, second.Values[TempMax], 1e-9)
	assert.InDelta(t, 2.0, second.Values[TempMin], 1e-9)
	assert.InDelta(t, 5.0, second.Values[PrecipSum], 1e-9)
	assert.InDelta(t, 9.0, second.Values[GustMax], 1e-9)

	// Unlisted cells carry no population and no precipitation.
	assert.Equal(t, 2, days[2].GridID)
	assert.Zero(t, days[2].Population)
	_, ok := days[2].Values[PrecipSum]
	assert.False(t, ok)
}

func TestDerive(t *testing.T) {
	daily := table.New(DailyVariables...)
	start := civil.Date{Year: 2020, Month: 7, Day: 1}
	// Two Julys: 2020 is inside the reference period, 2021 is not.
	for _, year := range []int{2020, 2021} {
		for i := 0; i < 31; i++ {
			k := table.Key{Region: "SE11", Date: civil.Date{Year: year, Month: 7, Day: 1}.AddDays(i)}
			temp := 20.0
			precip := 2.0
			if year == 2021 {
				temp = 25
				precip = 3
			}
			require.NoError(t, daily.Set(k, TempMean, valid(temp)))
			require.NoError(t, daily.Set(k, TempMax, valid(temp+5)))
			require.NoError(t, daily.Set(k, TempMin, valid(temp-5)))
			require.NoError(t, daily.Set(k, PrecipSum, valid(precip)))
			require.NoError(t, daily.Set(k, GustMax, valid(10)))
		}
	}

	out, err := Derive(daily, rolling.Period{From: 1991, To: 2020})
	require.NoError(t, err)

	k2020 := table.Key{Region: "SE11", Date: start.AddDays(10)}
	k2021 := table.Key{Region: "SE11", Date: civil.Date{Year: 2021, Month: 7, Day: 15}}

	assert.False(t, out.Get(table.Key{Region: "SE11", Date: start.AddDays(5)}, "tmpdcaw").Valid)
	assert.Equal(t, valid(20), out.Get(k2020, "tmpdcaw"))
	assert.Equal(t, valid(14), out.Get(k2020, "pacctaw"))
	assert.False(t, out.Get(k2020, "tmpdcam").Valid)

	assert.Equal(t, valid(20), out.Get(k2021, "tmpdcamb"))
	assert.Equal(t, valid(20), out.Get(k2021, "tmp95pacmb"))
	assert.Equal(t, valid(5), out.Get(k2021, "tmpanod"))
	assert.Equal(t, valid(25), out.Get(k2021, "tmpdcacm"))
	assert.Equal(t, valid(5), out.Get(k2021, "tmpanocm"))

	assert.Equal(t, valid(62), out.Get(k2020, "pacctcm"))
	assert.Equal(t, valid(62), out.Get(k2021, "pacctmb"))
	assert.Equal(t, valid(93), out.Get(k2021, "pacctcm"))
	assert.InDelta(t, 150.0, out.Get(k2021, "paccdcm").Float64, 1e-9)

	assert.Equal(t, valid(10), out.Get(k2021, "iwg10mxamb"))
	assert.Equal(t, valid(25), out.Get(k2021, TempMean))
}
