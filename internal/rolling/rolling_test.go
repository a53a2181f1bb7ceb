package rolling

import (
	"database/sql"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/esseosc/internal/aggregate"
)

func v(x float64) sql.NullFloat64 { return sql.NullFloat64{Float64: x, Valid: true} }

func days(start civil.Date, n int) []civil.Date {
	out := make([]civil.Date, n)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

func TestTrailingSum_UndefinedUntilFullWindow(t *testing.T) {
	dates := days(civil.Date{Year: 2016, Month: 1, Day: 1}, 9)
	poor := []sql.NullFloat64{v(1), v(0), v(1), v(1), v(0), v(0), v(1), v(1), v(0)}

	got := Trailing(dates, poor, 7, Sum)
	for i := 0; i < 6; i++ {
		assert.False(t, got[i].Valid, "day %d", i)
	}
	assert.Equal(t, v(4), got[6])
	assert.Equal(t, v(4), got[7])
	assert.Equal(t, v(4), got[8])
}

func TestTrailing_GapBreaksWindow(t *testing.T) {
	start := civil.Date{Year: 2020, Month: 1, Day: 1}
	dates := []civil.Date{start, start.AddDays(1), start.AddDays(3), start.AddDays(4), start.AddDays(5)}
	values := []sql.NullFloat64{v(1), v(2), v(3), v(4), v(5)}

	got := Trailing(dates, values, 2, Mean)
	assert.False(t, got[0].Valid)
	assert.Equal(t, v(1.5), got[1])
	// Day 3 follows a missing day 2.
	assert.False(t, got[2].Valid)
	assert.Equal(t, v(3.5), got[3])
	assert.Equal(t, v(4.5), got[4])
}

func TestTrailing_MissingValueBreaksWindow(t *testing.T) {
	dates := days(civil.Date{Year: 2020, Month: 1, Day: 1}, 4)
	values := []sql.NullFloat64{v(1), {}, v(3), v(4)}

	got := Trailing(dates, values, 2, Sum)
	assert.False(t, got[1].Valid)
	assert.False(t, got[2].Valid)
	assert.Equal(t, v(7), got[3])
}

func TestTrailingMax(t *testing.T) {
	start := civil.Date{Year: 2020, Month: 1, Day: 1}
	dates := []civil.Date{start, start.AddDays(1), start.AddDays(3), start.AddDays(4)}
	values := []sql.NullFloat64{v(2), v(1), v(0), {}}

	got := TrailingMax(dates, values, 2)
	assert.Equal(t, v(2), got[0])
	assert.Equal(t, v(2), got[1])
	// The prior day is absent, so only the current day counts.
	assert.Equal(t, v(0), got[2])
	// Current day missing falls back to the prior day.
	assert.Equal(t, v(0), got[3])
}

func TestMonthlyBaseline_OnlyReferenceYears(t *testing.T) {
	ref := Period{From: 1991, To: 2020}
	dates := []civil.Date{
		{Year: 1990, Month: 7, Day: 1},
		{Year: 1991, Month: 7, Day: 1},
		{Year: 2020, Month: 7, Day: 1},
		{Year: 2020, Month: 8, Day: 1},
		{Year: 2021, Month: 7, Day: 1},
	}
	values := []sql.NullFloat64{v(100), v(10), v(20), v(30), v(1000)}

	b := MonthlyBaseline(dates, values, ref, aggregate.Mean)
	assert.Equal(t, 15.0, b[time.July])
	assert.Equal(t, 30.0, b[time.August])

	broadcast := b.Broadcast(dates)
	assert.Equal(t, v(15), broadcast[4], "2021 uses the 1991-2020 baseline")
	assert.Equal(t, v(15), broadcast[0])

	anomaly := Difference(values, broadcast)
	assert.Equal(t, v(985), anomaly[4])
}

func TestMonthlyBaseline_Percentile(t *testing.T) {
	dates := days(civil.Date{Year: 2000, Month: 1, Day: 1}, 5)
	values := []sql.NullFloat64{v(1), v(2), v(3), v(4), v(5)}

	b := MonthlyBaseline(dates, values, Period{From: 1991, To: 2020}, aggregate.Percentile(95))
	assert.InDelta(t, 4.8, b[time.January], 1e-9)

	_, ok := b[time.February]
	assert.False(t, ok)
	assert.False(t, b.Broadcast([]civil.Date{{Year: 2000, Month: 2, Day: 1}})[0].Valid)
}

func TestMonthlyTotalBaseline(t *testing.T) {
	ref := Period{From: 1991, To: 2020}
	dates := []civil.Date{
		{Year: 1995, Month: 3, Day: 1}, {Year: 1995, Month: 3, Day: 2},
		{Year: 1996, Month: 3, Day: 1},
		{Year: 2021, Month: 3, Day: 1},
	}
	values := []sql.NullFloat64{v(20), v(20), v(60), v(500)}

	b := MonthlyTotalBaseline(dates, values, ref)
	assert.Equal(t, 50.0, b[time.March])
}

func TestCalendarMonthAndPercent(t *testing.T) {
	dates := []civil.Date{
		{Year: 2021, Month: 3, Day: 1}, {Year: 2021, Month: 3, Day: 2}, {Year: 2021, Month: 4, Day: 1},
	}
	values := []sql.NullFloat64{v(50), v(25), {}}

	total := CalendarMonth(dates, values, aggregate.Sum)
	assert.Equal(t, v(75), total[0])
	assert.Equal(t, v(75), total[1])
	assert.False(t, total[2].Valid)

	baseline := Baseline{time.March: 50, time.April: 0}.Broadcast(dates)
	pct := PercentOf(total, baseline)
	assert.Equal(t, v(150), pct[0])
	assert.False(t, pct[2].Valid)

	zero := PercentOf([]sql.NullFloat64{v(10)}, []sql.NullFloat64{v(0)})
	require.Len(t, zero, 1)
	assert.False(t, zero[0].Valid)
}
