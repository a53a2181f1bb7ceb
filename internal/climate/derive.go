package climate

import (
	"database/sql"

	"github.com/lox/esseosc/internal/aggregate"
	"github.com/lox/esseosc/internal/rolling"
	"github.com/lox/esseosc/internal/table"
)

type window struct {
	suffix string
	days   int
}

var windows = []window{{"w", 7}, {"m", 30}, {"3m", 90}, {"y", 365}}

// Rolling series: source variable, output prefix and window aggregate.
var rollingSeries = []struct {
	source string
	prefix string
	op     rolling.Op
}{
	{TempMean, "tmpdca", rolling.Mean},
	{PrecipSum, "paccta", rolling.Sum},
	{GustMax, "iwg10mxa", rolling.Mean},
}

// Variables lists every variable of the climate region-day table.
func Variables() []string {
	vars := append([]string{}, DailyVariables...)
	for _, s := range rollingSeries {
		for _, w := range windows {
			vars = append(vars, s.prefix+w.suffix)
		}
	}
	return append(vars,
		"tmpdcacm", "tmpdcamb", "tmp95pacmb", "tmpanod", "tmpanocm",
		"pacctcm", "pacctmb", "paccdcm",
		"iwg10mxamb",
	)
}

// Derive adds rolling windows, calendar-month baselines over ref and anomalies
// to a table holding the daily region values. The input table must carry
// DailyVariables; the result carries Variables.
func Derive(daily *table.Table, ref rolling.Period) (*table.Table, error) {
	out := table.New(Variables()...)

	for _, region := range daily.Regions() {
		dates := daily.Dates(region)
		cols := make(map[string][]sql.NullFloat64)
		for _, v := range DailyVariables {
			col, err := daily.Column(region, dates, v)
			if err != nil {
				return nil, err
			}
			cols[v] = col
		}

		for _, s := range rollingSeries {
			for _, w := range windows {
				cols[s.prefix+w.suffix] = rolling.Trailing(dates, cols[s.source], w.days, s.op)
			}
		}

		temp := cols[TempMean]
		tmpdcamb := rolling.MonthlyBaseline(dates, temp, ref, aggregate.Mean).Broadcast(dates)
		cols["tmpdcamb"] = tmpdcamb
		cols["tmp95pacmb"] = rolling.MonthlyBaseline(dates, temp, ref, aggregate.Percentile(95)).Broadcast(dates)
		cols["tmpanod"] = rolling.Difference(temp, tmpdcamb)
		cols["tmpdcacm"] = rolling.CalendarMonth(dates, temp, aggregate.Mean)
		cols["tmpanocm"] = rolling.Difference(cols["tmpdcacm"], tmpdcamb)

		precip := cols[PrecipSum]
		cols["pacctcm"] = rolling.CalendarMonth(dates, precip, aggregate.Sum)
		cols["pacctmb"] = rolling.MonthlyTotalBaseline(dates, precip, ref).Broadcast(dates)
		cols["paccdcm"] = rolling.PercentOf(cols["pacctcm"], cols["pacctmb"])

		cols["iwg10mxamb"] = rolling.MonthlyBaseline(dates, cols[GustMax], ref, aggregate.Mean).Broadcast(dates)

		for name, values := range cols {
			if err := out.SetColumn(region, dates, name, values); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
