package aggregate

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/lox/esseosc/internal/models"
	"github.com/lox/esseosc/internal/table"
)

// Bucket maps an observation time to its calendar day.
type Bucket func(time.Time) civil.Date

// OwnOffset buckets by the date in the timestamp's own location, as reported by
// the source.
func OwnOffset(t time.Time) civil.Date {
	return civil.DateOf(t)
}

// InLocation buckets by the local date in loc.
func InLocation(loc *time.Location) Bucket {
	return func(t time.Time) civil.Date {
		return civil.DateOf(t.In(loc))
	}
}

type dayKey struct {
	region   string
	entity   string
	variable string
	date     civil.Date
}

// Daily collapses observations to one value per (region, entity, variable, day).
// Output is ordered by region, entity, variable and date.
func Daily(obs []models.Observation, bucket Bucket, reduce Reducer) []models.EntityDay {
	groups := make(map[dayKey][]float64)
	for _, o := range obs {
		k := dayKey{region: o.Region, entity: o.EntityID, variable: o.Variable, date: bucket(o.ObservedAt)}
		groups[k] = append(groups[k], o.Value)
	}

	days := make([]models.EntityDay, 0, len(groups))
	for k, values := range groups {
		days = append(days, models.EntityDay{
			Region:   k.region,
			EntityID: k.entity,
			Variable: k.variable,
			Date:     k.date,
			Value:    reduce(values),
		})
	}
	sortDays(days)
	return days
}

func sortDays(days []models.EntityDay) {
	sort.Slice(days, func(i, j int) bool {
		a, b := days[i], days[j]
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		return a.Date.Before(b.Date)
	})
}

// MaxAcrossEntities writes into t, per region-day and variable, the largest
// value reported by any entity of the region. Variables of days are table
// variable names.
func MaxAcrossEntities(days []models.EntityDay, t *table.Table) error {
	for _, d := range days {
		k := table.Key{Region: d.Region, Date: d.Date}
		cur := t.Get(k, d.Variable)
		if cur.Valid && cur.Float64 >= d.Value {
			continue
		}
		if err := t.Set(k, d.Variable, table.Valid(d.Value)); err != nil {
			return err
		}
	}
	return nil
}
