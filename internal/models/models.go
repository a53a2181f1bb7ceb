package models

import (
	"database/sql"
	"time"

	"cloud.google.com/go/civil"
)

// Station is an EEA air-quality monitoring station from the pan-European metadata file.
type Station struct {
	StationID   string
	CountryCode string
	StationType string // "background", "traffic", "industrial"
	Latitude    float64
	Longitude   float64
}

// Region is an administrative boundary unit from the allow-list.
type Region struct {
	RegionID    string
	Level       int
	CountryCode string
	Vintage     int
}

// Reading is one hourly pollutant concentration reported by a station.
type Reading struct {
	ID            int64
	StationID     string
	Pollutant     string
	Begin         time.Time // keeps the offset reported by EEA
	End           time.Time
	Concentration sql.NullFloat64
	QualityFlags  string
}

// GridCell is one ERA5 grid point inside a region. Population is the number of
// people living inside the cell's box and is constant for a run.
type GridCell struct {
	Region     string
	GridID     int
	Longitude  float64
	Latitude   float64
	Population float64
}

// GridReading holds the raw hourly ERA5 values for one grid cell, in source units
// (kelvin, metres, metres per second).
type GridReading struct {
	Region     string
	GridID     int
	ObservedAt time.Time
	Temp       sql.NullFloat64
	Precip     sql.NullFloat64
	WindGust   sql.NullFloat64
}

// Observation is a single value of one variable for one entity (station or grid
// cell) after it has been assigned to a region.
type Observation struct {
	EntityID   string
	Variable   string
	Region     string
	ObservedAt time.Time
	Value      float64
}

// EntityDay is the reduced value of one variable for one entity on one calendar day.
type EntityDay struct {
	Region   string
	EntityID string
	Variable string
	Date     civil.Date
	Value    float64
}

// RegionDayValue is the long-format persisted form of a region-day table cell.
type RegionDayValue struct {
	Dataset  string
	Region   string
	Date     civil.Date
	Variable string
	Value    sql.NullFloat64
}
