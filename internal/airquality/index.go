// Package airquality turns daily pollutant concentrations into the European
// air quality index levels and the derived exposure series.
package airquality

// Level is a European air quality index level. Higher is worse.
type Level int

const (
	LevelGood Level = iota
	LevelFair
	LevelModerate
	LevelPoor
	LevelVeryPoor
	LevelExtremelyPoor
)

func (l Level) String() string {
	switch l {
	case LevelGood:
		return "Good"
	case LevelFair:
		return "Fair"
	case LevelModerate:
		return "Moderate"
	case LevelPoor:
		return "Poor"
	case LevelVeryPoor:
		return "Very Poor"
	case LevelExtremelyPoor:
		return "Extremely poor"
	default:
		return "Unknown"
	}
}

// IsPoor reports whether the level is Poor or worse.
func (l Level) IsPoor() bool {
	return l >= LevelPoor
}

// Pollutant is one EEA pollutant with its index thresholds in µg/m³.
type Pollutant struct {
	Code   string // EEA vocabulary code used by the download service
	Name   string // AirPollutant value in the station CSVs
	Suffix string // suffix of the output variables
	Edges  []float64
}

var (
	PM10 = Pollutant{Code: "5", Name: "PM10", Suffix: "pm10", Edges: []float64{0, 20, 40, 50, 100, 150, 1200}}
	PM25 = Pollutant{Code: "6001", Name: "PM2.5", Suffix: "pm2_5", Edges: []float64{0, 10, 20, 25, 50, 75, 800}}
	SO2  = Pollutant{Code: "1", Name: "SO2", Suffix: "so2", Edges: []float64{0, 100, 200, 350, 500, 750, 1250}}
	NO2  = Pollutant{Code: "8", Name: "NO2", Suffix: "no2", Edges: []float64{0, 40, 90, 120, 230, 340, 1000}}
	O3   = Pollutant{Code: "7", Name: "O3", Suffix: "o3", Edges: []float64{0, 50, 100, 130, 240, 380, 800}}
)

// Pollutants lists the pollutants in output column order.
var Pollutants = []Pollutant{PM10, PM25, SO2, NO2, O3}

// ByName returns the pollutant whose AirPollutant name or code is s.
func ByName(s string) (Pollutant, bool) {
	for _, p := range Pollutants {
		if p.Name == s || p.Code == s {
			return p, true
		}
	}
	return Pollutant{}, false
}

// Bin returns the index level of a concentration. Bins are closed on the right;
// the lowest edge is included in the first bin. Negative values and values
// above the last edge have no level.
func (p Pollutant) Bin(concentration float64) (Level, bool) {
	if concentration < p.Edges[0] || concentration > p.Edges[len(p.Edges)-1] {
		return 0, false
	}
	for i := 1; i < len(p.Edges); i++ {
		if concentration <= p.Edges[i] {
			return Level(i - 1), true
		}
	}
	return 0, false
}
