// Package climate reduces hourly ERA5 grid readings to population-weighted daily
// region values and derives the rolling, baseline and anomaly series.
package climate

import "math"

const absoluteZero = 273.15

func KelvinToCelsius(k float64) float64 {
	return k - absoluteZero
}

// MetresToMillimetres converts a precipitation depth, rounded to 0.01 mm.
func MetresToMillimetres(m float64) float64 {
	return math.Round(m*1000*100) / 100
}
