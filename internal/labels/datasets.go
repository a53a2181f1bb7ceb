package labels

var aqiLevels = []ValueLabel{
	{0, "Good"},
	{1, "Fair"},
	{2, "Moderate"},
	{3, "Poor"},
	{4, "Very Poor"},
	{5, "Extremely poor"},
}

func aqi(name, label string) Variable {
	return Variable{Name: name, Label: label, Format: "F2.0", ValueLabels: aqiLevels}
}

func count(name, label string) Variable {
	return Variable{Name: name, Label: label, Format: "F4.0"}
}

func num(name, label string) Variable {
	return Variable{Name: name, Label: label}
}

var (
	date   = Variable{Name: DateColumn, Label: "Date", Format: DateFormat}
	region = Variable{Name: RegionColumn, Label: "Region"}
)

// AirQuality is the schema of the EEA region-day table.
func AirQuality() Schema {
	return Schema{
		Dataset: "eea",
		Variables: []Variable{
			date,
			region,
			aqi("aqiwdpm10", "Worst air quality index level PM10, date"),
			aqi("aqiwdpm2_5", "Worst air quality index level PM2.5, date"),
			aqi("aqiwdso2", "Worst air quality index level SO2, date"),
			aqi("aqiwdno2", "Worst air quality index level NO2, date"),
			aqi("aqiwdo3", "Worst air quality index level O3, date"),
			aqi("aqiwd", "Worst air quality index level across pollutants, date"),
			aqi("aqiw2dpm10", "Worst air quality index level PM10, last two days"),
			aqi("aqiw2dpm2_5", "Worst air quality index level PM2.5, last two days"),
			aqi("aqiw2dso2", "Worst air quality index level SO2, last two days"),
			aqi("aqiw2dno2", "Worst air quality index level NO2, last two days"),
			aqi("aqiw2do3", "Worst air quality index level O3, last two days"),
			aqi("aqiw2d", "Worst air quality index level across pollutants, last two days"),
			count("ndyprwpm10", "Number of days with 'poor' air quality level or worse on PM10, week before the date"),
			count("ndyprwpm2_5", "Number of days with 'poor' air quality level or worse on PM2.5, week before the date"),
			count("ndyprwso2", "Number of days with 'poor' air quality level or worse on SO2, week before the date"),
			count("ndyprwno2", "Number of days with 'poor' air quality level or worse on NO2, week before the date"),
			count("ndyprwo3", "Number of days with 'poor' air quality level or worse on O3, week before the date"),
			count("ndyprw", "Number of days with 'Poor' air quality level or worse on one or more pollutant indicators, week before the date"),
			count("ndyprmpm10", "Number of days with 'poor' air quality level or worse on PM10, month before the date"),
			count("ndyprmpm2_5", "Number of days with 'poor' air quality level or worse on PM2.5, month before the date"),
			count("ndyprmso2", "Number of days with 'poor' air quality level or worse on SO2, month before the date"),
			count("ndyprmno2", "Number of days with 'poor' air quality level or worse on NO2, month before the date"),
			count("ndyprmo3", "Number of days with 'poor' air quality level or worse on O3, month before the date"),
			count("ndyprm", "Number of days with 'poor' air quality level or worse on one or more pollutant indicators, month before the date"),
			count("ndyprypm10", "Number of days with 'poor' air quality level or worse on PM10, year before the date"),
			count("ndyprypm2_5", "Number of days with 'poor' air quality level or worse on PM2.5, year before the date"),
			count("ndypryso2", "Number of days with 'poor' air quality level or worse on SO2, year before the date"),
			count("ndypryno2", "Number of days with 'poor' air quality level or worse on NO2, year before the date"),
			count("ndypryo3", "Number of days with 'poor' air quality level or worse on O3, year before the date"),
			count("ndypry", "Number of days with 'poor' air quality level or worse on one or more pollutant indicators, year before the date"),
		},
	}
}

// Climate is the schema of the ERA5 region-day table.
func Climate() Schema {
	return Schema{
		Dataset: "era5",
		Variables: []Variable{
			date,
			region,
			num("tmpdca", "Temperature in degrees Celsius, date average"),
			num("tmpdcmx", "Temperature in degrees Celsius, date maximum"),
			num("tmpdcmn", "Temperature in degrees Celsius, date minimum"),
			num("tmpdcaw", "Temperature in degrees Celsius, week average before the date"),
			num("tmpdcam", "Temperature in degrees Celsius, month average before the date"),
			num("tmpdca3m", "Temperature in degrees Celsius, three months average before the date"),
			num("tmpdcay", "Temperature in degrees Celsius, year average before the date"),
			num("tmpdcacm", "Temperature in degrees Celsius, calendar month average"),
			num("tmpdcamb", "Temperature average in degrees Celsius, calendar month, baseline 1991 - 2020"),
			num("tmp95pacmb", "Temperature average of 95 percentile in degrees Celsius, calendar month, baseline 1991 - 2020"),
			num("tmpanod", "Temperature anomaly date"),
			num("tmpanocm", "Temperature anomaly calendar month"),
			num("paccta", "Total precipitation average, date"),
			num("pacctaw", "Total precipitation average, week"),
			num("pacctam", "Total precipitation average, month"),
			num("paccta3m", "Total precipitation average, three months"),
			num("pacctay", "Total precipitation average, year"),
			num("pacctcm", "Total precipitation, calendar month"),
			num("pacctmb", "Total precipitation, calendar month, baseline 1991 - 2020"),
			num("paccdcm", "Total precipitation - calendar month, deviation from normal"),
			num("iwg10mx", "Instantaneous 10 metre wind gust maximum, date"),
			num("iwg10mxam", "Instantaneous 10 metre wind gust average, month"),
			num("iwg10mxaw", "Instantaneous 10 metre wind gust average, week"),
			num("iwg10mxa3m", "Instantaneous 10 metre wind gust average maximum for the region, three months"),
			num("iwg10mxay", "Instantaneous 10 metre wind gust average maximum for the region, year"),
			num("iwg10mxamb", "Instantaneous 10 metre wind gust average maximum, calendar month, baseline 1991 - 2020"),
		},
	}
}
