package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_downloads_total",
			Help: "Total remote resources fetched, by scheme and outcome",
		},
		[]string{"scheme", "status"},
	)

	DownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_download_bytes_total",
			Help: "Total bytes written to the download directory",
		},
		[]string{"scheme"},
	)

	DownloadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esseosc_download_latency_seconds",
			Help:    "Remote fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	CDSJobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_cds_job_polls_total",
			Help: "Total CDS job status polls, by reported status",
		},
		[]string{"status"},
	)

	ReadingsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_readings_loaded_total",
			Help: "Total raw readings loaded into the working store",
		},
		[]string{"dataset", "region"},
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_readings_rejected_total",
			Help: "Total raw readings excluded from aggregation, by quality flag",
		},
		[]string{"dataset", "flag"},
	)

	EntitiesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_entities_dropped_total",
			Help: "Total stations or grid points that resolved to no region or to several",
		},
		[]string{"boundary_set", "reason"},
	)

	ZeroPopulationDays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_zero_population_days_total",
			Help: "Total region-days emitted as missing because no populated cell had a value",
		},
		[]string{"region"},
	)

	RowsExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esseosc_rows_exported_total",
			Help: "Total rows written to output files",
		},
		[]string{"dataset"},
	)
)
