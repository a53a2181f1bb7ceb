package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	// DownloadTimeout bounds a single file transfer. EEA yearly station files
	// and ERA5 NetCDF results are far larger than API responses.
	DownloadTimeout = 10 * time.Minute

	UserAgent = "esseosc/1.0"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// NewDownloadClient returns an HTTP client for large file transfers.
func NewDownloadClient() *http.Client {
	return &http.Client{
		Timeout: DownloadTimeout,
	}
}
