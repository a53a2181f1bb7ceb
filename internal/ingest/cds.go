package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/httputil"
	"github.com/lox/esseosc/internal/metrics"
)

// ErrJobFailed is returned when the CDS reports a job as failed, rejected or
// dismissed. It is never retried.
var ErrJobFailed = errors.New("cds job failed")

// ERA5 variables requested from the single-levels dataset, keyed by the
// NetCDF variable name they are delivered as.
var ERA5Variables = map[string]string{
	"t2m":   "2m_temperature",
	"tp":    "total_precipitation",
	"i10fg": "instantaneous_10m_wind_gust",
}

// Area is a request bounding box in CDS order: north, west, south, east.
type Area [4]float64

// RetrieveRequest is one month of one ERA5 variable over an area.
type RetrieveRequest struct {
	Variable string
	Year     int
	Month    time.Month
	Area     Area
	Grid     float64
}

func (r RetrieveRequest) inputs() map[string]any {
	days := make([]string, 31)
	for i := range days {
		days[i] = fmt.Sprintf("%02d", i+1)
	}
	hours := make([]string, 24)
	for i := range hours {
		hours[i] = fmt.Sprintf("%02d:00", i)
	}
	return map[string]any{
		"product_type":    []string{"reanalysis"},
		"data_format":     "netcdf",
		"download_format": "unarchived",
		"variable":        []string{r.Variable},
		"grid":            fmt.Sprintf("%g/%g", r.Grid, r.Grid),
		"area":            r.Area[:],
		"year":            []string{fmt.Sprintf("%d", r.Year)},
		"month":           []string{fmt.Sprintf("%02d", int(r.Month))},
		"day":             days,
		"time":            hours,
	}
}

type jobStatus struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type jobResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

// CDSClient submits retrieve jobs to the Copernicus Climate Data Store and
// downloads their results through the fetcher.
type CDSClient struct {
	baseURL      string
	apiKey       string
	dataset      string
	client       *http.Client
	fetcher      *fetch.Fetcher
	pollInterval time.Duration
	maxPollWait  time.Duration
	logger       zerolog.Logger
}

func NewCDSClient(baseURL, apiKey, dataset string, fetcher *fetch.Fetcher, logger zerolog.Logger) *CDSClient {
	return &CDSClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		dataset:      dataset,
		client:       httputil.NewClient(),
		fetcher:      fetcher,
		pollInterval: 5 * time.Second,
		maxPollWait:  6 * time.Hour,
		logger:       logger.With().Str("component", "cds").Logger(),
	}
}

// WithPolling sets the initial poll interval and the longest time to wait for
// a job to finish.
func (c *CDSClient) WithPolling(interval, maxWait time.Duration) *CDSClient {
	c.pollInterval = interval
	c.maxPollWait = maxWait
	return c
}

// Retrieve returns the local path of the request's NetCDF file, stored as name
// in the era5 download folder. Cached files are returned without contacting
// the CDS.
func (c *CDSClient) Retrieve(ctx context.Context, req RetrieveRequest, name string) (string, error) {
	dest, ok := c.fetcher.Cached("era5", name)
	if ok {
		return dest, nil
	}

	job, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Info().Str("job", job.JobID).Str("file", name).Msg("job submitted")

	if err := c.wait(ctx, job.JobID); err != nil {
		return "", err
	}

	href, err := c.resultHref(ctx, job.JobID)
	if err != nil {
		return "", err
	}
	return c.fetcher.FetchAs(ctx, href, dest)
}

func (c *CDSClient) submit(ctx context.Context, req RetrieveRequest) (*jobStatus, error) {
	body, err := json.Marshal(map[string]any{"inputs": req.inputs()})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.baseURL, c.dataset)

	var job jobStatus
	if err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body), &job); err != nil {
		return nil, fmt.Errorf("submit %s %d-%02d: %w", req.Variable, req.Year, req.Month, err)
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("submit %s %d-%02d: response has no job id", req.Variable, req.Year, req.Month)
	}
	return &job, nil
}

// wait polls the job with exponential backoff while it is queued or running.
// Every other outcome ends the wait.
func (c *CDSClient) wait(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.baseURL, jobID)

	operation := func() error {
		var job jobStatus
		if err := c.do(ctx, http.MethodGet, url, nil, &job); err != nil {
			return backoff.Permanent(fmt.Errorf("poll job %s: %w", jobID, err))
		}
		metrics.CDSJobPolls.WithLabelValues(job.Status).Inc()

		switch job.Status {
		case "successful":
			return nil
		case "accepted", "running":
			return fmt.Errorf("job %s %s", jobID, job.Status)
		case "failed", "rejected", "dismissed":
			return backoff.Permanent(fmt.Errorf("job %s %s: %s: %w", jobID, job.Status, job.Detail, ErrJobFailed))
		default:
			return backoff.Permanent(fmt.Errorf("job %s: unknown status %q", jobID, job.Status))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = c.maxPollWait
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (c *CDSClient) resultHref(ctx context.Context, jobID string) (string, error) {
	url := fmt.Sprintf("%s/retrieve/v1/jobs/%s/results", c.baseURL, jobID)
	var res jobResults
	if err := c.do(ctx, http.MethodGet, url, nil, &res); err != nil {
		return "", fmt.Errorf("job %s results: %w", jobID, err)
	}
	if res.Asset.Value.Href == "" {
		return "", fmt.Errorf("job %s results: no asset", jobID)
	}
	return res.Asset.Value.Href, nil
}

func (c *CDSClient) do(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.apiKey)
	req.Header.Set("User-Agent", httputil.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
