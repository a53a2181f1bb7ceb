package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/esseosc/internal/fetch"
)

type fakeCDS struct {
	*httptest.Server
	submits atomic.Int32
	polls   atomic.Int32
	// statuses are returned by successive polls; the last repeats.
	statuses []string
	inputs   map[string]any
}

func newFakeCDS(t *testing.T, statuses ...string) *fakeCDS {
	f := &fakeCDS{statuses: statuses}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrieve/v1/processes/reanalysis-era5-single-levels/execution", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		var body struct {
			Inputs map[string]any `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.inputs = body.Inputs
		json.NewEncoder(w).Encode(map[string]string{"jobID": "job-1", "status": "accepted"})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		if n >= len(f.statuses) {
			n = len(f.statuses) - 1
		}
		json.NewEncoder(w).Encode(map[string]string{"jobID": "job-1", "status": f.statuses[n], "detail": "out of quota"})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/job-1/results", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"asset":{"value":{"href":"%s/download/abc.nc","file:size":6}}}`, f.URL)
	})
	mux.HandleFunc("GET /download/abc.nc", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "netcdf")
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestCDSClient(t *testing.T, srv *fakeCDS) *CDSClient {
	fetcher := fetch.New(t.TempDir(), nil, clockwork.NewFakeClock(), zerolog.New(io.Discard))
	return NewCDSClient(srv.URL+"/api/", "secret", "reanalysis-era5-single-levels", fetcher, zerolog.New(io.Discard)).
		WithPolling(time.Millisecond, 5*time.Second)
}

var testRequest = RetrieveRequest{
	Variable: "2m_temperature",
	Year:     2020,
	Month:    time.February,
	Area:     Area{51.7, -0.5, 51.3, 0.3},
	Grid:     0.1,
}

func TestCDSClient_Retrieve(t *testing.T) {
	srv := newFakeCDS(t, "accepted", "running", "successful")
	c := newTestCDSClient(t, srv)

	path, err := c.Retrieve(context.Background(), testRequest, "tmpdcUKIy2020m02.nc")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "netcdf", string(data))
	assert.EqualValues(t, 3, srv.polls.Load())

	assert.Equal(t, "0.1/0.1", srv.inputs["grid"])
	assert.Equal(t, []any{"02"}, srv.inputs["month"])
	assert.Equal(t, []any{51.7, -0.5, 51.3, 0.3}, srv.inputs["area"])
	assert.Len(t, srv.inputs["day"], 31)
	assert.Len(t, srv.inputs["time"], 24)

	// Cached: no new job.
	again, err := c.Retrieve(context.Background(), testRequest, "tmpdcUKIy2020m02.nc")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.EqualValues(t, 1, srv.submits.Load())
}

func TestCDSClient_FailedJobIsNotRetried(t *testing.T) {
	srv := newFakeCDS(t, "running", "failed")
	c := newTestCDSClient(t, srv)

	_, err := c.Retrieve(context.Background(), testRequest, "tmpdcUKIy2020m02.nc")
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "out of quota")
	assert.EqualValues(t, 2, srv.polls.Load())
	assert.EqualValues(t, 1, srv.submits.Load())
}

func TestCDSClient_HTTPErrorIsPermanent(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"jobID":"job-1","status":"accepted"}`)
			return
		}
		polls.Add(1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := fetch.New(t.TempDir(), nil, clockwork.NewFakeClock(), zerolog.New(io.Discard))
	c := NewCDSClient(srv.URL, "secret", "reanalysis-era5-single-levels", fetcher, zerolog.New(io.Discard)).
		WithPolling(time.Millisecond, 5*time.Second)

	_, err := c.Retrieve(context.Background(), testRequest, "x.nc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.EqualValues(t, 1, polls.Load())
}
