// Package fetch downloads remote resources into a local disk cache keyed by URL.
// A cached file is never downloaded again.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lox/esseosc/internal/httputil"
	"github.com/lox/esseosc/internal/metrics"
)

// ErrNoContent is returned when the server answers 204: the resource exists
// but holds no data.
var ErrNoContent = errors.New("no content")

// Recorder logs completed downloads. The store implements it.
type Recorder interface {
	RecordDownload(url, path string, size int64, sha string) error
}

type Fetcher struct {
	dir      string
	client   *http.Client
	recorder Recorder
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// New returns a fetcher caching into dir. recorder may be nil.
func New(dir string, recorder Recorder, clock clockwork.Clock, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		dir:      dir,
		client:   httputil.NewDownloadClient(),
		recorder: recorder,
		clock:    clock,
		logger:   logger.With().Str("component", "fetch").Logger(),
	}
}

// WithClient replaces the HTTP client.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Path returns the cache path of rawURL: the last path segment inside folder,
// relative to the cache directory.
func (f *Fetcher) Path(rawURL, folder string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return filepath.Join(f.dir, folder, name), nil
}

// Fetch returns the local path of rawURL, downloading it first unless it is
// already cached. Concurrent fetches of the same URL may both download; the
// first complete file wins and the other copy is discarded.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, folder string) (string, error) {
	dest, err := f.Path(rawURL, folder)
	if err != nil {
		return "", err
	}
	return f.FetchAs(ctx, rawURL, dest)
}

// Cached returns the cache path for name inside folder and whether that file
// already exists.
func (f *Fetcher) Cached(folder, name string) (string, bool) {
	dest := filepath.Join(f.dir, folder, name)
	_, err := os.Stat(dest)
	return dest, err == nil
}

// FetchAs is Fetch with an explicit destination path.
func (f *Fetcher) FetchAs(ctx context.Context, rawURL, dest string) (string, error) {
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create cache folder: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	start := f.clock.Now()
	size, sum, err := f.download(ctx, u, dest)
	metrics.DownloadLatency.WithLabelValues(u.Scheme).Observe(f.clock.Since(start).Seconds())
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(u.Scheme, "error").Inc()
		return "", err
	}
	metrics.DownloadsTotal.WithLabelValues(u.Scheme, "ok").Inc()
	metrics.DownloadBytes.WithLabelValues(u.Scheme).Add(float64(size))

	f.logger.Debug().Str("url", rawURL).Str("path", dest).Int64("bytes", size).Msg("downloaded")
	if f.recorder != nil {
		if err := f.recorder.RecordDownload(rawURL, dest, size, sum); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func (f *Fetcher) download(ctx context.Context, u *url.URL, dest string) (int64, string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	w := io.MultiWriter(tmp, h)

	var size int64
	switch u.Scheme {
	case "http", "https":
		size, err = f.copyHTTP(ctx, u.String(), w)
	case "ftp":
		size, err = copyFTP(ctx, u, w)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		return 0, "", err
	}

	// Another run may have finished the same file meanwhile; keep theirs.
	if _, err := os.Stat(dest); err == nil {
		return size, hex.EncodeToString(h.Sum(nil)), nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, "", fmt.Errorf("move into cache: %w", err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %w", rawURL, ErrNoContent)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d: %s", rawURL, resp.StatusCode, string(b))
	}
	return resp, nil
}

func (f *Fetcher) copyHTTP(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return n, nil
}

// Text fetches rawURL without caching and returns its body. Used for listing
// endpoints whose answer changes over time.
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(b), nil
}

func copyFTP(ctx context.Context, u *url.URL, w io.Writer) (int64, error) {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return 0, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	n, err := io.Copy(w, resp)
	if err != nil {
		return 0, fmt.Errorf("ftp read: %w", err)
	}
	return n, nil
}
