//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/version"
)

var (
	// ErrUnsupportedScheme is returned for URLs that are neither http nor https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	// ErrBadHTTPStatus is returned when the server answers with anything but 200.
	ErrBadHTTPStatus = errors.New("unexpected http status")
)

// Downloader fetches files from the CDN.
type Downloader struct {
	// client performs the requests.
	client *http.Client
	// timeout bounds a single download, including reading the body.
	timeout time.Duration
	// userAgent identifies the tool to the CDN.
	userAgent string
}

// DownloadOption configures a Downloader.
type DownloadOption func(*Downloader)

// WithTimeout sets the per-download timeout.
func WithTimeout(timeout time.Duration) DownloadOption {
	return func(d *Downloader) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) DownloadOption {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// NewDownloader creates a downloader with the default timeout and user agent.
func NewDownloader(opts ...DownloadOption) *Downloader {
	d := &Downloader{
		client:    http.DefaultClient,
		timeout:   config.DefaultDownloadTimeout,
		userAgent: version.UserAgent(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fetch downloads rawURL into memory.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	body, err := d.open(callCtx, rawURL)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	logger.DebugKV(ctx, "Downloaded", "url", rawURL, "size", humanize.Bytes(uint64(len(data))))

	return data, nil
}

// FetchToFile downloads rawURL to path. The file only appears once the body
// has been fully received, so an interrupted download never leaves a partial file.
func (d *Downloader) FetchToFile(ctx context.Context, rawURL, path string) (int64, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	body, err := d.open(callCtx, rawURL)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = body.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temporary file: %w", err)
	}

	// Best-effort cleanup; after a successful rename the file no longer exists.
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("move download into place: %w", err)
	}

	logger.DebugKV(ctx, "Downloaded file", "url", rawURL, "path", path, "size", humanize.Bytes(uint64(written)))

	return written, nil
}

// open issues the GET request and returns the body of a 200 response.
func (d *Downloader) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", d.userAgent)

	response, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", rawURL, response.Status, ErrBadHTTPStatus)
	}

	return response.Body, nil
}

// callContext returns a context with the downloader's timeout if configured,
// otherwise a cancellable child context without a deadline.
func (d *Downloader) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d.timeout)
}
