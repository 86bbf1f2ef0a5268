package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/version"
)

const (
	pathInfo      = "/info"
	pathRun       = "/app/run"
	pathInstall   = "/app/install"
	pathUninstall = "/app/uninstall"

	// installField is the multipart field holding the package.
	installField = "elf"
)

var (
	// ErrRequestFailed wraps transport failures: timeouts, refused connections, DNS errors.
	ErrRequestFailed = errors.New("device request failed")
	// ErrUnexpectedStatus is returned when the device answers with anything but 200.
	ErrUnexpectedStatus = errors.New("device returned unexpected status")
	// ErrPackageUnreadable is returned when the package to install cannot be read.
	ErrPackageUnreadable = errors.New("package file unreadable")
	// errHostRequired is returned when no device address is given.
	errHostRequired = errors.New("device address must be provided")
)

// Info is the device description returned by GET /info.
type Info map[string]any

// Client is a stateless client of one device.
type Client struct {
	// baseURL is http://{host}:{port}.
	baseURL *url.URL
	// http performs the requests.
	http *http.Client
	// callTimeout bounds each request.
	callTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout sets the per-request timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithPort overrides the default control port.
func WithPort(port int) Option {
	return func(c *Client) {
		if port > 0 {
			c.baseURL.Host = net.JoinHostPort(c.baseURL.Hostname(), strconv.Itoa(port))
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New creates a client for the device at host, an IP address or host name.
func New(host string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, errHostRequired
	}

	c := &Client{
		baseURL: &url.URL{
			Scheme: "http",
			Host:   net.JoinHostPort(host, strconv.Itoa(config.DefaultDevicePort)),
		},
		http:        http.DefaultClient,
		callTimeout: config.DefaultHTTPTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the device API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Info fetches the device description.
func (c *Client) Info(ctx context.Context) (Info, error) {
	body, err := c.do(ctx, http.MethodGet, pathInfo, nil, nil, "")
	if err != nil {
		return nil, err
	}

	var info Info
	if err = json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode device info: %w", err)
	}

	return info, nil
}

// Run starts the installed app.
func (c *Client) Run(ctx context.Context, appID string) error {
	_, err := c.do(ctx, http.MethodPost, pathRun, url.Values{"id": {appID}}, nil, "")
	return err
}

// Uninstall removes the app from the device.
func (c *Client) Uninstall(ctx context.Context, appID string) error {
	_, err := c.do(ctx, http.MethodPut, pathUninstall, url.Values{"id": {appID}}, nil, "")
	return err
}

// Install uploads the package at archivePath as the multipart field "elf".
func (c *Client) Install(ctx context.Context, archivePath string) error {
	contents, err := os.ReadFile(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPackageUnreadable, err)
	}

	var body bytes.Buffer

	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile(installField, filepath.Base(archivePath))
	if err != nil {
		return fmt.Errorf("build install request: %w", err)
	}

	if _, err = part.Write(contents); err != nil {
		return fmt.Errorf("build install request: %w", err)
	}

	if err = form.Close(); err != nil {
		return fmt.Errorf("build install request: %w", err)
	}

	logger.DebugKV(ctx, "Uploading package", "path", archivePath, "size", humanize.Bytes(uint64(len(contents))))

	_, err = c.do(ctx, http.MethodPut, pathInstall, nil, &body, form.FormDataContentType())

	return err
}

// do performs one request and returns the body of a 200 response.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body io.Reader,
	contentType string,
) ([]byte, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	target := c.baseURL.JoinPath(path)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(callCtx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logger.DebugKV(ctx, "Device request", "method", method, "url", target.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrRequestFailed, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrUnexpectedStatus, method, path, resp.Status)
	}

	return contents, nil
}

// callContext returns a context bounded by the client's call timeout.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
