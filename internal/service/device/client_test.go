package device

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	method   string
	path     string
	query    url.Values
	field    string
	filename string
	payload  string
}

// fakeDevice answers every request with status and records what it received.
type fakeDevice struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

func newFakeDevice(t *testing.T, status int, body string) *fakeDevice {
	t.Helper()

	d := &fakeDevice{status: status, body: body}

	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.Query()}

		if r.Method == http.MethodPut && r.URL.Path == pathInstall {
			file, header, err := r.FormFile(installField)
			if err == nil {
				payload, _ := io.ReadAll(file)
				rec.field = installField
				rec.filename = header.Filename
				rec.payload = string(payload)
			}
		}

		d.mu.Lock()
		d.requests = append(d.requests, rec)
		d.mu.Unlock()

		w.WriteHeader(d.status)
		_, _ = io.WriteString(w, d.body)
	}))

	t.Cleanup(d.Close)

	return d
}

func (d *fakeDevice) last(t *testing.T) recorded {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()

	require.NotEmpty(t, d.requests)

	return d.requests[len(d.requests)-1]
}

func clientFor(t *testing.T, serverURL string, opts ...Option) *Client {
	t.Helper()

	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)

	host, portText, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	client, err := New(host, append([]Option{WithPort(port)}, opts...)...)
	require.NoError(t, err)

	return client
}

func TestNew(t *testing.T) {
	t.Parallel()

	client, err := New("192.168.1.20")
	require.NoError(t, err)
	require.Equal(t, "http://192.168.1.20:6666", client.BaseURL())

	_, err = New("")
	require.Error(t, err)
}

func TestInfo(t *testing.T) {
	t.Parallel()

	device := newFakeDevice(t, http.StatusOK, `{"os":{"version":"0.6.0"},"heap":123}`)

	info, err := clientFor(t, device.URL).Info(context.Background())
	require.NoError(t, err)
	require.Contains(t, info, "os")
	require.Equal(t, float64(123), info["heap"])

	req := device.last(t)
	require.Equal(t, http.MethodGet, req.method)
	require.Equal(t, pathInfo, req.path)
}

func TestRunAndUninstall(t *testing.T) {
	t.Parallel()

	device := newFakeDevice(t, http.StatusOK, "")
	client := clientFor(t, device.URL)

	require.NoError(t, client.Run(context.Background(), "one.tactility.helloworld"))

	req := device.last(t)
	require.Equal(t, http.MethodPost, req.method)
	require.Equal(t, pathRun, req.path)
	require.Equal(t, "one.tactility.helloworld", req.query.Get("id"))

	require.NoError(t, client.Uninstall(context.Background(), "one.tactility.helloworld"))

	req = device.last(t)
	require.Equal(t, http.MethodPut, req.method)
	require.Equal(t, pathUninstall, req.path)
	require.Equal(t, "one.tactility.helloworld", req.query.Get("id"))
}

func TestInstall(t *testing.T) {
	t.Parallel()

	device := newFakeDevice(t, http.StatusOK, "")
	archive := filepath.Join(t.TempDir(), "HelloWorld.app")
	require.NoError(t, os.WriteFile(archive, []byte("tar bytes"), 0o600))

	require.NoError(t, clientFor(t, device.URL).Install(context.Background(), archive))

	req := device.last(t)
	require.Equal(t, http.MethodPut, req.method)
	require.Equal(t, pathInstall, req.path)
	require.Equal(t, installField, req.field)
	require.Equal(t, "HelloWorld.app", req.filename)
	require.Equal(t, "tar bytes", req.payload)
}

func TestInstall_PackageUnreadable(t *testing.T) {
	t.Parallel()

	device := newFakeDevice(t, http.StatusOK, "")

	err := clientFor(t, device.URL).Install(context.Background(), filepath.Join(t.TempDir(), "missing.app"))
	require.ErrorIs(t, err, ErrPackageUnreadable)

	device.mu.Lock()
	defer device.mu.Unlock()

	require.Empty(t, device.requests)
}

// TestUnexpectedStatus separates a non-200 answer from a transport failure.
func TestUnexpectedStatus(t *testing.T) {
	t.Parallel()

	device := newFakeDevice(t, http.StatusInternalServerError, "boom")
	client := clientFor(t, device.URL)

	err := client.Run(context.Background(), "app")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.NotErrorIs(t, err, ErrRequestFailed)

	_, err = client.Info(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

// TestRequestFailed covers a timeout and a refused connection.
func TestRequestFailed(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	t.Cleanup(func() {
		close(release)
		slow.Close()
	})

	err := clientFor(t, slow.URL, WithCallTimeout(50*time.Millisecond)).Run(context.Background(), "app")
	require.ErrorIs(t, err, ErrRequestFailed)
	require.NotErrorIs(t, err, ErrUnexpectedStatus)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	err = clientFor(t, closedURL).Uninstall(context.Background(), "app")
	require.ErrorIs(t, err, ErrRequestFailed)
}
