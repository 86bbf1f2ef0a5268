package sdk

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/repository/metadata"
	"github.com/tactilityproject/ttbuild/internal/service/common"
)

type zipEntry struct {
	name string
	body string
}

// makeZip builds an in-memory zip archive with entries in the given order.
func makeZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	for _, entry := range entries {
		f, err := w.Create(entry.name)
		require.NoError(t, err)

		_, err = io.WriteString(f, entry.body)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

// fakeCDN serves fixed documents and counts requests per path.
type fakeCDN struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

func newFakeCDN(t *testing.T, files map[string][]byte) *fakeCDN {
	t.Helper()

	cdn := &fakeCDN{
		files: files,
		hits:  make(map[string]int),
	}

	cdn.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdn.mu.Lock()
		cdn.hits[r.URL.Path]++
		body, ok := cdn.files[r.URL.Path]
		cdn.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(body)
	}))

	t.Cleanup(cdn.Close)

	return cdn
}

func (c *fakeCDN) set(path string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.files[path] = body
}

func (c *fakeCDN) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits[path]
}

func (c *fakeCDN) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, hits := range c.hits {
		n += hits
	}

	return n
}

// newTestManager returns a Manager whose project lives in a temporary directory.
func newTestManager(t *testing.T, cdnURL string, out io.Writer) (*Manager, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.ProjectDir = t.TempDir()
	cfg.CDNURL = cdnURL
	require.NoError(t, config.Validate(cfg))

	if out == nil {
		out = io.Discard
	}

	repo := metadata.NewFileRepository(cfg.CachePath(metadata.Filename))
	m := NewManager(cfg, common.NewDownloader(), repo, console.NewWithOutput(out), WithToolVersion("3.4.0"))

	return m, cfg
}
