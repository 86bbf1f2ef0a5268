package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/domain/manifest"
	"github.com/tactilityproject/ttbuild/internal/service/build"
	"github.com/tactilityproject/ttbuild/internal/service/common"
	"github.com/tactilityproject/ttbuild/internal/service/device"
	"github.com/tactilityproject/ttbuild/internal/service/packager"
)

const manifestText = `[manifest]
version=0.1
[target]
sdk=0.6.0
platforms=esp32,esp32s3
[app]
id=one.tactility.helloworld
name=Hello World
versionName=0.1.0
versionCode=1
`

func sdkZip(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)
	f, err := w.Create("TactilitySDK.cmake")
	require.NoError(t, err)

	_, err = io.WriteString(f, "# sdk")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// artifactTool creates the ELF on every run and exits like the real first build.
type artifactTool struct {
	mu    sync.Mutex
	runs  int
	fail  bool
	files []string
}

func (a *artifactTool) Run(_ context.Context, inv *build.Invocation) (*build.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runs++

	if a.fail {
		return &build.Result{ExitCode: 1, Output: []string{"compile error"}}, nil
	}

	dir := filepath.Join(inv.Dir, inv.Args[1])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "HelloWorld.app.elf")
	a.files = append(a.files, path)

	return &build.Result{ExitCode: 2}, os.WriteFile(path, []byte("ELF"), 0o600)
}

type deviceCall struct {
	method string
	path   string
	id     string
}

type env struct {
	cfg     *config.Config
	out     *bytes.Buffer
	tool    *artifactTool
	vars    map[string]string
	mu      sync.Mutex
	calls   []deviceCall
	status  int
	host    string
	port    int
	options []Option
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		out:    new(bytes.Buffer),
		tool:   new(artifactTool),
		vars:   map[string]string{IdfPathEnv: "/opt/esp-idf"},
		status: http.StatusOK,
	}

	files := map[string][]byte{
		"/sdk/tool.json":         []byte(`{"toolVersion":"3.4.0","toolCompatibility":"^3\\.","toolDownloadUrl":"https://cdn/ttbuild"}`),
		"/sdk/0.6.0/index.json":  []byte(`{"platforms":{"esp32":"esp32.zip","esp32s3":"esp32s3.zip"}}`),
		"/sdk/0.6.0/esp32.zip":   sdkZip(t),
		"/sdk/0.6.0/esp32s3.zip": sdkZip(t),
		"/sdkconfig.app.esp32":   []byte("CONFIG_esp32"),
		"/sdkconfig.app.esp32s3": []byte("CONFIG_esp32s3"),
	}

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(cdn.Close)

	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.calls = append(e.calls, deviceCall{method: r.Method, path: r.URL.Path, id: r.URL.Query().Get("id")})
		status := e.status
		e.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"version":"0.6.0"}`)
	}))
	t.Cleanup(dev.Close)

	parsed, err := url.Parse(dev.URL)
	require.NoError(t, err)

	e.host = parsed.Hostname()
	e.port, err = strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	e.cfg = config.Default()
	e.cfg.ProjectDir = t.TempDir()
	e.cfg.CDNURL = cdn.URL
	e.cfg.DevicePort = e.port
	require.NoError(t, config.Validate(e.cfg))

	require.NoError(t, os.WriteFile(e.cfg.ProjectPath(manifest.Filename), []byte(manifestText), 0o600))

	return e
}

func (e *env) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	opts := append([]Option{
		WithLookupEnv(func(key string) (string, bool) {
			value, ok := e.vars[key]
			return value, ok
		}),
		WithBuildOptions(build.WithTool(e.tool)),
		WithDownloadOptions(common.WithHTTPClient(http.DefaultClient)),
	}, e.options...)

	d, err := New(e.cfg, console.NewWithOutput(e.out), opts...)
	require.NoError(t, err)

	return d
}

func (e *env) setStatus(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = status
}

func (e *env) deviceCalls() []deviceCall {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]deviceCall(nil), e.calls...)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	require.NoError(t, e.dispatcher(t).Build(context.Background(), ""))
	require.Equal(t, 2, e.tool.runs)
	require.FileExists(t, e.cfg.ProjectPath("build", "HelloWorld.app"))
	require.NoFileExists(t, e.cfg.ProjectPath("build", common.LockFilename))
	require.DirExists(t, e.cfg.CachePath("0.6.0-esp32", "TactilitySDK"))
	require.FileExists(t, e.cfg.CachePath("tool.json"))
}

func TestBuild_SinglePlatform(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	require.NoError(t, e.dispatcher(t).Build(context.Background(), "esp32s3"))
	require.Equal(t, 1, e.tool.runs)
	require.NoDirExists(t, e.cfg.CachePath("0.6.0-esp32", "TactilitySDK"))

	err := e.dispatcher(t).Build(context.Background(), "esp32p4")
	require.ErrorIs(t, err, manifest.ErrUnknownPlatform)
	require.Contains(t, e.out.String(), "Platform esp32p4 is not available")
}

func TestBuild_Environment(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	delete(e.vars, IdfPathEnv)

	err := e.dispatcher(t).Build(context.Background(), "")
	require.ErrorIs(t, err, ErrEnvironment)
	require.Contains(t, e.out.String(), "Cannot find the Espressif IDF SDK")
	require.Zero(t, e.tool.runs)

	// Skipping the build tool does not need ESP-IDF and does not package.
	e.cfg.SkipBuild = true
	e.vars[config.LocalSDKEnv] = "/ignored"

	require.NoError(t, e.dispatcher(t).Build(context.Background(), ""))
	require.Zero(t, e.tool.runs)
	require.Contains(t, e.out.String(), "will be ignored by this command")
	require.NoFileExists(t, e.cfg.ProjectPath("build", "HelloWorld.app"))
	require.FileExists(t, e.cfg.ProjectPath("sdkconfig"))
}

func TestBuild_LocalSdk(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.cfg.UseLocalSDK = true
	e.cfg.LocalSDKPath = t.TempDir()

	err := e.dispatcher(t).Build(context.Background(), "")
	require.Error(t, err)
	require.Zero(t, e.tool.runs)
	require.Contains(t, e.out.String(), "Local SDK folder missing for esp32")

	for _, platform := range []string{"esp32", "esp32s3"} {
		require.NoError(t, os.MkdirAll(filepath.Join(e.cfg.LocalSDKPath, "0.6.0-"+platform, "TactilitySDK"), 0o755))
	}

	require.NoError(t, e.dispatcher(t).Build(context.Background(), ""))
	require.Equal(t, 2, e.tool.runs)
	require.NoFileExists(t, e.cfg.CachePath("tool.json"), "local builds never consult tool metadata")
	require.NoDirExists(t, e.cfg.CachePath("0.6.0-esp32"))
}

func TestBuild_Failure(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.tool.fail = true

	err := e.dispatcher(t).Build(context.Background(), "")
	require.ErrorIs(t, err, build.ErrBuildFailed)
	require.Equal(t, 1, e.tool.runs)
	require.Contains(t, e.out.String(), "compile error")
	require.NoFileExists(t, e.cfg.ProjectPath("build", "HelloWorld.app"))
}

func TestBuild_ManifestMissing(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	require.NoError(t, os.Remove(e.cfg.ProjectPath(manifest.Filename)))

	err := e.dispatcher(t).Build(context.Background(), "")
	require.ErrorIs(t, err, ErrManifestNotFound)
	require.Contains(t, e.out.String(), "manifest.properties not found")
}

func TestBuildInstallRun(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	require.NoError(t, e.dispatcher(t).BuildInstallRun(context.Background(), e.host, ""))
	require.Equal(t, []deviceCall{
		{method: http.MethodPut, path: "/app/install"},
		{method: http.MethodPost, path: "/app/run", id: "one.tactility.helloworld"},
	}, e.deviceCalls())
}

// TestBuildInstallRun_StopsAfterFailure never talks to the device when the build fails.
func TestBuildInstallRun_StopsAfterFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.tool.fail = true

	require.ErrorIs(t, e.dispatcher(t).BuildInstallRun(context.Background(), e.host, ""), build.ErrBuildFailed)
	require.Empty(t, e.deviceCalls())

	// A rejected install stops before run.
	e.tool.fail = false
	e.setStatus(http.StatusInternalServerError)

	err := e.dispatcher(t).BuildInstallRun(context.Background(), e.host, "")
	require.ErrorIs(t, err, device.ErrUnexpectedStatus)
	require.Equal(t, []deviceCall{{method: http.MethodPut, path: "/app/install"}}, e.deviceCalls())
	require.Contains(t, e.out.String(), "Install failed")
}

func TestInstall_RequiresArtifacts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	err := e.dispatcher(t).Install(context.Background(), e.host, "")
	require.ErrorIs(t, err, ErrDevice)
	require.Contains(t, e.out.String(), "ELF file not built for esp32")
	require.Empty(t, e.deviceCalls())
}

func TestDeviceActions(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Info(ctx, e.host))
	require.Contains(t, e.out.String(), `"version": "0.6.0"`)

	require.NoError(t, d.Run(ctx, e.host))
	require.NoError(t, d.Uninstall(ctx, e.host))
	require.Equal(t, []deviceCall{
		{method: http.MethodGet, path: "/info"},
		{method: http.MethodPost, path: "/app/run", id: "one.tactility.helloworld"},
		{method: http.MethodPut, path: "/app/uninstall", id: "one.tactility.helloworld"},
	}, e.deviceCalls())

	e.setStatus(http.StatusNotFound)
	require.ErrorIs(t, d.Uninstall(ctx, e.host), device.ErrUnexpectedStatus)

	require.ErrorIs(t, d.Run(ctx, "127.0.0.1:bad"), ErrDevice)
}

func TestCleanAndClearCache(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Clean(ctx))
	require.Contains(t, e.out.String(), "Nothing to clean")

	require.NoError(t, d.ClearCache(ctx))
	require.Contains(t, e.out.String(), "Nothing to clear")

	require.NoError(t, d.Build(ctx, "esp32"))
	require.FileExists(t, e.cfg.ProjectPath(packager.IntermediateDir, "manifest.properties"))

	require.NoError(t, d.Clean(ctx))
	require.NoDirExists(t, e.cfg.ProjectPath("build"))
	require.Contains(t, e.out.String(), "Removed build/")

	require.NoError(t, d.ClearCache(ctx))
	require.NoDirExists(t, e.cfg.CachePath())
	require.Contains(t, e.out.String(), "Removed .tactility/")
}
