package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/config"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// testEnv points the configuration at a temp data dir with cheap key
// derivation and returns the directory.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vault")
	t.Setenv("ATTACHVAULT_DATA_DIR", dir)
	t.Setenv("ATTACHVAULT_MASTER_KDF_ITERATIONS", "2000")
	t.Setenv("ATTACHVAULT_RECORD_KDF_ITERATIONS", "100")
	t.Setenv("ATTACHVAULT_LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errb bytes.Buffer
	err := run(context.Background(), args, &out, &errb)
	return out.String(), err
}

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

func TestEnsureDataDir(t *testing.T) {
	tmp := t.TempDir()
	data := filepath.Join(tmp, "data-root")
	require.NoError(t, ensureDataDir(data))
	st, err := os.Stat(data)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())

	require.NoError(t, ensureDataDir(data), "existing directory is fine")

	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Error(t, ensureDataDir(file))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.DefaultAppConfig
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	l := newLogger(&cfg, 0, &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	cfg.LogFormat = "json"
	l = newLogger(&cfg, 1, &buf)
	l.Debug("verbose")
	assert.Contains(t, buf.String(), `"msg":"verbose"`)
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestImportGetListStatsRemove(t *testing.T) {
	testEnv(t)
	file := writeTemp(t, "hello.txt", "hello")

	out, err := runCLI(t, "import", "a1", file, "--case", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "a1\thello.txt")

	out, err = runCLI(t, "get", "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	dst := filepath.Join(t.TempDir(), "out.txt")
	_, err = runCLI(t, "get", "a1", "-o", dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	out, err = runCLI(t, "list", "--case", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "hello.txt")
	out, err = runCLI(t, "list", "--case", "other")
	require.NoError(t, err)
	assert.NotContains(t, out, "hello.txt")

	out, err = runCLI(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "attachments:  1")
	assert.Contains(t, out, "plaintext:    5 bytes")
	assert.Contains(t, out, "encrypted:    16 bytes")

	out, err = runCLI(t, "rm", "a1")
	require.NoError(t, err)
	assert.Contains(t, out, "removed a1")
	_, err = runCLI(t, "rm", "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = runCLI(t, "get", "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatsFormatsThousands(t *testing.T) {
	testEnv(t)
	file := writeTemp(t, "big.bin", strings.Repeat("x", 12345))
	_, err := runCLI(t, "import", "big", file)
	require.NoError(t, err)
	out, err := runCLI(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "12,345 bytes")
}

func TestEphemeralLeavesNoTrace(t *testing.T) {
	dir := testEnv(t)
	file := writeTemp(t, "hello.txt", "hello")

	_, err := runCLI(t, "--ephemeral", "import", "a1", file)
	require.NoError(t, err)
	_, err = runCLI(t, "--ephemeral", "get", "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, statErr := os.Stat(dir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "data dir must not be created")
}

func TestDestructiveCommandsNeedConfirmation(t *testing.T) {
	testEnv(t)
	_, err := runCLI(t, "wipe")
	assert.ErrorIs(t, err, errNotConfirmed)
	_, err = runCLI(t, "reset-key")
	assert.ErrorIs(t, err, errNotConfirmed)
}

func TestWipeAndResetKey(t *testing.T) {
	testEnv(t)
	file := writeTemp(t, "a.txt", "alpha")
	_, err := runCLI(t, "import", "a1", file)
	require.NoError(t, err)
	_, err = runCLI(t, "import", "a2", file)
	require.NoError(t, err)

	out, err := runCLI(t, "wipe", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	out, err = runCLI(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "attachments:  0")

	_, err = runCLI(t, "import", "a3", file)
	require.NoError(t, err)
	out, err = runCLI(t, "reset-key", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "device key replaced")
	_, err = runCLI(t, "get", "a3")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = runCLI(t, "import", "a4", file)
	require.NoError(t, err, "vault usable with the new key")
	out, err = runCLI(t, "get", "a4")
	require.NoError(t, err)
	assert.Equal(t, "alpha", out)
}

func TestSyncFromFileRemote(t *testing.T) {
	testEnv(t)
	share := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(share, "cases", "c1"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(share, "cases", "c1", "a.txt"), []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(share, "cases", "c1", "b.txt"), []byte("beta"), 0o600))
	t.Setenv("ATTACHVAULT_REMOTE", "file")
	t.Setenv("ATTACHVAULT_REMOTE_DIR", share)

	out, err := runCLI(t, "sync", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 succeeded, 0 failed")

	out, err = runCLI(t, "get", "cases/c1/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "beta", out)

	out, err = runCLI(t, "sync", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "0 succeeded, 0 failed", "already offline attachments are skipped")
}

func TestSyncWithoutRemoteFails(t *testing.T) {
	testEnv(t)
	_, err := runCLI(t, "sync", "c1")
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	testEnv(t)
	file := writeTemp(t, "a.txt", "alpha")
	_, err := runCLI(t, "import", "a1", file)
	require.NoError(t, err)

	out, err := runCLI(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0")

	time.Sleep(5 * time.Millisecond)
	out, err = runCLI(t, "cleanup", "--max-age", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1")
}

func TestVersion(t *testing.T) {
	testEnv(t)
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "attachvault "+version))
}

func TestBadConfig(t *testing.T) {
	testEnv(t)
	t.Setenv("ATTACHVAULT_LOG_FORMAT", "xml")
	_, err := runCLI(t, "stats")
	assert.ErrorContains(t, err, "configuration")
}

func TestServe(t *testing.T) {
	testEnv(t)
	t.Setenv("ATTACHVAULT_METRICS_TOKEN", "tok")
	cfg, err := config.Load()
	require.NoError(t, err)

	cli := &CLI{Ephemeral: true}
	e := &env{ctx: context.Background(), cfg: cfg, cli: cli, out: io.Discard, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	cmd := &serveCmd{Addr: "127.0.0.1:0"}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- cmd.serve(ctx, e, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}

	get := func(path, token string) int {
		req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, get("/healthz", ""))
	assert.Equal(t, http.StatusOK, get("/readyz", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/v1/stats", ""))
	assert.Equal(t, http.StatusOK, get("/v1/stats", "tok"))
	assert.Equal(t, http.StatusNotFound, get("/metrics", "tok"), "no metrics in ephemeral mode")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
