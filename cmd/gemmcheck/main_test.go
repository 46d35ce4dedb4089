package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newApp()
	cliApp.Writer = &out
	err := cliApp.Run(append([]string{"gemmcheck", "--verbosity", "error"}, args...))
	return out.String(), err
}

func TestDevicesCommand(t *testing.T) {
	out, err := runCLI(t, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "found ")
	assert.Contains(t, out, "[cpu]")
}

func TestRunCommand(t *testing.T) {
	for _, kernel := range []string{"sgemm", "sgemm_strided"} {
		t.Run(kernel, func(t *testing.T) {
			out, err := runCLI(t, "--kernel", kernel, "run", "--quiet")
			require.NoError(t, err)
			assert.Contains(t, out, "using ")
			assert.Contains(t, out, "PASS")
			assert.NotContains(t, out, "FAIL")
		})
	}
}

func TestRunCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios.yaml")
	require.NoError(t, os.WriteFile(scenarios, []byte(`scenarios:
  - name: wrong expectation
    params: {b: 1, m: 1, n: 1, k: 1}
    expected: [1]
`), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("suite:\n  scenariosPath: %s\n", scenarios)), 0o600))

	out, err := runCLI(t, "--config", cfgPath, "run", "--quiet")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "wrong expectation")
}

func TestRunCommand_MissingConfig(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run")
	assert.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gemmcheck")

	out, err := runCLI(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "scenarios.yaml"))

	cfg, err := config.LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Backend.Name)

	_, err = runCLI(t, "init", dir)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "init", "--force", dir)
	assert.NoError(t, err)
}

func TestServeApp(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Server.ListenAddress = fmt.Sprintf("127.0.0.1:%d", port)

	fxApp := newServeApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, fxApp.Start(context.Background()))
	defer func() {
		require.NoError(t, fxApp.Stop(context.Background()))
	}()

	resp, err := http.Post(fmt.Sprintf("http://%s/scenarios", cfg.Server.ListenAddress), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	addr := "http://" + cfg.Server.ListenAddress
	out, err := runCLI(t, "submit", "--addr", addr, "--scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, `"passed": true`)

	request := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(request, []byte(`{
  "params": {"b": 1, "m": 1, "n": 1, "k": 2},
  "lhs": {"data": [1, 2], "strides": [2, 2, 1], "offset": 0},
  "rhs": {"data": [3, 4], "strides": [2, 1, 1], "offset": 0}
}`), 0o600))
	out, err = runCLI(t, "submit", "--addr", addr, request)
	require.NoError(t, err)
	assert.Contains(t, out, `"output": [`)
	assert.Contains(t, out, "11")

	batch := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(batch, []byte(`{"requests": [
  {"params": {"b": 1, "m": 1, "n": 1, "k": 2},
   "lhs": {"data": [1, 2], "strides": [2, 2, 1], "offset": 0},
   "rhs": {"data": [3, 4], "strides": [2, 1, 1], "offset": 0},
   "verify": true}
]}`), 0o600))
	out, err = runCLI(t, "submit", "--addr", addr, "--batch", batch)
	require.NoError(t, err)
	assert.Contains(t, out, `"verified": true`)
}

func TestAccountCommands(t *testing.T) {
	keyfile := filepath.Join(t.TempDir(), "key.json")

	out, err := runCLI(t, "account", "new", "--keyfile", keyfile)
	require.NoError(t, err)
	assert.Contains(t, out, "address 0x")

	address, err := runCLI(t, "account", "get", "--keyfile", keyfile)
	require.NoError(t, err)
	assert.Contains(t, out, strings.TrimSpace(address))

	_, err = runCLI(t, "account", "new", "--keyfile", keyfile)
	assert.Error(t, err)
}

func TestServeApp_Auth(t *testing.T) {
	keyfile := filepath.Join(t.TempDir(), "key.json")
	_, err := runCLI(t, "account", "new", "--keyfile", keyfile)
	require.NoError(t, err)
	address, err := runCLI(t, "account", "get", "--keyfile", keyfile)
	require.NoError(t, err)

	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Server.ListenAddress = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.AllowedAddresses = []string{strings.TrimSpace(address)}

	fxApp := newServeApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, fxApp.Start(context.Background()))
	defer func() {
		require.NoError(t, fxApp.Stop(context.Background()))
	}()

	addr := "http://" + cfg.Server.ListenAddress
	_, err = runCLI(t, "submit", "--addr", addr, "--scenarios")
	assert.ErrorContains(t, err, "401")

	out, err := runCLI(t, "submit", "--addr", addr, "--keyfile", keyfile, "--scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, `"passed": true`)
}
