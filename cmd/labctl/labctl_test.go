package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/provinggrounds/internal/controlplane/backend"
	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/scanner"
)

const testSecret = "s3cret"

const testCatalog = `[
  {"id": 1, "name": "Lame", "difficulty": "Easy", "os": "Linux", "category": "Web", "description": "Warmup"},
  {"id": 2, "name": "Blue", "difficulty": "Medium", "os": "Windows", "category": "SMB", "description": "Eternal"}
]`

// setup starts a development backend and writes a config pointing labctl at
// it with a shared sqlite store.
func setup(t *testing.T) string {
	t.Helper()
	t.Setenv("LABS_AUTH_JWT_SECRET", "")
	t.Setenv("LABS_TOKEN", "")

	srv := httptest.NewServer(backend.New(backend.Options{}).Handler(testSecret))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "boxes.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o600))

	configPath := filepath.Join(dir, "labs.yaml")
	config := fmt.Sprintf(`
catalog:
  source: %s
store:
  driver: sqlite
  sqlite_path: %s
control_plane:
  url: %s
  secret: %s
  timeout: 5s
vpn:
  url: %s/generate-vpn
logging:
  level: error
`, catalogPath, filepath.Join(dir, "sessions.db"), srv.URL, testSecret, srv.URL)
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	return configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLabLifecycle(t *testing.T) {
	cfg := setup(t)
	flags := []string{"--config", cfg, "--token", "0xabc"}
	run := func(args ...string) (string, error) {
		return execute(t, append(args, flags...)...)
	}

	out, err := run("start", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Blue is running at 10.10.11.100 (4h 0m remaining)")

	out, err = run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "Active: 1  Available: 1")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "10.10.11.100")

	out, err = run("start", "2")
	require.NoError(t, err, "policy no-ops do not fail")
	assert.Contains(t, out, lifecycle.ErrAlreadyActive.Error())

	out, err = run("accounts", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "PRIVATE KEY")
	assert.Contains(t, out, "0x")

	out, err = run("stop", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Blue stopped")

	out, err = run("stop", "2")
	require.NoError(t, err)
	assert.Contains(t, out, lifecycle.ErrNotActive.Error())

	out, err = run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "Active: 0  Available: 2")
}

func TestStartUnknownEnvironment(t *testing.T) {
	cfg := setup(t)
	_, err := execute(t, "start", "99", "--config", cfg)
	assert.ErrorIs(t, err, lifecycle.ErrUnknownEnvironment)
}

func TestInvalidEnvironmentID(t *testing.T) {
	cfg := setup(t)
	_, err := execute(t, "stop", "abc", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment id")
}

func TestCatalog(t *testing.T) {
	cfg := setup(t)
	out, err := execute(t, "catalog", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Lame")
	assert.Contains(t, out, "Eternal")
}

func TestVPN(t *testing.T) {
	cfg := setup(t)
	path := filepath.Join(t.TempDir(), "me.ovpn")

	out, err := execute(t, "vpn", "-o", path, "--config", cfg, "--token", "0xabc")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	profile, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(profile), "client")
}

func TestVPNRequiresUser(t *testing.T) {
	cfg := setup(t)
	_, err := execute(t, "vpn", "--config", cfg)
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Setenv("LABS_AUTH_JWT_SECRET", "0123456789abcdef0123")

	out, err := execute(t, "token", "--address", "0xfeed")
	require.NoError(t, err)
	assert.NotEmpty(t, bytes.TrimSpace([]byte(out)))

	_, err = execute(t, "token")
	assert.Error(t, err)
}

func TestContracts(t *testing.T) {
	cfg := setup(t)
	flags := []string{"--config", cfg, "--token", "0xabc"}

	out, err := execute(t, append([]string{"contracts"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No RPC connection")

	_, err = execute(t, append([]string{"contracts", "2"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment 2 is stopped")

	_, err = execute(t, append([]string{"contracts", "99"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the catalog")

	_, err = execute(t, append([]string{"contracts", "--watch", "2"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes no id")
}

func TestPrintContracts(t *testing.T) {
	var out bytes.Buffer
	printContracts(&out, scanner.Result{
		Address: "10.10.11.100",
		URL:     "https://10.10.11.100:8545",
		Deployments: []scanner.Deployment{
			{ContractAddress: "0x5fbdb2315678afecb367f032d93f642f64180aa3", Block: 7, From: "0xf39f", GasUsed: 123456},
		},
	}, 50)
	assert.Contains(t, out.String(), "Connected to: https://10.10.11.100:8545")
	assert.Contains(t, out.String(), "0x5fbdb2315678afecb367f032d93f642f64180aa3")
	assert.Contains(t, out.String(), "123456")

	out.Reset()
	printContracts(&out, scanner.Result{Address: "10.10.11.100", URL: "https://10.10.11.100:8545"}, 50)
	assert.Contains(t, out.String(), "No deployed contracts found in the last 50 blocks.")
}
