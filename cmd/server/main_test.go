package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/openmined/blobvault/internal/blob/hashing"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"github.com/openmined/blobvault/internal/server"
	"github.com/openmined/blobvault/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func newTestRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "blobvault",
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, args []string) error { return nil },
	}
	addServeFlags(cmd)
	addPersistentFlags(cmd)
	cmd.AddCommand(newStoresCmd(), newCompactCmd(), newConfigCmd(), newVersionCmd())
	return cmd
}

// runCmd executes args against a fresh command tree and returns its output
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newTestRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stripANSI(out.String()), err
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BLOBVAULT_DATA_DIR", dir)

	cfg, err := loadConfig(newTestRootCmd())
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	assert.Equal(t, filepath.Join(dir, "blobstores.db"), cfg.ConfigDBPath)
	assert.Equal(t, server.DefaultAddr, cfg.HTTP.Addr)
	assert.Equal(t, server.DefaultRateLimit, cfg.HTTP.RateLimit)
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.Blob.BaseDir)
	assert.Equal(t, 24*time.Hour, cfg.Blob.RetentionPeriod)
	assert.Equal(t, time.Hour, cfg.Blob.TempGracePeriod)
	assert.Equal(t, server.DefaultCompactInterval, cfg.Blob.CompactInterval)
	assert.Equal(t, hashing.DefaultAlgorithms, cfg.Blob.HashAlgorithms)
}

func TestLoadConfigEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BLOBVAULT_DATA_DIR", dir)
	t.Setenv("BLOBVAULT_HTTP_ADDR", ":8080")
	t.Setenv("BLOBVAULT_HTTP_CERT_FILE", "test-cert.pem")
	t.Setenv("BLOBVAULT_HTTP_KEY_FILE", "test-key.pem")
	t.Setenv("BLOBVAULT_HTTP_RATE_LIMIT", "10-M")
	t.Setenv("BLOBVAULT_BLOB_BASE_DIR", filepath.Join(dir, "stores"))
	t.Setenv("BLOBVAULT_BLOB_RETENTION_PERIOD", "2h")
	t.Setenv("BLOBVAULT_BLOB_TEMP_GRACE_PERIOD", "30m")
	t.Setenv("BLOBVAULT_BLOB_COMPACT_INTERVAL", "0s")
	t.Setenv("BLOBVAULT_BLOB_HASH_ALGORITHMS", "sha256,blake3")
	t.Setenv("BLOBVAULT_BLOB_METADATA_CACHE_SIZE", "64")

	cfg, err := loadConfig(newTestRootCmd())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "test-cert.pem", cfg.HTTP.CertFile)
	assert.Equal(t, "test-key.pem", cfg.HTTP.KeyFile)
	assert.True(t, cfg.HTTP.TLS())
	assert.Equal(t, "10-M", cfg.HTTP.RateLimit)
	assert.Equal(t, filepath.Join(dir, "stores"), cfg.Blob.BaseDir)
	assert.Equal(t, 2*time.Hour, cfg.Blob.RetentionPeriod)
	assert.Equal(t, 30*time.Minute, cfg.Blob.TempGracePeriod)
	assert.Zero(t, cfg.Blob.CompactInterval)
	assert.Equal(t, []string{"sha256", "blake3"}, cfg.Blob.HashAlgorithms)
	assert.Equal(t, 64, cfg.Blob.MetadataCacheSize)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	config := `
data_dir: ` + dir + `
http:
  addr: 0.0.0.0:9000
  rate_limit: 50-S
blob:
  retention_period: 48h
  hash_algorithms:
    - sha1
    - sha512
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	cmd := newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)
	assert.Equal(t, "50-S", cfg.HTTP.RateLimit)
	assert.Equal(t, 48*time.Hour, cfg.Blob.RetentionPeriod)
	assert.Equal(t, []string{"sha1", "sha512"}, cfg.Blob.HashAlgorithms)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	config := `{
		"data_dir": "` + dir + `",
		"http": {"addr": ":7000"},
		"blob": {"base_dir": "` + filepath.Join(dir, "b") + `", "temp_grace_period": "5m"}
	}`
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	cmd := newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join(dir, "b"), cfg.Blob.BaseDir)
	assert.Equal(t, 5*time.Minute, cfg.Blob.TempGracePeriod)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: :1000\n  rate_limit: 1-S\n"), 0o644))
	t.Setenv("BLOBVAULT_HTTP_ADDR", ":2000")

	cmd := newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, cmd.PersistentFlags().Set("datadir", dir))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":2000", cfg.HTTP.Addr, "env beats the config file")
	assert.Equal(t, "1-S", cfg.HTTP.RateLimit)
	assert.Equal(t, dir, cfg.DataDir)

	require.NoError(t, cmd.Flags().Set("bind", ":3000"))
	require.NoError(t, cmd.Flags().Set("compact-interval", "10m"))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.HTTP.Addr, "flags beat env")
	assert.Equal(t, 10*time.Minute, cfg.Blob.CompactInterval)
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "blobvault.env")
	require.NoError(t, os.WriteFile(envFile, []byte("BLOBVAULT_DATA_DIR="+dir+"\nBLOBVAULT_HTTP_RATE_LIMIT=7-H\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("BLOBVAULT_DATA_DIR")
		os.Unsetenv("BLOBVAULT_HTTP_RATE_LIMIT")
	})

	cmd := newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("env-file", envFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "7-H", cfg.HTTP.RateLimit)

	cmd = newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("env-file", filepath.Join(dir, "missing.env")))
	_, err = loadConfig(cmd)
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("BLOBVAULT_DATA_DIR", t.TempDir())

	t.Setenv("BLOBVAULT_BLOB_HASH_ALGORITHMS", "crc32")
	_, err := loadConfig(newTestRootCmd())
	assert.ErrorIs(t, err, server.ErrInvalidConfig)

	t.Setenv("BLOBVAULT_BLOB_HASH_ALGORITHMS", "")
	t.Setenv("BLOBVAULT_HTTP_CERT_FILE", "cert.pem")
	_, err = loadConfig(newTestRootCmd())
	assert.ErrorIs(t, err, server.ErrInvalidConfig)
}

func TestLoadConfigUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [unterminated"), 0o644))

	cmd := newTestRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	_, err := loadConfig(cmd)
	assert.ErrorContains(t, err, "config read")
}

// seedStore creates a store under dataDir holding one blob per payload
func seedStore(t *testing.T, dataDir, name string, payloads ...string) {
	t.Helper()

	configs, err := storeconfig.OpenSQLite(filepath.Join(dataDir, "blobstores.db"))
	require.NoError(t, err)
	defer configs.Close()

	mgr := manager.New(filepath.Join(dataDir, "blobs"), configs)
	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(ctx)

	s, err := mgr.Get(ctx, name)
	require.NoError(t, err)
	for _, p := range payloads {
		_, err := s.Create(ctx, strings.NewReader(p), nil)
		require.NoError(t, err)
	}
}

func TestStoresCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCmd(t, "stores", "--datadir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no blob stores configured")

	seedStore(t, dir, "npm", "hello", "world!")
	seedStore(t, dir, "maven")

	out, err = runCmd(t, "stores", "--datadir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "npm")
	assert.Contains(t, out, "maven")
	assert.Contains(t, out, statusReady)
	assert.Contains(t, out, "11 B")
	assert.NotContains(t, out, statusUnavailable)
}

func TestStoresCommandReportsStoresInUse(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir, "npm", "payload")

	configs, err := storeconfig.OpenSQLite(filepath.Join(dir, "blobstores.db"))
	require.NoError(t, err)
	defer configs.Close()
	held := manager.New(filepath.Join(dir, "blobs"), configs)
	require.NoError(t, held.Start(context.Background()))
	defer held.Stop(context.Background())

	out, err := runCmd(t, "stores", "--datadir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "npm")
	assert.Contains(t, out, statusUnavailable)
}

func TestCompactCommand(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir, "npm", "payload")
	seedStore(t, dir, "raw")

	out, err := runCmd(t, "compact", "--datadir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "compacted npm purged=0")
	assert.Contains(t, out, "compacted raw purged=0")
	assert.Contains(t, out, "reclaimed 0 B")
	assert.NotContains(t, out, "skipped")
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCmd(t, "config", "--datadir", dir, "--basedir", filepath.Join(dir, "elsewhere"))
	require.NoError(t, err)
	assert.Contains(t, out, "data_dir: "+dir)
	assert.Contains(t, out, "base_dir: "+filepath.Join(dir, "elsewhere"))
	assert.Contains(t, out, "retention_period: 24h0m0s")
	assert.Contains(t, out, "- sha256")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.Detailed(), strings.TrimSpace(out))
}
