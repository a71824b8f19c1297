package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/config"
)

// TestLoad_Defaults verifies that a missing file yields safe defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.BindAddress)
	assert.Equal(t, "localhost_or_token", cfg.Admin.Mode)
	assert.Equal(t, 600, cfg.Security.NonceTTLSeconds)
	assert.Equal(t, 120, cfg.Security.ClockSkewSeconds)
	assert.Equal(t, "paseto_v4_public", cfg.Tokens.Format)
	assert.Equal(t, 120, cfg.Tokens.DefaultTTLSeconds)
	assert.Equal(t, 3600, cfg.Tokens.MaxTTLSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens:\n  default_ttl_seconds: 30\nadmin:\n  mode: token\n  token: abc\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Tokens.DefaultTTLSeconds)
	assert.Equal(t, 3600, cfg.Tokens.MaxTTLSeconds, "untouched keys keep defaults")
	assert.Equal(t, "token", cfg.Admin.Mode)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_EnvOverrides verifies that OPENLEASH_* variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  bind_address: 127.0.0.1:9000\n"), 0o600))
	t.Setenv("OPENLEASH_BIND_ADDRESS", "0.0.0.0:8787")
	t.Setenv("OPENLEASH_CLOCK_SKEW_SECONDS", "30")
	t.Setenv("OPENLEASH_ALLOW_REMOTE_ADMIN", "true")
	t.Setenv("OPENLEASH_NONCE_BACKEND", "redis")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8787", cfg.Server.BindAddress)
	assert.Equal(t, 30, cfg.Security.ClockSkewSeconds)
	assert.True(t, cfg.Admin.AllowRemoteAdmin)
	assert.Equal(t, "redis", cfg.Nonce.Backend)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("OPENLEASH_NONCE_TTL_SECONDS", "ten")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "OPENLEASH_NONCE_TTL_SECONDS")
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.Admin.Mode = "token"
	cfg.Tokens.Format = "x509"
	cfg.Store.Driver = "postgres"
	cfg.Tokens.MaxTTLSeconds = 1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"admin.token", "tokens.format", "store.dsn", "tokens.max_ttl_seconds"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, config.WriteDefault(path))
	assert.Error(t, config.WriteDefault(path), "does not overwrite")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Tokens, cfg.Tokens)
}

func TestSanitized_HidesSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Admin.Token = "super-secret"
	cfg.Store.DSN = "postgres://u:p@h/db"

	s := cfg.Sanitized()
	admin := s["admin"].(map[string]any)
	assert.Equal(t, true, admin["token_set"])
	assert.NotContains(t, mustJSON(t, s), "super-secret")
	assert.NotContains(t, mustJSON(t, s), "u:p@h")
}

func TestStoreDSN(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/var/lib/openleash"
	assert.Equal(t, filepath.Join("/var/lib/openleash", "openleash.db"), cfg.StoreDSN())
	cfg.Store.DSN = "file:custom.db"
	assert.Equal(t, "file:custom.db", cfg.StoreDSN())
}
