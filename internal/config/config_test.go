package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "nope.toml"), true)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sieve.toml", `
sieve_yml = "rules.yml"
workers = 4
group_by = "rules"
typo = 1

[breaker]
timeout = "1m"
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "rules.yml", cfg.SieveYML)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "rules", cfg.GroupBy)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, uint32(5), cfg.Breaker.MaxFailures)
	assert.Equal(t, []string{"typo"}, cfg.Undecoded)

	d, err := cfg.Breaker.GetTimeout()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 0
	cfg.BatchSize = 1001
	cfg.Workers = 0
	cfg.GroupBy = "senders"
	cfg.MatchMode = "last"
	cfg.Breaker.Timeout = "soon"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"page_size", "batch_size", "workers", "group_by", "match_mode", "breaker timeout"} {
		assert.Contains(t, err.Error(), want)
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sieve.toml", "workers = [")
	_, err := Load(path, true)
	assert.Error(t, err)
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/etc/sieve.toml")
	assert.Equal(t, "/etc/sieve.toml", DefaultPath())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, LoadEnv())

	writeFile(t, dir, ".env", "SIEVE_TEST_LEVEL=debug\n")
	t.Setenv("SIEVE_TEST_LEVEL", "")
	require.NoError(t, os.Unsetenv("SIEVE_TEST_LEVEL"))
	require.NoError(t, LoadEnv())
	assert.Equal(t, "debug", os.Getenv("SIEVE_TEST_LEVEL"))
}
