package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Memory.SearchCacheTTL)
	assert.Equal(t, 0.6, cfg.Reflection.MinEffectiveness)
	assert.Equal(t, 3, cfg.Reflection.MinApplications)
	assert.Equal(t, 1536, cfg.Memory.EmbeddingDim)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memflow.yaml")

	content := `
database:
  host: db.internal
  port: 5433
reflection:
  min_effectiveness: 0.7
memory:
  search_cache_ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 0.7, cfg.Reflection.MinEffectiveness)
	assert.Equal(t, 2*time.Minute, cfg.Memory.SearchCacheTTL)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: from-file\n"), 0o600))

	t.Setenv("MEMFLOW_DATABASE_HOST", "from-env")
	t.Setenv("MEMFLOW_MEMORY_GRAPH_TIMEOUT", "3s")
	t.Setenv("MEMFLOW_REFLECTION_CONFLICT_RETRIES", "5")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Host)
	assert.Equal(t, 3*time.Second, cfg.Memory.GraphTimeout)
	assert.Equal(t, 5, cfg.Reflection.ConflictRetries)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/memflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Reflection.DecayFactor = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidatorHook(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			c.Database.Name = "checked"
			return nil
		}).
		Load()
	require.NoError(t, err)
}
