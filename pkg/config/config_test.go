package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads so host settings never
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "NEO4J_") || strings.HasPrefix(key, "CYPHERBATCH_") {
			t.Setenv(key, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg := LoadFromEnv()

	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.Username)
	assert.Equal(t, "neo4j", cfg.Neo4j.Database)
	assert.Equal(t, 3, cfg.Pool.Size)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, []string{"DROP", "DELETE", "REMOVE"}, cfg.Batch.Denylist)
	assert.Equal(t, 150, cfg.Batch.MaxErrorDetail)
	assert.Zero(t, cfg.Batch.StatementTimeout)
	assert.True(t, cfg.Journal.Enabled)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEO4J_URI", "neo4j+s://graph.example.com:7687")
	t.Setenv("NEO4J_USERNAME", "writer")
	t.Setenv("NEO4J_PASSWORD", "s3cret")
	t.Setenv("NEO4J_DATABASE", "knowledge")
	t.Setenv("CYPHERBATCH_POOL_SIZE", "8")
	t.Setenv("CYPHERBATCH_ACQUIRE_TIMEOUT", "5") // bare seconds
	t.Setenv("CYPHERBATCH_STATEMENT_TIMEOUT", "1500ms")
	t.Setenv("CYPHERBATCH_DENYLIST", " DROP , DETACH DELETE ,, ")
	t.Setenv("CYPHERBATCH_JOURNAL_ENABLED", "no")
	t.Setenv("CYPHERBATCH_LOG_FORMAT", "json")

	cfg := LoadFromEnv()

	assert.Equal(t, "neo4j+s://graph.example.com:7687", cfg.Neo4j.URI)
	assert.Equal(t, "writer", cfg.Neo4j.Username)
	assert.Equal(t, "s3cret", cfg.Neo4j.Password)
	assert.Equal(t, "knowledge", cfg.Neo4j.Database)
	assert.Equal(t, 8, cfg.Pool.Size)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Batch.StatementTimeout)
	assert.Equal(t, []string{"DROP", "DETACH DELETE"}, cfg.Batch.Denylist)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromEnv_Neo4jAuth(t *testing.T) {
	t.Run("user/password", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEO4J_AUTH", "neo4j/learning123")
		cfg := LoadFromEnv()
		assert.Equal(t, "neo4j", cfg.Neo4j.Username)
		assert.Equal(t, "learning123", cfg.Neo4j.Password)
	})

	t.Run("password containing a slash", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEO4J_AUTH", "admin/a/b")
		cfg := LoadFromEnv()
		assert.Equal(t, "admin", cfg.Neo4j.Username)
		assert.Equal(t, "a/b", cfg.Neo4j.Password)
	})

	t.Run("none", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEO4J_AUTH", "none")
		cfg := LoadFromEnv()
		assert.Empty(t, cfg.Neo4j.Username)
		assert.Empty(t, cfg.Neo4j.Password)
	})

	t.Run("explicit username wins", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEO4J_AUTH", "neo4j/pw")
		t.Setenv("NEO4J_USERNAME", "other")
		cfg := LoadFromEnv()
		assert.Equal(t, "other", cfg.Neo4j.Username)
		assert.Equal(t, "pw", cfg.Neo4j.Password)
	})
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cypherbatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
neo4j:
  uri: bolt://172.18.57.69:7687
  database: aip-graph
pool:
  size: 5
  acquire_timeout: 2s
batch:
  statement_timeout: 30s
  denylist: [DROP, "DETACH DELETE"]
journal:
  retention: 720h
logging:
  level: debug
`), 0o600))

	t.Setenv("NEO4J_DATABASE", "from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://172.18.57.69:7687", cfg.Neo4j.URI)
	assert.Equal(t, "from-env", cfg.Neo4j.Database, "environment overrides the file")
	assert.Equal(t, "neo4j", cfg.Neo4j.Username, "defaults survive for unset keys")
	assert.Equal(t, 5, cfg.Pool.Size)
	assert.Equal(t, 2*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.Batch.StatementTimeout)
	assert.Equal(t, []string{"DROP", "DETACH DELETE"}, cfg.Batch.Denylist)
	assert.Equal(t, 720*time.Hour, cfg.Journal.Retention)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pool: [unclosed"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pool.Size)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty uri", func(c *Config) { c.Neo4j.URI = "" }, "uri is required"},
		{"http scheme", func(c *Config) { c.Neo4j.URI = "http://localhost:7474" }, "unsupported neo4j uri scheme"},
		{"pool size", func(c *Config) { c.Pool.Size = 0 }, "invalid pool size"},
		{"acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = -time.Second }, "invalid acquire timeout"},
		{"statement timeout", func(c *Config) { c.Batch.StatementTimeout = -1 }, "invalid statement timeout"},
		{"journal dir", func(c *Config) { c.Journal.DataDir = "" }, "journal enabled"},
		{"audit path", func(c *Config) { c.Audit.LogPath = "" }, "audit enabled"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := Defaults()
		cfg.Pool.Size = 0
		cfg.Logging.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pool size")
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("disabled journal needs no dir", func(t *testing.T) {
		cfg := Defaults()
		cfg.Journal.Enabled = false
		cfg.Journal.DataDir = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestString_RedactsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Neo4j.Password = "learning123"

	s := cfg.String()
	assert.NotContains(t, s, "learning123")
	assert.Contains(t, s, "***")
	assert.Contains(t, s, "bolt://localhost:7687")
}
