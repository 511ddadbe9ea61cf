// Package config handles cypherbatch configuration via environment variables
// and an optional YAML file.
//
// Connection settings use the standard Neo4j variable names so the same
// environment that drives cypher-shell or a Neo4j container drives
// cypherbatch. Everything else is prefixed with CYPHERBATCH_.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("cypherbatch.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Neo4j-Compatible:
//   - NEO4J_URI="bolt://localhost:7687"
//   - NEO4J_USERNAME, NEO4J_PASSWORD
//   - NEO4J_AUTH="username/password" or "none" (applied before the two above)
//   - NEO4J_DATABASE="neo4j"
//
// cypherbatch-Specific:
//   - CYPHERBATCH_POOL_SIZE=3
//   - CYPHERBATCH_ACQUIRE_TIMEOUT=30s
//   - CYPHERBATCH_CONNECT_TIMEOUT=10s
//   - CYPHERBATCH_STATEMENT_TIMEOUT=0 (no limit)
//   - CYPHERBATCH_DENYLIST="DROP,DELETE,REMOVE"
//   - CYPHERBATCH_MAX_ERROR_DETAIL=150
//   - CYPHERBATCH_JOURNAL_ENABLED=true, CYPHERBATCH_JOURNAL_DIR, CYPHERBATCH_JOURNAL_RETENTION
//   - CYPHERBATCH_AUDIT_ENABLED=true, CYPHERBATCH_AUDIT_PATH, CYPHERBATCH_AUDIT_ACTOR
//   - CYPHERBATCH_LOG_LEVEL=info, CYPHERBATCH_LOG_FORMAT=console
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cypherbatch configuration.
type Config struct {
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Pool    PoolConfig    `yaml:"pool"`
	Batch   BatchConfig   `yaml:"batch"`
	Journal JournalConfig `yaml:"journal"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// Neo4jConfig locates and authenticates against the graph database.
type Neo4jConfig struct {
	// URI is a neo4j:// or bolt:// URI, optionally +s / +ssc.
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// ConnectTimeout bounds dialing and connectivity verification per
	// pooled connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PoolConfig sizes the connection pool. Fixed for the process lifetime.
type PoolConfig struct {
	Size           int           `yaml:"size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// BatchConfig controls batch execution.
type BatchConfig struct {
	// StatementTimeout bounds each statement. Zero disables.
	StatementTimeout time.Duration `yaml:"statement_timeout"`

	// Denylist holds keywords that reject a whole block.
	Denylist []string `yaml:"denylist"`

	// MaxErrorDetail caps driver error text per step, in runes.
	MaxErrorDetail int `yaml:"max_error_detail"`
}

// JournalConfig controls the persistent run history.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	DataDir   string        `yaml:"data_dir"`
	Retention time.Duration `yaml:"retention"`
}

// AuditConfig controls the JSON-lines audit trail.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	LogPath       string `yaml:"log_path"`
	SyncWrites    bool   `yaml:"sync_writes"`
	Actor         string `yaml:"actor"`
	MaxBlockChars int    `yaml:"max_block_chars"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// Output is stderr, stdout or a file path.
	Output string `yaml:"output"`
}

var validSchemes = map[string]bool{
	"neo4j": true, "neo4j+s": true, "neo4j+ssc": true,
	"bolt": true, "bolt+s": true, "bolt+ssc": true,
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Neo4j: Neo4jConfig{
			URI:            "bolt://localhost:7687",
			Username:       "neo4j",
			Database:       "neo4j",
			ConnectTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			Size:           3,
			AcquireTimeout: 30 * time.Second,
		},
		Batch: BatchConfig{
			Denylist:       []string{"DROP", "DELETE", "REMOVE"},
			MaxErrorDetail: 150,
		},
		Journal: JournalConfig{
			Enabled: true,
			DataDir: "./data/journal",
		},
		Audit: AuditConfig{
			Enabled:       true,
			LogPath:       "./logs/audit.log",
			MaxBlockChars: 2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns defaults overridden by the environment.
func LoadFromEnv() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the
// environment. An empty path is LoadFromEnv.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	// NEO4J_AUTH first so explicit USERNAME/PASSWORD win.
	if auth := os.Getenv("NEO4J_AUTH"); auth != "" {
		if auth == "none" {
			c.Neo4j.Username = ""
			c.Neo4j.Password = ""
		} else if user, pass, ok := strings.Cut(auth, "/"); ok {
			c.Neo4j.Username = user
			c.Neo4j.Password = pass
		} else {
			c.Neo4j.Password = auth
		}
	}
	c.Neo4j.URI = getEnv("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.Username = getEnv("NEO4J_USERNAME", c.Neo4j.Username)
	c.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Neo4j.Password)
	c.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Neo4j.Database)
	c.Neo4j.ConnectTimeout = getEnvDuration("CYPHERBATCH_CONNECT_TIMEOUT", c.Neo4j.ConnectTimeout)

	c.Pool.Size = getEnvInt("CYPHERBATCH_POOL_SIZE", c.Pool.Size)
	c.Pool.AcquireTimeout = getEnvDuration("CYPHERBATCH_ACQUIRE_TIMEOUT", c.Pool.AcquireTimeout)

	c.Batch.StatementTimeout = getEnvDuration("CYPHERBATCH_STATEMENT_TIMEOUT", c.Batch.StatementTimeout)
	c.Batch.Denylist = getEnvStringSlice("CYPHERBATCH_DENYLIST", c.Batch.Denylist)
	c.Batch.MaxErrorDetail = getEnvInt("CYPHERBATCH_MAX_ERROR_DETAIL", c.Batch.MaxErrorDetail)

	c.Journal.Enabled = getEnvBool("CYPHERBATCH_JOURNAL_ENABLED", c.Journal.Enabled)
	c.Journal.DataDir = getEnv("CYPHERBATCH_JOURNAL_DIR", c.Journal.DataDir)
	c.Journal.Retention = getEnvDuration("CYPHERBATCH_JOURNAL_RETENTION", c.Journal.Retention)

	c.Audit.Enabled = getEnvBool("CYPHERBATCH_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.LogPath = getEnv("CYPHERBATCH_AUDIT_PATH", c.Audit.LogPath)
	c.Audit.SyncWrites = getEnvBool("CYPHERBATCH_AUDIT_SYNC", c.Audit.SyncWrites)
	c.Audit.Actor = getEnv("CYPHERBATCH_AUDIT_ACTOR", c.Audit.Actor)

	c.Logging.Level = getEnv("CYPHERBATCH_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("CYPHERBATCH_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("CYPHERBATCH_LOG_OUTPUT", c.Logging.Output)
}

// Validate checks the configuration for values that cannot work.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Neo4j.URI == "" {
		errs = append(errs, errors.New("neo4j uri is required"))
	} else if u, err := url.Parse(c.Neo4j.URI); err != nil {
		errs = append(errs, fmt.Errorf("invalid neo4j uri: %w", err))
	} else if !validSchemes[u.Scheme] {
		errs = append(errs, fmt.Errorf("unsupported neo4j uri scheme %q", u.Scheme))
	}
	if c.Neo4j.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid connect timeout: %s", c.Neo4j.ConnectTimeout))
	}

	if c.Pool.Size < 1 {
		errs = append(errs, fmt.Errorf("invalid pool size: %d", c.Pool.Size))
	}
	if c.Pool.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid acquire timeout: %s", c.Pool.AcquireTimeout))
	}
	if c.Batch.StatementTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid statement timeout: %s", c.Batch.StatementTimeout))
	}

	if c.Journal.Enabled && c.Journal.DataDir == "" {
		errs = append(errs, errors.New("journal enabled but no data directory provided"))
	}
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		errs = append(errs, errors.New("audit enabled but no log path provided"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// String returns a representation safe for logging: the password is never
// included.
func (c *Config) String() string {
	pw := ""
	if c.Neo4j.Password != "" {
		pw = "***"
	}
	return fmt.Sprintf(
		"Config{URI: %s, User: %s, Password: %s, Database: %s, Pool: %d, AcquireTimeout: %s, Denylist: %v, Journal: %v, Audit: %v}",
		c.Neo4j.URI, c.Neo4j.Username, pw, c.Neo4j.Database,
		c.Pool.Size, c.Pool.AcquireTimeout,
		c.Batch.Denylist,
		c.Journal.Enabled, c.Audit.Enabled,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare integers are seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
