// Package config resolves per-project database paths and loads the
// optional YAML settings file (C1/§6), mirroring the teacher's
// DefaultDBPath/hashString convention and its LLMProviderConfig-style
// nested settings shape.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names the storage adapter to open.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// EmbedderConfig configures the embedding provider used by the memory
// component. HTTPTimeout defaults to 30s when zero.
type EmbedderConfig struct {
	Provider    string        `yaml:"provider"` // "local", "openai", ""  (empty disables embedding, FTS-only)
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// TracingConfig selects the OTel span exporter, mirroring the teacher's
// otel.Config shape (minus its metrics-specific fields, since this
// module's tracing surface is spans only).
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", "none"/""
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the coordination kernel's top-level settings, loaded from an
// optional YAML file and overridden by environment variables.
type Config struct {
	HomeDir string `yaml:"-"`

	Backend            Backend       `yaml:"backend"`
	SQLiteBaseDir      string        `yaml:"sqlite_base_dir"`
	PostgresDSN        string        `yaml:"postgres_dsn"`
	LegacyMemoryDBPath string        `yaml:"legacy_memory_db_path"`
	StreamPollInterval time.Duration `yaml:"stream_poll_interval"`
	LogLevel           string        `yaml:"log_level"`

	Embedder EmbedderConfig `yaml:"embedder"`
	Tracing  TracingConfig  `yaml:"tracing"`

	// SocketAddr is populated exclusively from COORDKERNEL_SOCKET_ADDR;
	// there is no YAML key for it. coordkerneld uses it as its HTTP listen
	// address. It does not change how storage is opened: the SQLite
	// backend always uses the embedded in-process driver, and no
	// socket-server connection path exists.
	SocketAddr string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		Backend:            BackendSQLite,
		StreamPollInterval: 100 * time.Millisecond,
		LogLevel:           "info",
	}
}

// HomeDir returns the coordination kernel's data directory, honoring
// COORDKERNEL_HOME the way the teacher honors GOCLAW_HOME.
func HomeDir() string {
	if override := os.Getenv("COORDKERNEL_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".coordkernel")
}

// Load reads an optional YAML file at path (empty uses
// filepath.Join(HomeDir(), "config.yaml")) and applies environment
// overrides on top. A missing file is not an error: Load returns
// defaults plus whatever the environment supplies.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()
	if path == "" {
		path = filepath.Join(cfg.HomeDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return &cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	if cfg.SQLiteBaseDir == "" {
		cfg.SQLiteBaseDir = filepath.Join(cfg.HomeDir, "projects")
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = 100 * time.Millisecond
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Embedder.HTTPTimeout <= 0 {
		cfg.Embedder.HTTPTimeout = 30 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("COORDKERNEL_BACKEND"); raw != "" {
		cfg.Backend = Backend(raw)
	}
	if raw := os.Getenv("COORDKERNEL_POSTGRES_DSN"); raw != "" {
		cfg.PostgresDSN = raw
	}
	if raw := os.Getenv("COORDKERNEL_SQLITE_BASE_DIR"); raw != "" {
		cfg.SQLiteBaseDir = raw
	}
	if raw := os.Getenv("COORDKERNEL_LEGACY_MEMORY_DB_PATH"); raw != "" {
		cfg.LegacyMemoryDBPath = raw
	}
	if raw := os.Getenv("COORDKERNEL_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("COORDKERNEL_STREAM_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.StreamPollInterval = time.Duration(v) * time.Millisecond
		}
	}
	if raw := os.Getenv("COORDKERNEL_OTEL_EXPORTER"); raw != "" {
		cfg.Tracing.Exporter = raw
	}
	// The daemon's listen address; storage selection ignores it.
	cfg.SocketAddr = os.Getenv("COORDKERNEL_SOCKET_ADDR")
}

// DBPath derives a per-project SQLite database path from the project's
// absolute path, the way the teacher derives cache keys from
// hashString: same input always hashes to the same file, distinct
// projects never collide short of a 64-bit hash collision.
func (c *Config) DBPath(projectAbsPath string) string {
	return filepath.Join(c.SQLiteBaseDir, fnvHash(projectAbsPath)+".db")
}

func fnvHash(input string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input))
	return strconv.FormatUint(h.Sum64(), 16)
}

// EmbedderAPIKey resolves the embedder's API key from its configured
// env var, mirroring the teacher's LLMProviderAPIKey env-first lookup.
func (c *Config) EmbedderAPIKey() string {
	if c.Embedder.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedder.APIKeyEnv)
}
