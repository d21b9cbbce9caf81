// Package config provides unified configuration loading for MemFlow.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    WithEnvPrefix("MEMFLOW").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete MemFlow configuration.
type Config struct {
	// Server holds the operational endpoints (metrics, health).
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database configures the authoritative PostgreSQL store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis configures the read-through cache layer.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Neo4j configures the best-effort graph projection.
	Neo4j Neo4jConfig `yaml:"neo4j" env:"NEO4J"`

	// Memory tunes orchestration behaviour (timeouts, cache TTLs).
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Reflection tunes the lesson/effectiveness lifecycle.
	Reflection ReflectionConfig `yaml:"reflection" env:"REFLECTION"`

	// Jobs schedules the background maintenance loops.
	Jobs JobsConfig `yaml:"jobs" env:"JOBS"`

	// Log configures zap.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds operational endpoints.
type ServerConfig struct {
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL returns the migrate-compatible database URL.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig configures the cache backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// Neo4jConfig configures the graph backend.
type Neo4jConfig struct {
	URI      string `yaml:"uri" env:"URI"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Database string `yaml:"database" env:"DATABASE"`
}

// MemoryConfig tunes the composite orchestrator.
type MemoryConfig struct {
	// PrimaryTimeout bounds calls to the authoritative store. Timeouts
	// here always surface to the caller.
	PrimaryTimeout time.Duration `yaml:"primary_timeout" env:"PRIMARY_TIMEOUT"`
	// GraphTimeout bounds calls to the graph projection; on expiry the
	// backend is treated as unavailable.
	GraphTimeout time.Duration `yaml:"graph_timeout" env:"GRAPH_TIMEOUT"`
	// CacheTimeout bounds cache round trips.
	CacheTimeout time.Duration `yaml:"cache_timeout" env:"CACHE_TIMEOUT"`
	// SearchCacheTTL is how long a search result set stays cached.
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl" env:"SEARCH_CACHE_TTL"`
	// EmbeddingDim is the fixed dimensionality of semantic embeddings.
	EmbeddingDim int `yaml:"embedding_dim" env:"EMBEDDING_DIM"`
	// DefaultImportance is the initial importance score for new packets.
	DefaultImportance float64 `yaml:"default_importance" env:"DEFAULT_IMPORTANCE"`
}

// ReflectionConfig tunes the effectiveness lifecycle.
type ReflectionConfig struct {
	// MinEffectiveness is the retrieval floor for proven reflections.
	MinEffectiveness float64 `yaml:"min_effectiveness" env:"MIN_EFFECTIVENESS"`
	// MinApplications is the reliability floor; fewer applications are
	// statistically unreliable.
	MinApplications int `yaml:"min_applications" env:"MIN_APPLICATIONS"`
	// DecayFactor is subtracted from confidence on contradiction.
	DecayFactor float64 `yaml:"decay_factor" env:"DECAY_FACTOR"`
	// RecencyHalfLife is the half-life of the recency component of the
	// combined ranking score.
	RecencyHalfLife time.Duration `yaml:"recency_half_life" env:"RECENCY_HALF_LIFE"`
	// ConflictRetries bounds internal retries on optimistic-version
	// mismatch before the conflict surfaces.
	ConflictRetries int `yaml:"conflict_retries" env:"CONFLICT_RETRIES"`
}

// JobsConfig schedules background maintenance.
type JobsConfig struct {
	// TTLSweepInterval is how often expired packets/reflections are removed.
	TTLSweepInterval time.Duration `yaml:"ttl_sweep_interval" env:"TTL_SWEEP_INTERVAL"`
	// SnapshotInterval is how often the top-effective reflection snapshot
	// is recomputed. Callers tolerate staleness up to this interval.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
	// ImportanceDecayInterval is how often packet importance decays.
	ImportanceDecayInterval time.Duration `yaml:"importance_decay_interval" env:"IMPORTANCE_DECAY_INTERVAL"`
	// ImportanceDecayFactor multiplies the importance of idle packets.
	ImportanceDecayFactor float64 `yaml:"importance_decay_factor" env:"IMPORTANCE_DECAY_FACTOR"`
	// ImportanceIdleWindow is how long a packet must go unaccessed before
	// its importance decays.
	ImportanceIdleWindow time.Duration `yaml:"importance_idle_window" env:"IMPORTANCE_IDLE_WINDOW"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
// Precedence: defaults → YAML file → environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string, not an integer.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the loaded configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Memory.EmbeddingDim <= 0 {
		errs = append(errs, "embedding_dim must be positive")
	}
	if c.Reflection.MinEffectiveness < 0 || c.Reflection.MinEffectiveness > 1 {
		errs = append(errs, "min_effectiveness must be between 0 and 1")
	}
	if c.Reflection.DecayFactor <= 0 || c.Reflection.DecayFactor >= 1 {
		errs = append(errs, "decay_factor must be between 0 and 1")
	}
	if c.Jobs.ImportanceDecayFactor <= 0 || c.Jobs.ImportanceDecayFactor > 1 {
		errs = append(errs, "importance_decay_factor must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
