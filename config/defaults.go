package config

import "time"

// DefaultConfig returns the full default configuration. Every value here can
// be overridden by YAML or environment variables; nothing operational is
// hard-coded elsewhere.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsPort:     9090,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "memflow",
			Password:        "",
			Name:            "memflow",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "memflow:",
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		Memory: MemoryConfig{
			PrimaryTimeout:    10 * time.Second,
			GraphTimeout:      5 * time.Second,
			CacheTimeout:      2 * time.Second,
			SearchCacheTTL:    5 * time.Minute,
			EmbeddingDim:      1536,
			DefaultImportance: 0.1,
		},
		Reflection: ReflectionConfig{
			MinEffectiveness: 0.6,
			MinApplications:  3,
			DecayFactor:      0.1,
			RecencyHalfLife:  30 * 24 * time.Hour,
			ConflictRetries:  3,
		},
		Jobs: JobsConfig{
			TTLSweepInterval:        5 * time.Minute,
			SnapshotInterval:        time.Hour,
			ImportanceDecayInterval: 6 * time.Hour,
			ImportanceDecayFactor:   0.9,
			ImportanceIdleWindow:    72 * time.Hour,
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "memflow",
			SampleRate:   1.0,
		},
	}
}
