package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/memflow/config"
)

// NewFromConfig builds a migrator from the application configuration.
func NewFromConfig(cfg *appconfig.Config) (*Migrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewFromDatabaseConfig(cfg.Database)
}

// NewFromDatabaseConfig builds a migrator from the database section alone.
func NewFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*Migrator, error) {
	return New(dbCfg.URL())
}
