// Package storage provides the PostgreSQL connection pool, replay sessions and
// the series reader used by aggregation.
package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDSNRequired is returned when no connection string is configured
	ErrDSNRequired = errors.New("storage dsn is required")
	// ErrInvalidPoolSize is returned for a non-positive pool size
	ErrInvalidPoolSize = errors.New("storage maxOpenConns must be positive")
	// ErrSchemaRequired is returned when no schema is configured
	ErrSchemaRequired = errors.New("storage schema is required")
)

// Config holds storage configuration
type Config struct {
	DSN string `yaml:"dsn"`
	// MaxOpenConns is the hard ceiling of the replay pool.
	MaxOpenConns    int           `yaml:"maxOpenConns" default:"10"`
	MaxIdleConns    int           `yaml:"maxIdleConns" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" default:"30m"`
	// AcquireTimeout bounds the wait for a pooled connection.
	AcquireTimeout    time.Duration `yaml:"acquireTimeout" default:"5s"`
	QueryTimeout      time.Duration `yaml:"queryTimeout" default:"30s"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" default:"30s"`
	Schema            string        `yaml:"schema" default:"kpisim"`
	// Migrate applies the bundled schema on startup.
	Migrate bool `yaml:"migrate" default:"false"`
	// Statements overrides bundled statement templates by identifier.
	Statements map[string]string `yaml:"statements"`
}

// Validate validates the storage configuration
func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}

	if c.MaxOpenConns <= 0 {
		return ErrInvalidPoolSize
	}

	if c.Schema == "" {
		return ErrSchemaRequired
	}

	for id := range c.Statements {
		if _, ok := defaultStatements[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStatement, id)
		}
	}

	return nil
}
