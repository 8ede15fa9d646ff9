// Package redis mirrors broadcasts to Redis and keeps KPI history there.
package redis

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Define static errors
var (
	ErrURLRequired         = errors.New("redis url is required")
	ErrInvalidHistorySize  = errors.New("redis historySize must be positive")
	ErrInvalidWriteTimeout = errors.New("redis writeTimeout must be positive")
)

// Config holds Redis relay configuration. The relay is disabled when URL is empty.
type Config struct {
	URL          string        `yaml:"url"`
	Prefix       string        `yaml:"prefix" default:"kpisim"`
	HistorySize  int64         `yaml:"historySize" default:"512"`
	WriteTimeout time.Duration `yaml:"writeTimeout" default:"2s"`
}

// Enabled reports whether a Redis URL is configured.
func (c *Config) Enabled() bool {
	return c.URL != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if _, err := redis.ParseURL(c.URL); err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}

	if c.HistorySize <= 0 {
		return ErrInvalidHistorySize
	}

	if c.WriteTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}

	return nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	if c.Prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", c.Prefix, key)
}

// New creates a Redis client from the configuration.
func New(c *Config) (*redis.Client, error) {
	if !c.Enabled() {
		return nil, ErrURLRequired
	}

	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return redis.NewClient(opts), nil
}
