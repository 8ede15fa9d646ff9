// Package server provides the dashboard and websocket HTTP server
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/kpisim/pkg/frontend"
)

// Define static errors
var (
	ErrAddrRequired        = errors.New("server addr is required")
	ErrInvalidWSPath       = errors.New("server wsPath must start with /")
	ErrInvalidCommandRate  = errors.New("server commandRate must be positive")
	ErrInvalidCommandBurst = errors.New("server commandBurst must be positive")
)

// Config holds server configuration
type Config struct {
	// Addr is the address to listen on for the dashboard and websocket.
	Addr string `yaml:"addr" default:":8080"`
	// WSPath is the websocket endpoint path.
	WSPath string `yaml:"wsPath" default:"/wsapi"`
	// Frontend configures the dashboard assets.
	Frontend frontend.Config `yaml:",inline"`
	// CommandRate is the sustained commands per second accepted per connection.
	CommandRate float64 `yaml:"commandRate" default:"10"`
	// CommandBurst is the number of commands a connection may send at once.
	CommandBurst int `yaml:"commandBurst" default:"20"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrAddrRequired
	}

	if !strings.HasPrefix(c.WSPath, "/") {
		return ErrInvalidWSPath
	}

	if c.CommandRate <= 0 {
		return ErrInvalidCommandRate
	}

	if c.CommandBurst <= 0 {
		return ErrInvalidCommandBurst
	}

	if err := c.Frontend.Validate(); err != nil {
		return fmt.Errorf("invalid frontend configuration: %w", err)
	}

	return nil
}
