package frontend

import (
	"errors"
	"fmt"
	"os"
)

// ErrDocRootNotDirectory is returned when the configured document root is not a directory
var ErrDocRootNotDirectory = errors.New("frontend docRoot is not a directory")

// Config represents dashboard configuration
type Config struct {
	// DocRoot serves the dashboard from disk instead of the embedded build.
	DocRoot string `yaml:"docRoot"`
}

// Validate validates the frontend configuration
func (c *Config) Validate() error {
	if c.DocRoot == "" {
		return nil
	}

	info, err := os.Stat(c.DocRoot)
	if err != nil {
		return fmt.Errorf("invalid frontend docRoot: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDocRootNotDirectory, c.DocRoot)
	}

	return nil
}
