// Package engine wires the simulation service together from configuration
package engine

import (
	"fmt"

	"github.com/ethpandaops/kpisim/pkg/aggregation"
	"github.com/ethpandaops/kpisim/pkg/api"
	"github.com/ethpandaops/kpisim/pkg/records"
	"github.com/ethpandaops/kpisim/pkg/redis"
	"github.com/ethpandaops/kpisim/pkg/server"
	"github.com/ethpandaops/kpisim/pkg/simulation"
	"github.com/ethpandaops/kpisim/pkg/storage"
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Input and storage
	Records records.Config `yaml:"records"`
	Storage storage.Config `yaml:"storage"`

	// Simulation and KPI schedule
	Simulation simulation.Config  `yaml:"simulation"`
	KPI        aggregation.Config `yaml:"kpi"`

	// Outer surfaces
	Server server.Config `yaml:"server"`
	API    api.Config    `yaml:"api"`
	Redis  redis.Config  `yaml:"redis"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validators := []struct {
		name     string
		validate func() error
	}{
		{"records", c.Records.Validate},
		{"storage", c.Storage.Validate},
		{"simulation", c.Simulation.Validate},
		{"kpi", c.KPI.Validate},
		{"server", c.Server.Validate},
		{"api", c.API.Validate},
		{"redis", c.Redis.Validate},
	}

	for _, v := range validators {
		if err := v.validate(); err != nil {
			return fmt.Errorf("invalid %s configuration: %w", v.name, err)
		}
	}

	return nil
}
