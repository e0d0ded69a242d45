package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relayooor/ibcpulse/internal/api"
	"github.com/relayooor/ibcpulse/internal/clearing"
	"github.com/relayooor/ibcpulse/internal/export"
	"github.com/relayooor/ibcpulse/internal/metrics"
	"github.com/relayooor/ibcpulse/internal/registry"
	"github.com/relayooor/ibcpulse/internal/resolver"
	"github.com/relayooor/ibcpulse/internal/store"
)

// Config is the top-level configuration for the ibcpulse server.
// Signing keys are not part of the file; they come from the
// CLEARING_SIGNING_KEY and SESSION_SIGNING_KEY environment variables.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Metrics configures the chainpulse exposition feed ingestion.
	Metrics metrics.SourceConfig `yaml:"metrics"`

	// Registry maps chain ids to their REST endpoints.
	Registry registry.Config `yaml:"registry"`

	// Resolver configures counterparty channel resolution.
	Resolver resolver.Config `yaml:"resolver"`

	// Clearing configures the paid clearing protocol.
	Clearing clearing.Config `yaml:"clearing"`

	// Payments configures on-chain payment lookups.
	Payments clearing.LCDConfig `yaml:"payments"`

	// Executor configures the relayer control endpoint clearing work
	// is dispatched to.
	Executor clearing.ExecutorConfig `yaml:"executor"`

	// Store configures the clearing operation history in ClickHouse.
	Store store.Config `yaml:"store"`

	// MigrateDSN is the ClickHouse connection string used for schema
	// migrations, e.g. "clickhouse://host:9000/database". Required when
	// the store is enabled.
	MigrateDSN string `yaml:"migrate_dsn"`

	// API configures the HTTP and websocket surface.
	API api.Config `yaml:"api"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API: api.Config{
			Addr: ":8080",
		},
		Health: export.HealthConfig{
			Addr: ":9091",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and
// consistency.
func (c *Config) Validate() error {
	if c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics.endpoint is required")
	}

	if len(c.Registry.Endpoints) == 0 {
		return fmt.Errorf("registry.endpoints must name at least one chain")
	}

	if c.Clearing.PaymentAddress == "" {
		return fmt.Errorf("clearing.payment_address is required")
	}

	if c.Executor.Endpoint == "" {
		return fmt.Errorf("executor.endpoint is required")
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.Store.Enabled && c.MigrateDSN == "" {
		return fmt.Errorf("migrate_dsn is required when the store is enabled")
	}

	return nil
}
