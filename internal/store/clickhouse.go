// Package store persists terminal clearing operations to ClickHouse
// and serves the wallet and platform statistics built from them.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// Config configures the ClickHouse connection and write batching.
type Config struct {
	// Enabled toggles operation history persistence.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// BatchSize is the number of rows per batch insert. Defaults to 64.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time a row waits before being
	// flushed. Defaults to 2s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// MaxQueueSize bounds rows queued ahead of the flush workers.
	// Defaults to 4096.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent flush workers. Defaults to 1
	// so rows land in arrival order.
	Workers int `yaml:"workers"`
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 4096
	}

	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("store endpoint is required when enabled")
	}

	if c.Database == "" {
		return fmt.Errorf("store database is required when enabled")
	}

	return nil
}

// Writer owns the ClickHouse connection.
type Writer struct {
	log  logrus.FieldLogger
	cfg  Config
	conn clickhouse.Conn
}

// NewWriter creates a ClickHouse writer.
func NewWriter(log logrus.FieldLogger, cfg Config) *Writer {
	cfg.applyDefaults()

	return &Writer{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg,
	}
}

// Start opens and pings the connection.
func (w *Writer) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// Conn returns the underlying connection.
func (w *Writer) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the writer configuration.
func (w *Writer) Config() Config {
	return w.cfg
}

// Stop closes the connection.
func (w *Writer) Stop() error {
	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}
