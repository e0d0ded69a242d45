// Package server wires the ibcpulse components together: metrics
// ingestion, channel resolution, the clearing engine, persistence and
// the API surface.
package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/api"
	"github.com/relayooor/ibcpulse/internal/auth"
	"github.com/relayooor/ibcpulse/internal/clearing"
	"github.com/relayooor/ibcpulse/internal/export"
	"github.com/relayooor/ibcpulse/internal/metrics"
	"github.com/relayooor/ibcpulse/internal/migrate"
	"github.com/relayooor/ibcpulse/internal/registry"
	"github.com/relayooor/ibcpulse/internal/resolver"
	"github.com/relayooor/ibcpulse/internal/store"
	"github.com/relayooor/ibcpulse/internal/version"
)

// Server is the top-level orchestrator for ibcpulse.
type Server interface {
	// Start initializes all components and begins serving.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type server struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.Health

	source   *metrics.Source
	registry *registry.Registry
	resolver *resolver.Resolver
	engine   *clearing.Engine
	writer   *store.Writer
	ops      *store.Operations
	api      *api.Server

	cancel context.CancelFunc
}

// New creates a Server from configuration.
func New(log logrus.FieldLogger, cfg *Config) (Server, error) {
	health := export.NewHealth(log, cfg.Health)

	reg := registry.New(log, cfg.Registry)
	source := metrics.NewSource(log, cfg.Metrics, health)

	res := resolver.New(
		log, cfg.Resolver,
		resolver.NewStateClient(log, cfg.Resolver.LookupTimeout),
		reg, health,
	)

	clearingKey := os.Getenv("CLEARING_SIGNING_KEY")
	if clearingKey == "" {
		return nil, fmt.Errorf("CLEARING_SIGNING_KEY is not set")
	}

	sessionKey := os.Getenv("SESSION_SIGNING_KEY")
	if sessionKey == "" {
		return nil, fmt.Errorf("SESSION_SIGNING_KEY is not set")
	}

	sessions, err := auth.NewSessions([]byte(sessionKey), 0)
	if err != nil {
		return nil, fmt.Errorf("creating sessions: %w", err)
	}

	s := &server{
		log:      log.WithField("component", "server"),
		cfg:      cfg,
		health:   health,
		source:   source,
		registry: reg,
		resolver: res,
	}

	var (
		recorder clearing.Recorder
		stats    api.StatisticsStore
	)

	if cfg.Store.Enabled {
		s.writer = store.NewWriter(log, cfg.Store)

		ops, err := store.NewOperations(log, s.writer, health)
		if err != nil {
			return nil, fmt.Errorf("creating operation store: %w", err)
		}

		s.ops = ops
		recorder = ops
		stats = ops
	}

	engine, err := clearing.NewEngine(
		log,
		cfg.Clearing,
		[]byte(clearingKey),
		clearing.NewLCDPaymentChecker(log, cfg.Payments, reg),
		clearing.NewHTTPExecutor(log, cfg.Executor),
		recorder,
		health,
	)
	if err != nil {
		return nil, fmt.Errorf("creating clearing engine: %w", err)
	}

	s.engine = engine
	s.api = api.NewServer(log, cfg.API, source, res, engine, sessions, stats, health)

	return s, nil
}

func (s *server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.log.WithField("version", version.Full()).Info("Starting ibcpulse")

	if err := s.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	s.log.Info("Health metrics server started")

	if s.writer != nil {
		if err := migrate.New(s.log, s.cfg.MigrateDSN).Up(); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}

		if err := s.writer.Start(ctx); err != nil {
			return fmt.Errorf("starting ClickHouse writer: %w", err)
		}
	}

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics source: %w", err)
	}

	s.log.WithField("endpoint", s.cfg.Metrics.Endpoint).
		Info("Metrics ingestion started")

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	s.log.Info("Server fully started")

	return nil
}

func (s *server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	// Stop in reverse order.
	if s.api != nil {
		if err := s.api.Stop(); err != nil {
			s.log.WithError(err).Error("Error stopping API server")
		}
	}

	if s.source != nil {
		if err := s.source.Stop(); err != nil {
			s.log.WithError(err).Error("Error stopping metrics source")
		}
	}

	if s.ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.ops.Stop(ctx); err != nil {
			s.log.WithError(err).Error("Error stopping operation store")
		}
	}

	if s.writer != nil {
		if err := s.writer.Stop(); err != nil {
			s.log.WithError(err).Error("Error stopping ClickHouse writer")
		}
	}

	if s.health != nil {
		if err := s.health.Stop(); err != nil {
			s.log.WithError(err).Error("Error stopping health metrics server")
		}
	}

	return nil
}
