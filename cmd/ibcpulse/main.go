package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relayooor/ibcpulse/internal/migrate"
	"github.com/relayooor/ibcpulse/internal/server"
	"github.com/relayooor/ibcpulse/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ibcpulse",
		Short: "IBC relay monitoring and packet clearing service",
		Long: `ibcpulse ingests relay telemetry from a chainpulse exposition
feed, resolves counterparty channel topology on demand and runs the
paid clearing protocol for stuck IBC packets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func migrateCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse clearing history schema",
	}

	cmd.PersistentFlags().StringVar(
		&cfgPath, "config", "",
		"path to config file (required)",
	)

	if err := cmd.MarkPersistentFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	newMigrator := func() (migrate.Migrator, error) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warn("Loading .env file failed")
		}

		cfg, err := server.LoadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		if cfg.MigrateDSN == "" {
			return nil, fmt.Errorf("migrate_dsn is not set")
		}

		return migrate.New(logrus.New(), cfg.MigrateDSN), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			return m.Up()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			return m.Down()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			version, dirty, err := m.Status()
			if err != nil {
				return err
			}

			fmt.Printf("version: %d dirty: %v\n", version, dirty)

			return nil
		},
	})

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Signing keys and other secrets come from the environment; a
	// local .env file is honored when present.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Loading .env file failed")
	}

	cfg, err := server.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	s, err := server.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	log.Info("Starting ibcpulse")

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down ibcpulse")

	if err := s.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping server: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
