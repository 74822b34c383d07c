// Package main provides the storefront binary: the pledge HTTP API, the
// payment update consumer and the database migration.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeffsasaki/pledge-storefront/config"
	"github.com/jeffsasaki/pledge-storefront/store"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "storefront"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Crowdfunding pledge storefront",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default ./"+config.ConfigFile+")")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the storefront API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath, newLogger(os.Stdout, logLevel))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the orders table and change trigger in the live database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath, newLogger(os.Stdout, logLevel))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

func serve(ctx context.Context, configPath string, logger *slog.Logger) error {
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.serve(ctx)
}

func migrate(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Store.LiveConfigured() {
		return fmt.Errorf("store.dsn or %s is required to migrate", config.EnvDSN)
	}

	db, err := store.OpenPostgres(ctx, cfg.Store.DSN, cfg.Store.ConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.NewPostgresBackend(db, cfg.Store.DSN).Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Orders schema is up to date")
	return nil
}
