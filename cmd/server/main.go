package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/marketwire/internal/app"
	"github.com/vovakirdan/marketwire/internal/auth"
	"github.com/vovakirdan/marketwire/internal/config"
	applog "github.com/vovakirdan/marketwire/internal/log"
	"github.com/vovakirdan/marketwire/internal/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "marketwire",
		Short:         "Realtime presence, messaging and notifications for the marketplace",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().String("db", "", "SQLite database path")
	root.PersistentFlags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console, json)")

	root.AddCommand(newServeCmd(&configPath), newTokenCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger := applog.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting marketwire server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "HTTP listen address")
	flags.Duration("read-header-timeout", 0, "HTTP read header timeout")
	flags.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	flags.Duration("heartbeat-interval", 0, "WebSocket ping and sweep interval")
	flags.Duration("heartbeat-timeout", 0, "silence after which a connection is pruned")
	flags.Int("rate-limit-per-minute", 0, "inbound frames allowed per connection per minute")
	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an existing user (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt_secret is required")
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			token, err := auth.NewService(st, app.JWTConfig(&cfg)).IssueToken(context.Background(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to mint the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// loadConfig only lets flags the user actually set override lower layers.
func loadConfig(path string, flags *pflag.FlagSet) (config.Config, error) {
	set := pflag.NewFlagSet("set", pflag.ContinueOnError)
	flags.Visit(func(f *pflag.Flag) { set.AddFlag(f) })

	cfg, _, err := config.Load(applog.Nop(), path, set)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
