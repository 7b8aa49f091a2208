package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/campusmesh/internal/app"
	"github.com/vovakirdan/campusmesh/internal/auth"
	"github.com/vovakirdan/campusmesh/internal/config"
	"github.com/vovakirdan/campusmesh/internal/log"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Campus mesh signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (created with defaults if missing)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newServeCmd(flags), newTokenCmd(flags))
	return root
}

func (f *rootFlags) load() (config.Config, error) {
	bootstrap := log.New("info")
	cfg, path, err := config.Load(bootstrap, f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	bootstrap.Debug().Str("path", path).Msg("config loaded")
	return cfg, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var overrides config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init relay: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("addr", cfg.Addr).Msg("starting campusmesh relay")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("relay exited: %w", err)
			}
			logger.Info().Msg("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	cmd.Flags().IntVar(&overrides.EventBuffer, "event-buffer", 0, "per-endpoint outbound queue length")
	cmd.Flags().StringVar(&overrides.JWTSecret, "jwt-secret", "", "HMAC secret for identity tokens")
	cmd.Flags().BoolVar(&overrides.JWTRequired, "jwt-required", false, "reject registrations without a valid token")
	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(app.JWTConfig(cfg), userID, name)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to embed")
	cmd.Flags().StringVar(&name, "name", "", "display name to embed")
	return cmd
}

