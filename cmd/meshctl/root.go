package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/campusmesh/internal/config"
	"github.com/vovakirdan/campusmesh/internal/log"
)

type rootFlags struct {
	configPath string
	logLevel   string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "Campus mesh client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config.yaml (created with defaults if missing)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&flags.overrides.Client.RelayURL, "relay", "", "relay WebSocket URL")
	pf.StringVar(&flags.overrides.Client.UserID, "user", "", "user id announced to the relay and peers")
	pf.StringVar(&flags.overrides.Client.Name, "name", "", "display name")
	pf.StringVar(&flags.overrides.Client.Token, "token", "", "identity token issued by the relay")

	root.AddCommand(newJoinCmd(flags), newPresenceCmd(flags))
	return root
}

// load resolves configuration and a logger that writes to stderr, leaving
// stdout to the prompt.
func (f *rootFlags) load() (config.Config, *zerolog.Logger, error) {
	cfg, _, err := config.Load(nil, f.configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(f.overrides)
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logger := log.NewWithWriter(cfg.LogLevel, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if cfg.Client.UserID == "" {
		cfg.Client.UserID = uuid.NewString()
		logger.Warn().Str("user_id", cfg.Client.UserID).Msg("no user id configured, using a random one")
	}
	if cfg.Client.Name == "" {
		cfg.Client.Name = cfg.Client.UserID
	}
	return cfg, logger, nil
}
