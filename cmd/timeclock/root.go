package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"timeclock/internal/platform/config"
	"timeclock/internal/platform/logger"
	"timeclock/internal/timeclock/client"
)

type rootOptions struct {
	baseURL    string
	token      string
	apprentice string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "timeclock",
		Short: "Apprentice timeclock with geofenced clock-in and presence heartbeats",
		Long: `timeclock runs an attendance session for one apprentice against a
timeclock server. Configuration comes from TIMECLOCK_* environment variables;
flags override them.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "timeclock server URL (TIMECLOCK_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (TIMECLOCK_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.apprentice, "apprentice", "", "apprentice id (TIMECLOCK_APPRENTICE_ID)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (TIMECLOCK_LOG_LEVEL)")

	cmd.AddCommand(newContextCmd(opts))
	cmd.AddCommand(newSessionCmd(opts))
	return cmd
}

// load merges flags over the environment configuration.
func (o *rootOptions) load() (config.Client, error) {
	cfg, err := config.ClientFromEnv()
	if err != nil {
		return config.Client{}, err
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	if o.apprentice != "" {
		cfg.ApprenticeID = o.apprentice
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if cfg.ApprenticeID == "" {
		return config.Client{}, fmt.Errorf("apprentice id is required (--apprentice or TIMECLOCK_APPRENTICE_ID)")
	}
	return cfg, nil
}

func (o *rootOptions) client(cmd *cobra.Command, cfg config.Client, log *slog.Logger) (*client.Client, error) {
	ts, err := client.TokenSource(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.BaseURL, client.WithTokenSource(ts), client.WithLogger(log))
}

func newLogger(cmd *cobra.Command, level string) *slog.Logger {
	if level == "" {
		level = "warn"
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), "timeclock-cli", level)
}
