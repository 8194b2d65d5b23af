// Package cli holds the startup code shared by the socket and webhook
// binaries: flag parsing, configuration, logging and wiring of the handler.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/walkure/duckdb-acp-slack/handler"
	"github.com/walkure/duckdb-acp-slack/pkg/config"
	"github.com/walkure/duckdb-acp-slack/pkg/logger"
	"github.com/walkure/duckdb-acp-slack/pkg/query"
	"github.com/walkure/duckdb-acp-slack/pkg/query/duckdb"
	"github.com/walkure/duckdb-acp-slack/pkg/telemetry"
)

// Exit codes.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // Runtime failure
	ExitConfigError = 2 // Missing tokens, missing database or init SQL files
)

const serviceName = "duckdb-acp-slack"

// ConfigError marks failures that happen before any event is handled.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Runtime is everything a transport needs to start serving.
type Runtime struct {
	Config  config.Config
	Log     *slog.Logger
	API     *slack.Client
	Handler *handler.Handler

	shutdown func(context.Context) error
}

func (rt *Runtime) Close(ctx context.Context) error {
	if rt.shutdown == nil {
		return nil
	}
	return rt.shutdown(ctx)
}

type RunFunc func(ctx context.Context, rt *Runtime) error

// NewCommand builds the root command of a transport binary.
func NewCommand(use, short, long, version string, mode config.Mode, run RunFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(config.DotEnvFiles...); err != nil {
				return &ConfigError{Err: err}
			}
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return &ConfigError{Err: err}
			}
			cfg, err := config.Load(v, mode)
			if err != nil {
				return &ConfigError{Err: err}
			}

			ctx := cmd.Context()
			rt, err := Bootstrap(ctx, cfg, version, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					rt.Log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
				}
			}()

			err = run(ctx, rt)
			if errors.Is(err, context.Canceled) {
				rt.Log.Info("shutting down")
				return nil
			}
			return err
		},
	}
	config.RegisterFlags(cmd.Flags(), mode)
	return cmd
}

// Execute runs cmd and maps its error to an exit code.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return ExitConfigError
		}
		return ExitError
	}
	return ExitSuccess
}

// Bootstrap wires logging, telemetry, the Slack client, the query executor
// and the event handler from cfg.
func Bootstrap(ctx context.Context, cfg config.Config, version string, out io.Writer) (*Runtime, error) {
	log := logger.New(out, cfg.LogLevel)
	slog.SetDefault(log)

	shutdown, err := telemetry.Init(ctx, serviceName, version)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	var opts []slack.Option
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	if cfg.Debug {
		opts = append(opts, slack.OptionDebug(true), slack.OptionLog(logger.StdLogger(log, "api")))
	}
	api := slack.New(cfg.BotToken, opts...)

	exec := query.New(query.Settings{
		Databases: cfg.Databases,
		InitSQL:   cfg.InitSQL,
	}, duckdb.Dial(), log, query.WithMetrics(metrics))

	logBanner(log, cfg, version)

	return &Runtime{
		Config:   cfg,
		Log:      log,
		API:      api,
		Handler:  handler.New(api, exec, log, metrics),
		shutdown: shutdown,
	}, nil
}

func logBanner(log *slog.Logger, cfg config.Config, version string) {
	log.Info(serviceName, slog.String("version", version))
	for _, db := range cfg.Databases {
		log.Info("database attached", slog.String("name", db.Name), slog.String("path", db.Path))
	}
	if cfg.InitSQLPath != "" {
		log.Info("init SQL", slog.String("path", cfg.InitSQLPath))
	}
}
