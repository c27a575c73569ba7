package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ldi/stageflow/internal/config"
	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/logging"
	"github.com/ldi/stageflow/internal/metrics"
	"github.com/ldi/stageflow/internal/service"
)

// version is set at build time via ldflags.
var version = "dev" //nolint:gochecknoglobals // Set by the linker

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// app holds what PersistentPreRunE resolves for the subcommands.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	logFile    string
	output     string
	user       string
	addr       string

	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{closer: io.NopCloser(nil)}

	cmd := &cobra.Command{
		Use:   "stageflow",
		Short: "Workflow pipelines with status derived from each task's stage",
		Long: `stageflow tracks tasks through ordered workflow stages. A task's status
(PENDING, IN_PROGRESS, ON_HOLD, CANCELLED, COMPLETED) is never stored; it is
computed from the stage the task occupies.`,
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.closer.Close()
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.ProjectConfigPath(), "path to the config file")
	flags.StringVar(&a.dbPath, "db-path", "", "path to the database file (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (overrides config)")
	flags.StringVar(&a.logFile, "log-file", "", "log file, or \"-\" for console only (overrides config)")
	flags.StringVarP(&a.output, "output", "o", OutputText, "output format (text|json)")
	flags.StringVar(&a.user, "user", "", "username to act as (defaults to the system identity)")

	cmd.AddCommand(
		newInitCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newSeedCmd(a),
		newTasksCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.output != OutputText && a.output != OutputJSON {
		return fmt.Errorf("output %q must be one of %s, %s", a.output, OutputText, OutputJSON)
	}

	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DB.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	switch a.logFile {
	case "":
	case "-":
		cfg.Log.File = ""
	default:
		cfg.Log.File = a.logFile
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	a.logger = logger
	a.closer = closer
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

// openDB opens and migrates the configured database.
func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(a.cfg.DB.Path, db.WithPageSize(a.cfg.Query.DefaultPageSize, a.cfg.Query.MaxPageSize))
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	if a.cfg.Snapshot.Auto {
		database.EnableAutoSnapshot(a.cfg.Snapshot.Path, func(err error) {
			a.logger.Warn().Err(err).Str("path", a.cfg.Snapshot.Path).Msg("snapshot export failed")
		})
	}
	return database, nil
}

// openService opens the database and wraps it in a service. Extra options
// are applied after the defaults.
func (a *app) openService(ctx context.Context, opts ...service.Option) (*service.Service, *db.DB, error) {
	database, err := a.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]service.Option{
		service.WithLogger(a.logger),
		service.WithMetrics(metrics.NoopMetrics{}),
	}, opts...)
	return service.New(database, opts...), database, nil
}

// principal resolves --user, or the system identity when it is unset.
func (a *app) principal(ctx context.Context, svc *service.Service) (*identity.Principal, error) {
	if a.user == "" {
		return identity.System, nil
	}
	u, err := svc.GetUserByUsername(ctx, a.user)
	if err != nil {
		return nil, err
	}
	return identity.Resolve(ctx, svc, u.ID)
}

// actingContext returns ctx carrying the resolved principal.
func (a *app) actingContext(ctx context.Context, svc *service.Service) (context.Context, error) {
	p, err := a.principal(ctx, svc)
	if err != nil {
		return nil, err
	}
	return identity.WithPrincipal(ctx, p), nil
}
