// Command grelay moves zip files between this host and SFTP servers: it
// downloads and uploads against the configured CTS server, relays single
// files between two servers and serves the same workflows over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/franksops/gorelay/archive"
	"github.com/franksops/gorelay/config"
	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/orchestrator"
	"github.com/franksops/gorelay/store"
	"github.com/franksops/gorelay/ui"
)

// errRunFailed is returned by commands whose run report was unsuccessful.
// The cause has already been printed.
var errRunFailed = errors.New("run failed")

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	tui        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "grelay",
		Short: "Managed SFTP file relay",
		Long: `grelay downloads zip files from the CTS SFTP server, uploads local zips to it
routed by country prefix, and relays single files between two SFTP servers.

Configuration comes from grelay.yaml (., ./config or /etc/grelay), a .env file
and GRELAY_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: search grelay.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format override (text, json)")
	root.PersistentFlags().BoolVar(&opts.tui, "tui", false, "show a live progress view for transfer commands")

	root.AddCommand(
		newServeCmd(opts),
		newDownloadCmd(opts),
		newUploadCmd(opts),
		newUploadFileCmd(opts),
		newRelayCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

// app holds the wired components for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	jobs     store.Store
	archiver archive.Archiver
	orch     *orchestrator.Orchestrator
	observer *ui.StateObserver
}

func loadConfig(opts *rootOptions) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// Logs go to stderr so reports and the progress view own stdout.
	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.State.DBPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return store.NewBoltStore(cfg.State.DBPath)
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	jobs, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	var tracker *engine.JobTracker
	if jobs != nil {
		tracker = engine.NewJobTracker(jobs, engine.DefaultCheckpointConfig)
	}

	exec := engine.NewExecutor(engine.NewBufferPool(cfg.Transfer.BufferSize), tracker, logger)

	archiver, err := archive.New(ctx, cfg.Local.SentPath, cfg.Archive.S3URI, exec, logger)
	if err != nil {
		closeStore(jobs, logger)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, jobs: jobs, archiver: archiver}
	var orchOpts []orchestrator.Option
	if opts.tui {
		a.observer = ui.NewStateObserver()
		orchOpts = append(orchOpts, orchestrator.WithObserver(a.observer))
	}
	a.orch = orchestrator.New(cfg, orchestrator.NewTransportDialer(logger), exec, archiver, logger, orchOpts...)
	return a, nil
}

func (a *app) Close() {
	closeStore(a.jobs, a.logger)
}

func closeStore(s store.Store, logger logrus.FieldLogger) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		logger.WithError(err).Warn("Error closing state store")
	}
}

// execute runs one workflow, under the progress view when enabled, and
// prints its outcome.
func (a *app) execute(cmd *cobra.Command, work func(context.Context) *orchestrator.Report) error {
	ctx := cmd.Context()

	var rep *orchestrator.Report
	if a.observer != nil {
		var err error
		rep, err = ui.Run(ctx, a.observer, work, tea.WithOutput(cmd.OutOrStdout()))
		if err != nil {
			a.logger.WithError(err).Warn("Progress view failed")
		}
	} else {
		rep = work(ctx)
	}

	printReport(cmd.OutOrStdout(), rep)
	if !rep.Success {
		return errRunFailed
	}
	return nil
}
