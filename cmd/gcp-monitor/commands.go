package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gcpmonitor "github.com/itsneelabh/gcp-monitor"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/dynatrace"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
)

type rootFlags struct {
	envFiles      []string
	logLevel      string
	projectID     string
	extensionsDir string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "gcp-monitor",
		Short:         "Polls Google Cloud Monitoring and pushes metrics to Dynatrace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, ".env files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.projectID, "project", "", "owner project, defaults to GCP_PROJECT or the metadata server")
	rootCmd.PersistentFlags().StringVar(&flags.extensionsDir, "extensions-dir", "", "directory of extension YAML files")

	rootCmd.AddCommand(
		newRunCommand(flags),
		newOnceCommand(flags),
		newCheckCommand(flags),
		newVersionCommand(),
	)
	return rootCmd
}

func newRunCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every query interval and serve the health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(cmd.Context(), flags, func(ctx context.Context, m *gcpmonitor.Monitor) error {
				return m.Serve(ctx)
			})
		},
	}
}

func newOnceCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Perform a single execution and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(cmd.Context(), flags, func(ctx context.Context, m *gcpmonitor.Monitor) error {
				return m.RunOnce(ctx)
			})
		},
	}
}

func newCheckCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials, Dynatrace connectivity and the service configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(cmd.Context(), flags, func(ctx context.Context, m *gcpmonitor.Monitor) error {
				services, err := m.Check(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, svc := range services {
					fmt.Fprintf(out, "%s\t%d metrics\n", svc.Key(), len(svc.Metrics))
				}
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gcp-monitor %s (commit %s, built %s)\n",
				gcpmonitor.Version, gcpmonitor.GitCommit, gcpmonitor.BuildDate)
		},
	}
}

func (f *rootFlags) options() []core.Option {
	var opts []core.Option
	if len(f.envFiles) > 0 {
		opts = append(opts, core.WithEnvFiles(f.envFiles...))
	}
	if f.logLevel != "" {
		opts = append(opts, core.WithLogLevel(f.logLevel))
	}
	if f.projectID != "" {
		opts = append(opts, core.WithProjectID(f.projectID))
	}
	if f.extensionsDir != "" {
		opts = append(opts, core.WithExtensionsDir(f.extensionsDir))
	}
	return opts
}

// withMonitor loads configuration, builds the monitor and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withMonitor(parent context.Context, flags *rootFlags, fn func(context.Context, *gcpmonitor.Monitor) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.NewConfig(flags.options()...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	for _, line := range core.DescribeFlags(core.ConfigurationFlags, dynatrace.ObfuscateAccessKey) {
		log.Info(line)
	}

	m, err := gcpmonitor.New(ctx, cfg, gcpmonitor.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			log.Warn("Failed to close monitor", map[string]interface{}{"error": err.Error()})
		}
	}()

	return fn(ctx, m)
}
