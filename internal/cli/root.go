// Package cli implements the missbott command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/config"
	"github.com/missbott/backend/pkg/logger"
)

var (
	// debug forces debug-level logging regardless of configuration.
	debug bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "missbott",
		Short:         "Portfolio backend: site audits, lead scoring and outreach",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			return setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(workerCommand())
	rootCmd.AddCommand(auditCommand())
	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(hashPasswordCommand())
	rootCmd.AddCommand(cacheCommand())
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	return rootCmd.ExecuteContext(ctx)
}

func setup() error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		loaded.Logging.Level = "debug"
	}

	if err := logger.Init(loaded.Logging.Level, loaded.Logging.Format, loaded.Logging.OutputPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	metrics.Init()

	cfg = loaded
	return nil
}
