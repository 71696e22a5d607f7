// Package cmd defines the CLI commands for the insight executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/config"
	"github.com/godseye/insight/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insight",
		Short: "Content analysis service for web pages",
		Long: `insight analyzes web page content for sentiment, political bias,
factual claims and source credibility. It fronts a remote analysis API with
caching, retries and a synthetic fallback, keeps a deduplicated history of
everything analyzed, and raises follow-up alerts for concerning results.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus INSIGHT_* env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExportCmd())
	return cmd
}

// loadConfigAndLogger is shared setup for every subcommand.
func loadConfigAndLogger() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
