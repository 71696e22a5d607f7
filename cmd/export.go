package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/app"
	"github.com/godseye/insight/internal/history"
)

func newExportCmd() *cobra.Command {
	var within string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a one-shot snapshot of the analysis history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize service: %w", err)
			}
			defer a.Close(cmd.Context())

			filter := history.Filter{}
			switch within {
			case "":
			case "week":
				filter.Within = history.WindowWeek
			case "month":
				filter.Within = history.WindowMonth
			default:
				return fmt.Errorf("--within must be week or month, got %q", within)
			}

			name, err := a.Exporter.Export(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("export history: %w", err)
			}
			logger.Info("export written", zap.String("blob", name))
			return nil
		},
	}

	cmd.Flags().StringVar(&within, "within", "", "limit the snapshot to recent items (week or month)")
	return cmd
}
