package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/internal/queue"
	"github.com/missbott/backend/pkg/logger"
)

func auditCommand() *cobra.Command {
	var (
		save    bool
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Audit one site and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageURL := args[0]
			if !validation.IsValidURL(pageURL) {
				return fmt.Errorf("not an absolute http(s) URL: %q", pageURL)
			}

			ctx := cmd.Context()
			svc, err := buildServices(ctx, cfg, enqueue)
			if err != nil {
				return err
			}
			defer svc.Close()

			if enqueue {
				jobID, err := queue.NewProducer(svc.streams, 0).Enqueue(ctx, pageURL)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobID)
				return nil
			}

			result, err := svc.auditor.Run(ctx, pageURL)
			if err != nil {
				return err
			}

			if save {
				record, err := svc.store.SaveAuditResult(ctx, pageURL, "", result, nil)
				if err != nil {
					return err
				}
				logger.Info("Audit saved", zap.Int64("audit_id", record.ID))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "store the report as a site audit")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the audit for a worker instead of running it")
	return cmd
}
