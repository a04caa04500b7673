package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	rediscache "github.com/missbott/backend/internal/cache/redis"
)

func cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-pagespeed",
		Short: "Drop every cached PageSpeed report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Redis.Enabled {
				return errors.New("redis is disabled")
			}

			ctx := cmd.Context()
			client, err := rediscache.NewClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.InvalidatePageSpeed(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PageSpeed cache cleared")
			return nil
		},
	})

	return cmd
}
