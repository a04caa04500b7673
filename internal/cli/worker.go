package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/missbott/backend/internal/queue"
	"github.com/missbott/backend/pkg/logger"
)

func workerCommand() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued site audits from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			return runConsumers(cmd.Context(), svc, workers)
		},
	}

	cmd.Flags().IntVarP(&workers, "concurrency", "c", 2, "number of concurrent consumers")
	return cmd
}

// runConsumers starts n consumers in one group and blocks until ctx is done.
func runConsumers(ctx context.Context, svc *services, n int) error {
	if n <= 0 {
		n = 1
	}

	host, _ := os.Hostname()
	handler := queue.AuditHandler(svc.auditor, svc.store)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		consumer, err := queue.NewConsumer(svc.streams, queue.ConsumerConfig{
			Group:         cfg.Queue.ConsumerGroup,
			ConsumerID:    fmt.Sprintf("%s-%d-%s", host, i, uuid.NewString()[:8]),
			BlockTimeout:  seconds(cfg.Queue.BlockTimeoutSec),
			ClaimMinIdle:  seconds(cfg.Queue.ClaimMinIdleSec),
			MaxDeliveries: int64(cfg.Queue.MaxDeliveries),
		})
		if err != nil {
			return err
		}
		logger.Debug("Audit consumer configured", zap.String("consumer", consumer.ConsumerID()))
		g.Go(func() error {
			return consumer.Run(gctx, handler)
		})
	}

	logger.Info("Audit workers started", zap.Int("workers", n), zap.String("stream", svc.streams.AuditStream()))
	err := g.Wait()
	logger.Info("Audit workers stopped")
	return err
}
