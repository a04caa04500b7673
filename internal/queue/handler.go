package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/pkg/logger"
)

type AuditRunner interface {
	Run(ctx context.Context, pageURL string) (*audit.Result, error)
}

type AuditStore interface {
	GetAuditByJobID(ctx context.Context, jobID string) (*models.SiteAudit, error)
	SaveAuditResult(ctx context.Context, url, jobID string, result *audit.Result, existing *models.SiteAudit) (*models.SiteAudit, error)
}

// AuditHandler runs the audit for a job and persists it. A redelivered job
// updates the record it created the first time.
func AuditHandler(runner AuditRunner, store AuditStore) Handler {
	return func(ctx context.Context, job Job) error {
		existing, err := store.GetAuditByJobID(ctx, job.JobID)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("failed to look up audit for job %s: %w", job.JobID, err)
		}

		result, err := runner.Run(ctx, job.URL)
		if err != nil {
			metrics.AuditsTotal.WithLabelValues("queue", "error").Inc()
			return err
		}

		record, err := store.SaveAuditResult(ctx, job.URL, job.JobID, result, existing)
		if err != nil {
			metrics.AuditsTotal.WithLabelValues("queue", "error").Inc()
			return err
		}

		metrics.AuditsTotal.WithLabelValues("queue", "ok").Inc()
		fields := []zap.Field{
			zap.String("job_id", job.JobID),
			zap.Int64("audit_id", record.ID),
			zap.String("url", job.URL),
		}
		if !job.EnqueuedAt.IsZero() {
			fields = append(fields, zap.Duration("latency", time.Since(job.EnqueuedAt)))
		}
		logger.Info("Queued audit completed", fields...)
		return nil
	}
}
