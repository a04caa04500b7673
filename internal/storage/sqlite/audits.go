package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/pkg/logger"
)

const auditColumns = `id, url, job_id, created_at, updated_at, performance_score,
	accessibility_score, audit_data, email_draft`

// SaveAudit inserts a record with ID 0 and updates any other in place.
func (c *Client) SaveAudit(ctx context.Context, a *models.SiteAudit) error {
	if len(a.AuditData) == 0 {
		a.AuditData = types.JSONText("{}")
	}

	if a.ID == 0 {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO site_audits (url, job_id, created_at, updated_at, performance_score,
				accessibility_score, audit_data, email_draft)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.URL, a.JobID, a.CreatedAt, a.UpdatedAt, a.PerformanceScore,
			a.AccessibilityScore, a.AuditData, a.EmailDraft,
		)
		if err != nil {
			return fmt.Errorf("failed to insert site audit: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read site audit id: %w", err)
		}
		a.ID = id
		return nil
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE site_audits
		SET url = ?, job_id = ?, updated_at = ?, performance_score = ?, accessibility_score = ?,
			audit_data = ?, email_draft = ?
		WHERE id = ?`,
		a.URL, a.JobID, a.UpdatedAt, a.PerformanceScore, a.AccessibilityScore,
		a.AuditData, a.EmailDraft, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update site audit: %w", err)
	}

	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SaveAuditResult persists an audit report through models.FromAuditResult. A
// non-empty jobID is recorded on new rows so redelivered jobs can find them.
func (c *Client) SaveAuditResult(ctx context.Context, url, jobID string, result *audit.Result, existing *models.SiteAudit) (*models.SiteAudit, error) {
	record, err := models.FromAuditResult(url, result, existing)
	if err != nil {
		return nil, err
	}

	if jobID != "" && record.JobID == nil {
		record.JobID = &jobID
	}

	if err := c.SaveAudit(ctx, record); err != nil {
		return nil, err
	}

	logger.Info("Site audit saved",
		zap.Int64("id", record.ID),
		zap.String("url", url),
		zap.Bool("updated", existing != nil),
	)

	return record, nil
}

func (c *Client) GetAudit(ctx context.Context, id int64) (*models.SiteAudit, error) {
	var a models.SiteAudit
	err := c.db.GetContext(ctx, &a, `SELECT `+auditColumns+` FROM site_audits WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get site audit: %w", err)
	}
	return &a, nil
}

func (c *Client) GetAuditByJobID(ctx context.Context, jobID string) (*models.SiteAudit, error) {
	var a models.SiteAudit
	err := c.db.GetContext(ctx, &a, `SELECT `+auditColumns+` FROM site_audits WHERE job_id = ?`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get site audit by job: %w", err)
	}
	return &a, nil
}

func (c *Client) ListAudits(ctx context.Context, limit, offset int) ([]models.SiteAudit, error) {
	if limit <= 0 {
		limit = 50
	}

	audits := []models.SiteAudit{}
	err := c.db.SelectContext(ctx, &audits, `
		SELECT `+auditColumns+`
		FROM site_audits
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list site audits: %w", err)
	}
	return audits, nil
}
