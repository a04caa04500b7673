package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/missbott/backend/internal/storage/models"
)

const inquirySelect = `
	SELECT i.id, i.name, i.email, i.company, i.phone, i.website_url, i.budget_range, i.timeline,
		i.project_details, i.service_id, COALESCE(s.name, '') AS service_name, i.lead_score,
		i.ai_summary, i.ai_analysis_raw, i.ai_email_draft, i.status, i.is_analyzed, i.responded,
		i.created_at, i.updated_at
	FROM service_inquiries i
	LEFT JOIN services s ON s.id = i.service_id`

func (c *Client) CreateInquiry(ctx context.Context, inq *models.ServiceInquiry) error {
	now := time.Now().UTC()
	inq.CreatedAt, inq.UpdatedAt = now, now
	if inq.Status == "" {
		inq.Status = models.StatusNew
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO service_inquiries (name, email, company, phone, website_url, budget_range,
			timeline, project_details, service_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inq.Name, inq.Email, inq.Company, inq.Phone, inq.WebsiteURL, inq.BudgetRange,
		inq.Timeline, inq.ProjectDetails, inq.ServiceID, inq.Status, inq.CreatedAt, inq.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inquiry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inquiry id: %w", err)
	}
	inq.ID = id
	return nil
}

func (c *Client) GetInquiry(ctx context.Context, id int64) (*models.ServiceInquiry, error) {
	var inq models.ServiceInquiry
	err := c.db.GetContext(ctx, &inq, inquirySelect+` WHERE i.id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get inquiry: %w", err)
	}
	return &inq, nil
}

// ListInquiries returns inquiries newest first, filtered by status when non-empty.
func (c *Client) ListInquiries(ctx context.Context, status string) ([]models.ServiceInquiry, error) {
	query := inquirySelect
	var args []any
	if status != "" {
		query += ` WHERE i.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY i.created_at DESC, i.id DESC`

	inquiries := []models.ServiceInquiry{}
	if err := c.db.SelectContext(ctx, &inquiries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list inquiries: %w", err)
	}
	return inquiries, nil
}

// SaveLeadAnalysis writes the AI block once. It returns false when the
// inquiry was already analyzed or does not exist. Only a new inquiry moves to
// analyzed; one approved or rejected while scoring ran keeps its status.
func (c *Client) SaveLeadAnalysis(ctx context.Context, id int64, a models.LeadAnalysisUpdate) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE service_inquiries
		SET ai_summary = ?, lead_score = ?, ai_email_draft = ?, ai_analysis_raw = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			is_analyzed = 1, updated_at = ?
		WHERE id = ? AND is_analyzed = 0`,
		a.Summary, a.Score, a.EmailDraft, a.Raw, models.StatusNew, models.StatusAnalyzed, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save lead analysis: %w", err)
	}
	return affected(res)
}

// ClaimApproval moves an inquiry to approved unless it already is. Only the
// caller that gets true may send the approval email.
func (c *Client) ClaimApproval(ctx context.Context, id int64) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE service_inquiries
		SET status = ?, responded = 1, updated_at = ?
		WHERE id = ? AND status <> ?`,
		models.StatusApproved, time.Now().UTC(), id, models.StatusApproved,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim approval: %w", err)
	}
	return affected(res)
}

// RestoreStatus undoes a claimed approval after a failed send.
func (c *Client) RestoreStatus(ctx context.Context, id int64, status string, responded bool) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE service_inquiries
		SET status = ?, responded = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, responded, time.Now().UTC(), id, models.StatusApproved,
	)
	if err != nil {
		return fmt.Errorf("failed to restore inquiry status: %w", err)
	}
	return nil
}

// MarkRejected rejects an inquiry that is neither approved nor rejected.
func (c *Client) MarkRejected(ctx context.Context, id int64) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE service_inquiries
		SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		models.StatusRejected, time.Now().UTC(), id, models.StatusApproved, models.StatusRejected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reject inquiry: %w", err)
	}
	return affected(res)
}

func (c *Client) UpdateDraft(ctx context.Context, id int64, draft string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE service_inquiries SET ai_email_draft = ?, updated_at = ? WHERE id = ?`,
		draft, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
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
