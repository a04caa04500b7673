package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	StatusNew      = "new"
	StatusAnalyzed = "analyzed"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ValidStatus reports whether s is a known inquiry status.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusAnalyzed, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type SiteAudit struct {
	ID                 int64          `db:"id" json:"id"`
	URL                string         `db:"url" json:"url"`
	JobID              *string        `db:"job_id" json:"job_id,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
	PerformanceScore   *int           `db:"performance_score" json:"performance_score"`
	AccessibilityScore *int           `db:"accessibility_score" json:"accessibility_score"`
	AuditData          types.JSONText `db:"audit_data" json:"audit_data"`
	EmailDraft         string         `db:"email_draft" json:"email_draft"`
}

type Service struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Slug        string `db:"slug" json:"slug"`
	Description string `db:"description" json:"description"`
	Active      bool   `db:"active" json:"active"`
	SortOrder   int    `db:"sort_order" json:"sort_order"`
}

type ServiceInquiry struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Email          string `db:"email" json:"email"`
	Company        string `db:"company" json:"company"`
	Phone          string `db:"phone" json:"phone"`
	WebsiteURL     string `db:"website_url" json:"website_url"`
	BudgetRange    string `db:"budget_range" json:"budget_range"`
	Timeline       string `db:"timeline" json:"timeline"`
	ProjectDetails string `db:"project_details" json:"project_details"`
	ServiceID      *int64 `db:"service_id" json:"service_id"`
	// ServiceName is joined from services; empty when no service is linked.
	ServiceName string `db:"service_name" json:"service_name"`

	LeadScore     int    `db:"lead_score" json:"lead_score"`
	AISummary     string `db:"ai_summary" json:"ai_summary"`
	AIAnalysisRaw string `db:"ai_analysis_raw" json:"ai_analysis_raw"`
	AIEmailDraft  string `db:"ai_email_draft" json:"ai_email_draft"`
	Status        string `db:"status" json:"status"`
	IsAnalyzed    bool   `db:"is_analyzed" json:"is_analyzed"`
	Responded     bool   `db:"responded" json:"responded"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (i *ServiceInquiry) BudgetLabel() string   { return BudgetLabel(i.BudgetRange) }
func (i *ServiceInquiry) TimelineLabel() string { return TimelineLabel(i.Timeline) }

// LeadAnalysisUpdate is the AI block written once per inquiry.
type LeadAnalysisUpdate struct {
	Summary    string
	Score      int
	Raw        string
	EmailDraft string
}

type ContactMessage struct {
	ID      int64     `db:"id" json:"id"`
	Name    string    `db:"name" json:"name"`
	Email   string    `db:"email" json:"email"`
	Message string    `db:"message" json:"message"`
	SentAt  time.Time `db:"sent_at" json:"sent_at"`
}
