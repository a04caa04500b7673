package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/missbott/backend/internal/audit"
)

// FromAuditResult maps an audit report onto a SiteAudit. With existing == nil a
// new record is returned; otherwise existing is updated in place. Scores are
// only overwritten when the performance probe succeeded.
func FromAuditResult(url string, result *audit.Result, existing *SiteAudit) (*SiteAudit, error) {
	data, err := json.Marshal(result.TechnicalData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit data: %w", err)
	}

	now := time.Now().UTC()

	record := existing
	if record == nil {
		record = &SiteAudit{URL: url, CreatedAt: now}
	}

	record.AuditData = types.JSONText(data)
	record.EmailDraft = result.EmailDraft
	record.UpdatedAt = now

	if lh := result.TechnicalData.Lighthouse; !lh.Failed() {
		perf, access := lh.PerformanceScore, lh.AccessibilityScore
		record.PerformanceScore = &perf
		record.AccessibilityScore = &access
	}

	return record, nil
}
