package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/pkg/logger"
)

const approvalSubject = "Your Project Inquiry - Next Steps"

// ApprovalStore is the persistence the approval workflow needs.
type ApprovalStore interface {
	GetInquiry(ctx context.Context, id int64) (*models.ServiceInquiry, error)
	ClaimApproval(ctx context.Context, id int64) (bool, error)
	RestoreStatus(ctx context.Context, id int64, status string, responded bool) error
	MarkRejected(ctx context.Context, id int64) (bool, error)
	UpdateDraft(ctx context.Context, id int64, draft string) error
}

// ActionSummary counts the outcome of a batch admin action.
type ActionSummary struct {
	Approved int      `json:"approved"`
	Rejected int      `json:"rejected"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

type Approver struct {
	store      ApprovalStore
	sender     mail.Sender
	persona    mail.Persona
	bookingURL string
	log        *zap.Logger
}

func NewApprover(store ApprovalStore, sender mail.Sender, persona mail.Persona, bookingURL string) *Approver {
	return &Approver{
		store:      store,
		sender:     sender,
		persona:    persona,
		bookingURL: bookingURL,
		log:        logger.Named("leads.approval"),
	}
}

// Approve emails each selected inquiry once. Inquiries already approved are
// skipped; a failed send puts the inquiry back in its previous state. Only
// persistence errors abort the batch.
func (a *Approver) Approve(ctx context.Context, ids []int64) (ActionSummary, error) {
	var summary ActionSummary

	for _, id := range ids {
		inq, err := a.store.GetInquiry(ctx, id)
		if errors.Is(err, sqlite.ErrNotFound) {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("inquiry %d not found", id))
			continue
		}
		if err != nil {
			return summary, err
		}

		if inq.Status == models.StatusApproved {
			summary.Skipped++
			metrics.Approvals.WithLabelValues("skipped").Inc()
			continue
		}

		claimed, err := a.store.ClaimApproval(ctx, id)
		if err != nil {
			return summary, err
		}
		if !claimed {
			summary.Skipped++
			metrics.Approvals.WithLabelValues("skipped").Inc()
			continue
		}

		err = a.sender.Send(ctx, mail.Message{
			To:      []string{inq.Email},
			Subject: approvalSubject,
			Body:    a.ApprovalBody(inq),
			Kind:    "approval",
		})
		if err != nil {
			if restoreErr := a.store.RestoreStatus(ctx, id, inq.Status, inq.Responded); restoreErr != nil {
				return summary, fmt.Errorf("send failed (%v) and status restore failed: %w", err, restoreErr)
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("inquiry %d: %v", id, err))
			metrics.Approvals.WithLabelValues("failed").Inc()
			a.log.Warn("Approval email failed; status restored",
				zap.Int64("inquiry_id", id),
				zap.String("status", inq.Status),
				zap.Error(err),
			)
			continue
		}

		summary.Approved++
		metrics.Approvals.WithLabelValues("approved").Inc()
		a.log.Info("Inquiry approved", zap.Int64("inquiry_id", id))
	}

	return summary, nil
}

// Reject marks inquiries rejected without sending anything.
func (a *Approver) Reject(ctx context.Context, ids []int64) (ActionSummary, error) {
	var summary ActionSummary

	for _, id := range ids {
		ok, err := a.store.MarkRejected(ctx, id)
		if err != nil {
			return summary, err
		}
		if !ok {
			summary.Skipped++
			continue
		}
		summary.Rejected++
	}

	a.log.Info("Inquiries rejected", zap.Int("rejected", summary.Rejected), zap.Int("skipped", summary.Skipped))
	return summary, nil
}

func (a *Approver) UpdateDraft(ctx context.Context, id int64, draft string) error {
	return a.store.UpdateDraft(ctx, id, draft)
}

// ApprovalBody uses the AI draft when present, otherwise a template naming
// the inquiry's budget tier. Both end with the booking link and signature.
func (a *Approver) ApprovalBody(inq *models.ServiceInquiry) string {
	var b strings.Builder

	if draft := strings.TrimSpace(inq.AIEmailDraft); draft != "" {
		b.WriteString(draft)
	} else {
		fmt.Fprintf(&b, "Hi %s,\n\n", inq.Name)
		fmt.Fprintf(&b, "Thank you for your inquiry. I have reviewed your project details and your budget range of %s, ", inq.BudgetLabel())
		b.WriteString("and I believe there is a strong fit with how I work.")
	}

	b.WriteString("\n\n")
	fmt.Fprintf(&b, "I'd love to discuss this further. You can book a 15-minute Strategy Review here: %s", a.bookingURL)
	b.WriteString("\n\n")
	b.WriteString(a.persona.Signature())

	return b.String()
}
