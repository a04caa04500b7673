package handlers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/tasks"
	"github.com/missbott/backend/pkg/logger"
)

// TaskSubmitter queues work off the request path.
type TaskSubmitter interface {
	Submit(t tasks.Task) bool
}

// Notifier emails the site owner about new public submissions in the background.
type Notifier struct {
	sender     mail.Sender
	adminEmail string
	runner     TaskSubmitter
}

func NewNotifier(sender mail.Sender, adminEmail string, runner TaskSubmitter) *Notifier {
	return &Notifier{sender: sender, adminEmail: adminEmail, runner: runner}
}

func (n *Notifier) InquiryReceived(inq *models.ServiceInquiry) {
	if !n.enabled() {
		return
	}
	n.submit(fmt.Sprintf("notify:inquiry:%d", inq.ID), inquiryNotice(n.adminEmail, inq))
}

func (n *Notifier) ContactReceived(m *models.ContactMessage) {
	if !n.enabled() {
		return
	}
	n.submit(fmt.Sprintf("notify:contact:%d", m.ID), contactNotice(n.adminEmail, m))
}

func (n *Notifier) enabled() bool {
	return n != nil && n.sender != nil && n.runner != nil && n.adminEmail != ""
}

func (n *Notifier) submit(key string, msg mail.Message) {
	ok := n.runner.Submit(tasks.Task{
		Name: "notification_email",
		Key:  key,
		Run: func(ctx context.Context) error {
			return n.sender.Send(ctx, msg)
		},
	})
	if !ok {
		logger.Warn("Notification email dropped", zap.String("key", key))
	}
}

func inquiryNotice(to string, inq *models.ServiceInquiry) mail.Message {
	service := inq.ServiceName
	if service == "" {
		service = "General"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New project inquiry from %s <%s>\n\n", inq.Name, inq.Email)
	fmt.Fprintf(&b, "Company: %s\n", orDash(inq.Company))
	fmt.Fprintf(&b, "Phone: %s\n", orDash(inq.Phone))
	fmt.Fprintf(&b, "Website: %s\n", orDash(inq.WebsiteURL))
	fmt.Fprintf(&b, "Service: %s\n", service)
	fmt.Fprintf(&b, "Budget: %s\n", inq.BudgetLabel())
	fmt.Fprintf(&b, "Timeline: %s\n\n", inq.TimelineLabel())
	b.WriteString(inq.ProjectDetails)
	b.WriteString("\n\nThe AI analysis will appear in the inquiries dashboard shortly.\n")

	subject := "New Project Inquiry: " + inq.Name
	if inq.Company != "" {
		subject += " (" + inq.Company + ")"
	}

	return mail.Message{
		To:      []string{to},
		ReplyTo: inq.Email,
		Subject: subject,
		Body:    b.String(),
		Kind:    "inquiry_notice",
	}
}

func contactNotice(to string, m *models.ContactMessage) mail.Message {
	return mail.Message{
		To:      []string{to},
		ReplyTo: m.Email,
		Subject: "New Contact Message from " + m.Name,
		Body:    fmt.Sprintf("From: %s <%s>\n\n%s\n", m.Name, m.Email, m.Message),
		Kind:    "contact_notice",
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
