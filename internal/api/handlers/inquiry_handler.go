package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/leads"
	"github.com/missbott/backend/internal/middleware/auth"
	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/pkg/logger"
)

type InquiryStore interface {
	CreateInquiry(ctx context.Context, inq *models.ServiceInquiry) error
	GetInquiry(ctx context.Context, id int64) (*models.ServiceInquiry, error)
	ListInquiries(ctx context.Context, status string) ([]models.ServiceInquiry, error)
	GetService(ctx context.Context, id int64) (*models.Service, error)
}

type LeadActions interface {
	Approve(ctx context.Context, ids []int64) (leads.ActionSummary, error)
	Reject(ctx context.Context, ids []int64) (leads.ActionSummary, error)
	UpdateDraft(ctx context.Context, id int64, draft string) error
}

type InquiryHandler struct {
	store    InquiryStore
	analyzer leads.Analyzer
	actions  LeadActions
	runner   TaskSubmitter
	notifier *Notifier
}

func NewInquiryHandler(store InquiryStore, analyzer leads.Analyzer, actions LeadActions, runner TaskSubmitter, notifier *Notifier) *InquiryHandler {
	return &InquiryHandler{
		store:    store,
		analyzer: analyzer,
		actions:  actions,
		runner:   runner,
		notifier: notifier,
	}
}

type inquiryRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Company        string `json:"company"`
	Phone          string `json:"phone"`
	WebsiteURL     string `json:"website_url"`
	BudgetRange    string `json:"budget_range"`
	Timeline       string `json:"timeline"`
	ProjectDetails string `json:"project_details"`
	Service        *int64 `json:"service"`
}

func (r *inquiryRequest) validate() validation.Errors {
	r.Name = validation.Sanitize(r.Name)
	r.Email = validation.Sanitize(r.Email)
	r.Company = validation.Sanitize(r.Company)
	r.Phone = validation.Sanitize(r.Phone)
	r.WebsiteURL = validation.Sanitize(r.WebsiteURL)
	r.ProjectDetails = validation.Sanitize(r.ProjectDetails)

	errs := validation.Errors{}
	errs.Required("name", r.Name, 100)
	errs.Email("email", r.Email)
	errs.MaxLen("company", r.Company, 100)
	errs.MaxLen("phone", r.Phone, 20)
	errs.URL("website_url", r.WebsiteURL)
	errs.OneOf("budget_range", r.BudgetRange, models.BudgetCodes())
	errs.OneOf("timeline", r.Timeline, models.TimelineCodes())
	errs.Required("project_details", r.ProjectDetails, 5000)
	for field, value := range map[string]string{"name": r.Name, "company": r.Company, "project_details": r.ProjectDetails} {
		errs.Markup(field, value)
	}
	return errs
}

// Create stores a public inquiry and schedules the owner notification and
// AI scoring. The response never waits on either.
func (h *InquiryHandler) Create(c *fiber.Ctx) error {
	var req inquiryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if errs := req.validate(); !errs.Empty() {
		return validation.Respond(c, errs)
	}

	inq := &models.ServiceInquiry{
		Name:           req.Name,
		Email:          req.Email,
		Company:        req.Company,
		Phone:          req.Phone,
		WebsiteURL:     req.WebsiteURL,
		BudgetRange:    req.BudgetRange,
		Timeline:       req.Timeline,
		ProjectDetails: req.ProjectDetails,
	}

	if req.Service != nil {
		svc, err := h.store.GetService(c.UserContext(), *req.Service)
		if errors.Is(err, sqlite.ErrNotFound) || (err == nil && !svc.Active) {
			return validation.Respond(c, validation.Errors{"service": "Invalid service."})
		}
		if err != nil {
			logger.Error("Failed to load service", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save inquiry"})
		}
		inq.ServiceID = &svc.ID
		inq.ServiceName = svc.Name
	}

	if err := h.store.CreateInquiry(c.UserContext(), inq); err != nil {
		logger.Error("Failed to save inquiry", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save inquiry"})
	}

	h.notifier.InquiryReceived(inq)
	if h.analyzer != nil && !h.runner.Submit(leads.AnalysisTask(h.analyzer, inq.ID)) {
		logger.Warn("Lead analysis not scheduled", zap.Int64("inquiry_id", inq.ID))
	}

	logger.Info("Service inquiry received", zap.Int64("inquiry_id", inq.ID), zap.String("budget", inq.BudgetRange))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      inq.ID,
		"message": "Thank you! Your inquiry has been received.",
	})
}

func (h *InquiryHandler) List(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !models.ValidStatus(status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown status"})
	}

	inquiries, err := h.store.ListInquiries(c.UserContext(), status)
	if err != nil {
		logger.Error("Failed to list inquiries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list inquiries"})
	}
	return c.JSON(fiber.Map{"results": inquiries})
}

// UpdateDraft lets staff edit the AI email draft before approving.
func (h *InquiryHandler) UpdateDraft(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid inquiry id"})
	}

	var req struct {
		AIEmailDraft *string `json:"ai_email_draft"`
	}
	if err := c.BodyParser(&req); err != nil || req.AIEmailDraft == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ai_email_draft is required"})
	}

	err = h.actions.UpdateDraft(c.UserContext(), int64(id), *req.AIEmailDraft)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Inquiry not found"})
	}
	if err != nil {
		logger.Error("Failed to update draft", zap.Int("inquiry_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update draft"})
	}

	inq, err := h.store.GetInquiry(c.UserContext(), int64(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load inquiry"})
	}
	return c.JSON(inq)
}

type batchRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *InquiryHandler) Approve(c *fiber.Ctx) error {
	return h.batch(c, "approve", h.actions.Approve)
}

func (h *InquiryHandler) Reject(c *fiber.Ctx) error {
	return h.batch(c, "reject", h.actions.Reject)
}

func (h *InquiryHandler) batch(c *fiber.Ctx, action string, run func(context.Context, []int64) (leads.ActionSummary, error)) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ids is required"})
	}

	staff := "unknown"
	if claims, ok := auth.GetClaims(c); ok {
		staff = claims.Sub
	}

	summary, err := run(c.UserContext(), req.IDs)
	if err != nil {
		logger.Error("Inquiry batch action failed", zap.String("action", action), zap.String("staff", staff), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   err.Error(),
			"summary": summary,
		})
	}

	logger.Info("Inquiry batch action",
		zap.String("action", action),
		zap.String("staff", staff),
		zap.Int("ids", len(req.IDs)),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)

	return c.JSON(fiber.Map{
		"message": batchMessage(action, summary),
		"summary": summary,
	})
}

func batchMessage(action string, s leads.ActionSummary) string {
	var parts []string
	switch action {
	case "approve":
		parts = append(parts, plural(s.Approved, "email")+" sent")
	case "reject":
		parts = append(parts, plural(s.Rejected, "inquiry", "inquiries")+" rejected")
	}
	if s.Skipped > 0 {
		parts = append(parts, plural(s.Skipped, "skipped", "skipped"))
	}
	if s.Failed > 0 {
		parts = append(parts, plural(s.Failed, "failed", "failed"))
	}
	return strings.Join(parts, ", ") + "."
}

func plural(n int, one string, many ...string) string {
	word := one
	if n != 1 {
		word = one + "s"
		if len(many) > 0 {
			word = many[0]
		}
	}
	return strconv.Itoa(n) + " " + word
}
