package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/pkg/logger"
)

const maxAuditPageSize = 100

type AuditRunner interface {
	Run(ctx context.Context, pageURL string) (*audit.Result, error)
	RunWithProgress(ctx context.Context, pageURL string, progress audit.ProgressFunc) (*audit.Result, error)
}

type AuditStore interface {
	SaveAuditResult(ctx context.Context, url, jobID string, result *audit.Result, existing *models.SiteAudit) (*models.SiteAudit, error)
	GetAudit(ctx context.Context, id int64) (*models.SiteAudit, error)
	ListAudits(ctx context.Context, limit, offset int) ([]models.SiteAudit, error)
}

type AuditEnqueuer interface {
	Enqueue(ctx context.Context, pageURL string) (string, error)
}

type AuditHandler struct {
	auditor  AuditRunner
	store    AuditStore
	enqueuer AuditEnqueuer
}

func NewAuditHandler(auditor AuditRunner, store AuditStore, enqueuer AuditEnqueuer) *AuditHandler {
	return &AuditHandler{
		auditor:  auditor,
		store:    store,
		enqueuer: enqueuer,
	}
}

type auditRequest struct {
	URL string `json:"url"`
}

// auditResponse is the report plus the id of the stored record.
type auditResponse struct {
	*audit.Result
	AuditID int64 `json:"audit_id"`
}

func parseAuditURL(c *fiber.Ctx) (string, error) {
	var req auditRequest
	if err := c.BodyParser(&req); err != nil {
		return "", errors.New("Invalid request body")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return "", errors.New("URL is required")
	}
	if !validation.IsValidURL(req.URL) {
		return "", errors.New("URL must be an absolute http(s) URL")
	}
	return req.URL, nil
}

// RunAudit runs all probes synchronously and stores the report.
func (h *AuditHandler) RunAudit(c *fiber.Ctx) error {
	pageURL, err := parseAuditURL(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.auditor.Run(c.UserContext(), pageURL)
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("http", "error").Inc()
		logger.Error("Site audit failed", zap.String("url", pageURL), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	record, err := h.store.SaveAuditResult(c.UserContext(), pageURL, "", result, nil)
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("http", "error").Inc()
		logger.Error("Failed to save site audit", zap.String("url", pageURL), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.AuditsTotal.WithLabelValues("http", "ok").Inc()
	return c.JSON(auditResponse{Result: result, AuditID: record.ID})
}

// QueueAudit accepts an automation request. Failures are reported with 200 so
// the calling workflow keeps running.
func (h *AuditHandler) QueueAudit(c *fiber.Ctx) error {
	pageURL, err := parseAuditURL(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if h.enqueuer == nil {
		return c.JSON(fiber.Map{"status": "error", "error": "audit queue is not available"})
	}

	jobID, err := h.enqueuer.Enqueue(c.UserContext(), pageURL)
	if err != nil {
		logger.Error("Failed to queue site audit", zap.String("url", pageURL), zap.Error(err))
		return c.JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	logger.Info("Site audit queued", zap.String("url", pageURL), zap.String("job_id", jobID))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "queued",
		"url":    pageURL,
	})
}

func (h *AuditHandler) ListAudits(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 25)
	if limit <= 0 || limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	audits, err := h.store.ListAudits(c.UserContext(), limit, offset)
	if err != nil {
		logger.Error("Failed to list site audits", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list audits"})
	}

	return c.JSON(fiber.Map{
		"results": audits,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *AuditHandler) GetAudit(c *fiber.Ctx) error {
	record, status, msg := h.lookup(c)
	if status != 0 {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.JSON(record)
}

// RerunAudit audits the stored URL again and updates the record in place.
func (h *AuditHandler) RerunAudit(c *fiber.Ctx) error {
	record, status, msg := h.lookup(c)
	if status != 0 {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	result, err := h.auditor.Run(c.UserContext(), record.URL)
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("rerun", "error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	updated, err := h.store.SaveAuditResult(c.UserContext(), record.URL, "", result, record)
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("rerun", "error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.AuditsTotal.WithLabelValues("rerun", "ok").Inc()
	return c.JSON(updated)
}

// lookup returns a non-zero status and message when the audit cannot be loaded.
func (h *AuditHandler) lookup(c *fiber.Ctx) (*models.SiteAudit, int, string) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.StatusBadRequest, "Invalid audit id"
	}

	record, err := h.store.GetAudit(c.UserContext(), int64(id))
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, fiber.StatusNotFound, "Audit not found"
	}
	if err != nil {
		logger.Error("Failed to load site audit", zap.Int("id", id), zap.Error(err))
		return nil, fiber.StatusInternalServerError, "Failed to load audit"
	}
	return record, 0, ""
}
