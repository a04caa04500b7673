package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/pkg/logger"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

type ServiceStore interface {
	ListActiveServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, s *models.Service) error
}

type ServiceHandler struct {
	store ServiceStore
}

func NewServiceHandler(store ServiceStore) *ServiceHandler {
	return &ServiceHandler{store: store}
}

func (h *ServiceHandler) List(c *fiber.Ctx) error {
	services, err := h.store.ListActiveServices(c.UserContext())
	if err != nil {
		logger.Error("Failed to list services", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list services"})
	}
	return c.JSON(services)
}

func (h *ServiceHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
		Active      *bool  `json:"active"`
		SortOrder   int    `json:"sort_order"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	req.Name = validation.Sanitize(req.Name)
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}

	errs := validation.Errors{}
	errs.Required("name", req.Name, 100)
	errs.Required("slug", req.Slug, 100)
	if !errs.Empty() {
		return validation.Respond(c, errs)
	}

	svc := &models.Service{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Active:      req.Active == nil || *req.Active,
		SortOrder:   req.SortOrder,
	}
	if err := h.store.CreateService(c.UserContext(), svc); err != nil {
		logger.Error("Failed to create service", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create service"})
	}

	return c.Status(fiber.StatusCreated).JSON(svc)
}

func slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
