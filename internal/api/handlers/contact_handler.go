package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/pkg/logger"
)

type ContactStore interface {
	CreateContactMessage(ctx context.Context, m *models.ContactMessage) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, email, firstName string) error
}

type ContactHandler struct {
	store      ContactStore
	subscriber Subscriber
	notifier   *Notifier
}

func NewContactHandler(store ContactStore, subscriber Subscriber, notifier *Notifier) *ContactHandler {
	return &ContactHandler{
		store:      store,
		subscriber: subscriber,
		notifier:   notifier,
	}
}

func (h *ContactHandler) CreateMessage(c *fiber.Ctx) error {
	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	req.Name = validation.Sanitize(req.Name)
	req.Email = validation.Sanitize(req.Email)
	req.Message = validation.Sanitize(req.Message)

	errs := validation.Errors{}
	errs.Required("name", req.Name, 100)
	errs.Email("email", req.Email)
	errs.Required("message", req.Message, 5000)
	errs.Markup("name", req.Name)
	errs.Markup("message", req.Message)
	if !errs.Empty() {
		return validation.Respond(c, errs)
	}

	msg := &models.ContactMessage{Name: req.Name, Email: req.Email, Message: req.Message}
	if err := h.store.CreateContactMessage(c.UserContext(), msg); err != nil {
		logger.Error("Failed to save contact message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
	}

	h.notifier.ContactReceived(msg)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      msg.ID,
		"message": "Thank you! Your message has been sent.",
	})
}

// Subscribe upserts a newsletter subscriber.
func (h *ContactHandler) Subscribe(c *fiber.Ctx) error {
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	req.Email = validation.Sanitize(req.Email)
	req.FirstName = validation.Sanitize(req.FirstName)

	errs := validation.Errors{}
	errs.Email("email", req.Email)
	errs.MaxLen("first_name", req.FirstName, 100)
	if !errs.Empty() {
		return validation.Respond(c, errs)
	}

	err := h.subscriber.Subscribe(c.UserContext(), req.Email, req.FirstName)
	if errors.Is(err, mail.ErrNotConfigured) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Newsletter is not available"})
	}
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Subscription failed. Please try again later."})
	}

	return c.JSON(fiber.Map{"message": "Subscribed successfully."})
}
