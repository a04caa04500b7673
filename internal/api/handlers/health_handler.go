package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler takes the dependencies readiness depends on, by name.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := make(fiber.Map, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != fiber.StatusOK {
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
	})
}
