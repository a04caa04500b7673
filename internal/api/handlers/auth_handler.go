package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/auth"
	"github.com/missbott/backend/pkg/logger"
)

type Authenticator interface {
	Login(username, password string) (string, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(a Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username and password are required"})
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.Warn("Login attempt failed", zap.String("username", req.Username), zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}
	if err != nil {
		logger.Error("Failed to issue staff token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": token})
}
