package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	staffauth "github.com/missbott/backend/internal/auth"
	"github.com/missbott/backend/internal/middleware/auth"
)

func ok(c *fiber.Ctx) error { return c.SendString("ok") }

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestSharedKey(t *testing.T) {
	app := fiber.New()
	app.Post("/hook", auth.SharedKey("X-N8N-KEY", "abc123", nil), ok)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("X-N8N-KEY", "abc124")
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("X-N8N-KEY", "abc123")
	assert.Equal(t, fiber.StatusOK, status(t, app, req))
}

func TestSharedKey_EmptyKeyRejectsAll(t *testing.T) {
	app := fiber.New()
	app.Post("/hook", auth.SharedKey("X-N8N-KEY", "", nil), ok)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("X-N8N-KEY", "")
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req))
}

func TestStaff(t *testing.T) {
	m := staffauth.NewManager("secret", time.Hour, "admin", "")
	token, err := m.GenerateToken("admin")
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/admin", auth.Staff(m, nil), func(c *fiber.Ctx) error {
		claims, found := auth.GetClaims(c)
		if !found {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(claims.Sub)
	})

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, httptest.NewRequest(http.MethodGet, "/admin", nil)))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, fiber.StatusOK, status(t, app, req))

	assert.Equal(t, fiber.StatusOK, status(t, app, httptest.NewRequest(http.MethodGet, "/admin?token="+token, nil)))
}
