// Package api assembles the HTTP surface.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/missbott/backend/internal/api/handlers"
	"github.com/missbott/backend/internal/leads"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/middleware/auth"
	"github.com/missbott/backend/internal/middleware/ratelimit"
	"github.com/missbott/backend/internal/middleware/security"
	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/pkg/config"
	"github.com/missbott/backend/pkg/logger"
)

// Store is everything the HTTP layer persists.
type Store interface {
	handlers.AuditStore
	handlers.InquiryStore
	handlers.ServiceStore
	handlers.ContactStore
}

// Deps are constructed once at startup and shared by every handler.
type Deps struct {
	Config     *config.Config
	Store      Store
	Auditor    handlers.AuditRunner
	Enqueuer   handlers.AuditEnqueuer
	Analyzer   leads.Analyzer
	Actions    handlers.LeadActions
	Runner     handlers.TaskSubmitter
	Notifier   *handlers.Notifier
	Subscriber handlers.Subscriber
	Auth       Authenticator
	Checks     map[string]handlers.Pinger
	// AccessLog toggles the fiber request logger.
	AccessLog bool
}

// Authenticator is both the login service and the token validator.
type Authenticator interface {
	handlers.Authenticator
	auth.TokenValidator
}

// NewRouter builds the fiber app. The returned stop func releases background
// resources owned by the router.
func NewRouter(d Deps) (*fiber.App, func()) {
	cfg := d.Config.Server
	log := logger.Named("http")

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
		AppName:      "missbott-backend",
		// Rate limits key on c.IP(), which reads ProxyHeader when set.
		ProxyHeader:             cfg.ProxyHeader,
		EnableTrustedProxyCheck: len(cfg.TrustedProxies) > 0,
		TrustedProxies:          cfg.TrustedProxies,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-N8N-KEY",
		AllowMethods:     "GET, POST, PATCH, OPTIONS",
		AllowCredentials: true,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.PublicRateLimit,
		Logger:               log,
	})

	auditHandler := handlers.NewAuditHandler(d.Auditor, d.Store, d.Enqueuer)
	inquiryHandler := handlers.NewInquiryHandler(d.Store, d.Analyzer, d.Actions, d.Runner, d.Notifier)
	contactHandler := handlers.NewContactHandler(d.Store, d.Subscriber, d.Notifier)
	serviceHandler := handlers.NewServiceHandler(d.Store)
	healthHandler := handlers.NewHealthHandler(d.Checks)
	staff := auth.Staff(d.Auth, log)

	contentType := validation.ContentTypeMiddleware(validation.Config{Logger: log})

	// Automation calls authenticate with the shared key before any browser checks,
	// so a wrong key is always a 401. Registered ahead of the /api group.
	app.Post("/api/n8n/run-audit",
		auth.SharedKey("X-N8N-KEY", d.Config.N8N.APIKey, log),
		contentType,
		auditHandler.QueueAudit,
	)

	api := app.Group("/api",
		contentType,
		security.OriginCheck(cfg.CSRFTrustedOrigins, log),
	)

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	api.Get("/services", serviceHandler.List)
	api.Post("/contact", limiter.Middleware(), contactHandler.CreateMessage)
	api.Post("/service-inquiry", limiter.Middleware(), inquiryHandler.Create)
	api.Post("/newsletter", limiter.Middleware(), contactHandler.Subscribe)
	api.Post("/auth/login", limiter.Middleware(), handlers.NewAuthHandler(d.Auth).Login)

	api.Post("/run-audit", staff, auditHandler.RunAudit)

	admin := api.Group("/"+cfg.AdminPath, staff)
	admin.Get("/audits", auditHandler.ListAudits)
	admin.Get("/audits/:id", auditHandler.GetAudit)
	admin.Post("/audits/:id/rerun", auditHandler.RerunAudit)
	admin.Get("/inquiries", inquiryHandler.List)
	admin.Patch("/inquiries/:id", inquiryHandler.UpdateDraft)
	admin.Post("/inquiries/approve", inquiryHandler.Approve)
	admin.Post("/inquiries/reject", inquiryHandler.Reject)
	admin.Post("/services", serviceHandler.Create)

	wsHandler := handlers.NewWebSocketHandler(d.Auditor, d.Store)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/audit", staff, websocket.New(wsHandler.HandleConnection))

	return app, limiter.Stop
}
