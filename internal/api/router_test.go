package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missbott/backend/internal/api/handlers"
	"github.com/missbott/backend/internal/audit"
	staffauth "github.com/missbott/backend/internal/auth"
	"github.com/missbott/backend/internal/leads"
	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/internal/tasks"
	"github.com/missbott/backend/pkg/config"
)

const n8nKey = "n8n-secret"

type fakeAuditor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAuditor) Run(ctx context.Context, pageURL string) (*audit.Result, error) {
	return f.RunWithProgress(ctx, pageURL, nil)
}

func (f *fakeAuditor) RunWithProgress(_ context.Context, pageURL string, _ audit.ProgressFunc) (*audit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &audit.Result{
		URL:    pageURL,
		Domain: "example.com",
		TechnicalData: audit.TechnicalData{
			SSL:        audit.SSLResult{DaysRemaining: 60, Status: audit.StatusGood},
			Lighthouse: audit.LighthouseResult{PerformanceScore: 71, AccessibilityScore: 88, SEOScore: 90, CoreWebVitals: "FAST"},
			Health:     audit.HealthResult{TitleTag: audit.StatusGood, MetaDescription: audit.StatusGood, H1Tag: audit.StatusGood, MobileViewport: audit.StatusGood},
		},
		EmailDraft: "Subject: Quick wins for example.com",
	}, nil
}

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) Enqueue(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "job-1", nil
}

type recordingRunner struct {
	mu    sync.Mutex
	tasks []tasks.Task
}

func (r *recordingRunner) Submit(t tasks.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return true
}

func (r *recordingRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Name
	}
	return out
}

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(context.Context, int64) error { return nil }

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

type fakeSubscriber struct{ email string }

func (f *fakeSubscriber) Subscribe(_ context.Context, email, _ string) error {
	f.email = email
	return nil
}

type testEnv struct {
	app      *fiber.App
	store    *sqlite.Client
	auditor  *fakeAuditor
	enqueuer *fakeEnqueuer
	runner   *recordingRunner
	sender   *recordingSender
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, configure func(*config.ServerConfig)) *testEnv {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema(context.Background()))

	cfg := &config.Config{
		Server: config.ServerConfig{
			AdminPath:          "secret-admin",
			AllowedOrigins:     []string{"https://missbott.online"},
			CSRFTrustedOrigins: []string{"https://missbott.online"},
			PublicRateLimit:    100,
			BodyLimit:          1 << 20,
		},
		N8N: config.N8NConfig{APIKey: n8nKey},
	}
	if configure != nil {
		configure(&cfg.Server)
	}

	authManager := staffauth.NewManager("jwt-secret", time.Hour, "admin", "")
	token, err := authManager.GenerateToken("admin")
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		auditor:  &fakeAuditor{},
		enqueuer: &fakeEnqueuer{},
		runner:   &recordingRunner{},
		sender:   &recordingSender{},
		token:    token,
	}

	persona := mail.Persona{Name: "Miss Bott", Title: "Consultant", Email: "dev@missbott.online", Website: "https://missbott.online"}
	app, stop := NewRouter(Deps{
		Config:     cfg,
		Store:      store,
		Auditor:    env.auditor,
		Enqueuer:   env.enqueuer,
		Analyzer:   noopAnalyzer{},
		Actions:    leads.NewApprover(store, env.sender, persona, "https://book.example"),
		Runner:     env.runner,
		Notifier:   handlers.NewNotifier(env.sender, "owner@missbott.online", env.runner),
		Subscriber: &fakeSubscriber{},
		Auth:       authManager,
		Checks:     map[string]handlers.Pinger{"sqlite": store},
	})
	t.Cleanup(stop)
	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (e *testEnv) staff() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func TestN8NAudit_WrongKeyIsRejectedWithoutWork(t *testing.T) {
	env := newTestEnv(t)

	for _, headers := range []map[string]string{nil, {"X-N8N-KEY": "wrong"}} {
		status, _ := env.do(t, http.MethodPost, "/api/n8n/run-audit/", map[string]string{"url": "https://example.com"}, headers)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	}

	assert.Zero(t, env.enqueuer.calls)
	assert.Zero(t, env.auditor.calls)
}

func TestN8NAudit_KeyCheckedBeforeOrigin(t *testing.T) {
	env := newTestEnv(t)
	untrusted := map[string]string{"Origin": "https://evil.example", "X-N8N-KEY": "wrong"}

	status, _ := env.do(t, http.MethodPost, "/api/n8n/run-audit/", map[string]string{"url": "https://example.com"}, untrusted)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Zero(t, env.enqueuer.calls)

	untrusted["X-N8N-KEY"] = n8nKey
	status, _ = env.do(t, http.MethodPost, "/api/n8n/run-audit/", map[string]string{"url": "https://example.com"}, untrusted)
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, 1, env.enqueuer.calls)
}

func TestN8NAudit_QueuedWithCorrectKey(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/n8n/run-audit/", map[string]string{"url": "https://example.com"}, map[string]string{"X-N8N-KEY": n8nKey})
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, map[string]any{"status": "queued", "url": "https://example.com"}, body)
	assert.Equal(t, 1, env.enqueuer.calls)
	assert.Zero(t, env.auditor.calls)
}

func TestN8NAudit_EnqueueFailureReturns200WithError(t *testing.T) {
	env := newTestEnv(t)
	env.enqueuer.err = errors.New("redis unavailable")

	status, body := env.do(t, http.MethodPost, "/api/n8n/run-audit/", map[string]string{"url": "https://example.com"}, map[string]string{"X-N8N-KEY": n8nKey})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "redis unavailable", body["error"])
}

func TestRunAudit_RequiresStaffAndPersists(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/run-audit/", map[string]string{"url": "https://example.com"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := env.do(t, http.MethodPost, "/api/run-audit/", map[string]string{"url": "https://example.com"}, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "example.com", body["domain"])
	assert.Contains(t, body, "technical_data")
	assert.Equal(t, "Subject: Quick wins for example.com", body["email_draft"])

	id := int64(body["audit_id"].(float64))
	stored, err := env.store.GetAudit(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored.PerformanceScore)
	assert.Equal(t, 71, *stored.PerformanceScore)

	status, body = env.do(t, http.MethodGet, "/api/secret-admin/audits", nil, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["results"], 1)
}

func TestRunAudit_Errors(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/run-audit/", map[string]string{"url": "not a url"}, env.staff())
	assert.Equal(t, fiber.StatusBadRequest, status)

	env.auditor.err = errors.New("boom")
	status, body := env.do(t, http.MethodPost, "/api/run-audit/", map[string]string{"url": "https://example.com"}, env.staff())
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "boom", body["error"])
}

func TestAdminAudit_NotFoundAndRerun(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/api/secret-admin/audits/42", nil, env.staff())
	assert.Equal(t, fiber.StatusNotFound, status)

	_, body := env.do(t, http.MethodPost, "/api/run-audit/", map[string]string{"url": "https://example.com"}, env.staff())
	id := int64(body["audit_id"].(float64))

	status, body = env.do(t, http.MethodPost, "/api/secret-admin/audits/"+strconv.FormatInt(id, 10)+"/rerun", nil, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(id), body["id"])
	assert.Equal(t, 2, env.auditor.calls)
}

func validInquiry() map[string]any {
	return map[string]any{
		"name":            "Ada Lovelace",
		"email":           "ada@example.com",
		"company":         "Analytical Engines",
		"budget_range":    "10k_plus",
		"timeline":        "1_month",
		"project_details": "Headless commerce rebuild with a Django API.",
	}
}

func TestCreateInquiry_SchedulesBackgroundWork(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/service-inquiry/", validInquiry(), nil)
	require.Equal(t, fiber.StatusCreated, status)
	id := int64(body["id"].(float64))

	assert.ElementsMatch(t, []string{"notification_email", "lead_analysis"}, env.runner.names())

	inq, err := env.store.GetInquiry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, inq.Status)

	for _, task := range env.runner.tasks {
		require.NoError(t, task.Run(context.Background()))
	}
	require.Len(t, env.sender.sent, 1)
	assert.Equal(t, []string{"owner@missbott.online"}, env.sender.sent[0].To)
	assert.Equal(t, "ada@example.com", env.sender.sent[0].ReplyTo)
	assert.Equal(t, "New Project Inquiry: Ada Lovelace (Analytical Engines)", env.sender.sent[0].Subject)
}

func TestCreateInquiry_Validation(t *testing.T) {
	env := newTestEnv(t)

	req := validInquiry()
	req["email"] = "nope"
	req["budget_range"] = "a lot"
	status, body := env.do(t, http.MethodPost, "/api/service-inquiry/", req, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "budget_range")
	assert.Empty(t, env.runner.names())

	req = validInquiry()
	req["service"] = 999
	status, body = env.do(t, http.MethodPost, "/api/service-inquiry/", req, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["fields"], "service")
}

func TestPublicPost_UntrustedOriginRejected(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/contact/", map[string]string{
		"name": "Eve", "email": "eve@example.com", "message": "hi",
	}, map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, "/api/contact/", map[string]string{
		"name": "Bob", "email": "bob@example.com", "message": "hi",
	}, map[string]string{"Origin": "https://missbott.online"})
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, []string{"notification_email"}, env.runner.names())
}

func TestApproveInquiries_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/service-inquiry/", validInquiry(), nil)
	id := body["id"].(float64)

	status, body := env.do(t, http.MethodPatch, "/api/secret-admin/inquiries/"+strconv.FormatInt(int64(id), 10), map[string]string{"ai_email_draft": "Hi Ada,\n\nLet's talk."}, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Hi Ada,\n\nLet's talk.", body["ai_email_draft"])

	status, body = env.do(t, http.MethodPost, "/api/secret-admin/inquiries/approve", map[string]any{"ids": []float64{id}}, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1 email sent.", body["message"])

	status, body = env.do(t, http.MethodPost, "/api/secret-admin/inquiries/approve", map[string]any{"ids": []float64{id}}, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "0 emails sent, 1 skipped.", body["message"])

	require.Len(t, env.sender.sent, 1)
	assert.Equal(t, "Your Project Inquiry - Next Steps", env.sender.sent[0].Subject)

	status, body = env.do(t, http.MethodGet, "/api/secret-admin/inquiries?status=approved", nil, env.staff())
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["results"], 1)
}

func TestServicesAndNewsletter(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/secret-admin/services", map[string]any{"name": "Headless Commerce"}, env.staff())
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "headless-commerce", body["slug"])

	req := httptest.NewRequest(http.MethodGet, "/api/services/", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	var services []models.Service
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&services))
	require.Len(t, services, 1)
	assert.Equal(t, "Headless Commerce", services[0].Name)

	status, _ = env.do(t, http.MethodPost, "/api/newsletter/", map[string]string{"email": "reader@example.com"}, nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestLoginAndHealth(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "x"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := env.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = env.do(t, http.MethodGet, "/api/ready", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"sqlite": "ok"}, body["checks"])
}

func TestPublicRateLimit_KeysOnProxyHeader(t *testing.T) {
	env := newTestEnvWith(t, func(s *config.ServerConfig) {
		s.PublicRateLimit = 1
		s.ProxyHeader = fiber.HeaderXForwardedFor
	})

	subscribe := func(ip, email string) int {
		status, _ := env.do(t, http.MethodPost, "/api/newsletter/", map[string]string{"email": email},
			map[string]string{fiber.HeaderXForwardedFor: ip})
		return status
	}

	assert.Equal(t, fiber.StatusOK, subscribe("203.0.113.10", "a@example.com"))
	assert.Equal(t, fiber.StatusTooManyRequests, subscribe("203.0.113.10", "b@example.com"))
	assert.Equal(t, fiber.StatusOK, subscribe("203.0.113.11", "c@example.com"))
}
