package audit

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

const (
	StepSSL        = "ssl"
	StepLighthouse = "lighthouse"
	StepHealth     = "health"
	StepEmail      = "email"
)

// ProgressFunc receives each probe's result as soon as it is available.
type ProgressFunc func(step string, payload any)

// Auditor runs the probes for one site in a fixed order: SSL, performance,
// page health, then the outreach email. A failing probe never stops the others.
type Auditor struct {
	ssl     SSLChecker
	perf    PerformanceProbe
	health  HealthProbe
	drafter EmailDrafter
}

func NewAuditor(ssl SSLChecker, perf PerformanceProbe, health HealthProbe, drafter EmailDrafter) *Auditor {
	return &Auditor{
		ssl:     ssl,
		perf:    perf,
		health:  health,
		drafter: drafter,
	}
}

func (a *Auditor) Run(ctx context.Context, pageURL string) (*Result, error) {
	return a.RunWithProgress(ctx, pageURL, nil)
}

func (a *Auditor) RunWithProgress(ctx context.Context, pageURL string, progress ProgressFunc) (*Result, error) {
	// A target without a scheme has no host; each check then reports its own error.
	var domain string
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Host
	}

	if progress == nil {
		progress = func(string, any) {}
	}

	start := time.Now()
	result := &Result{URL: pageURL, Domain: domain}
	data := &result.TechnicalData

	logger.Info("Starting site audit", zap.String("url", pageURL))

	data.SSL = timeProbe(StepSSL, func() SSLResult { return a.ssl.Check(ctx, domain) }, SSLResult.Failed)
	progress(StepSSL, data.SSL)

	data.Lighthouse = timeProbe(StepLighthouse, func() LighthouseResult { return a.perf.Run(ctx, pageURL) }, LighthouseResult.Failed)
	progress(StepLighthouse, data.Lighthouse)

	data.Health = timeProbe(StepHealth, func() HealthResult { return a.health.Check(ctx, pageURL) }, HealthResult.Failed)
	progress(StepHealth, data.Health)

	result.EmailDraft = timeProbe(StepEmail, func() string { return a.drafter.Draft(ctx, pageURL, *data) }, IsDraftError)
	progress(StepEmail, result.EmailDraft)

	elapsed := time.Since(start)
	metrics.AuditDuration.Observe(elapsed.Seconds())

	logger.Info("Site audit finished",
		zap.String("url", pageURL),
		zap.Bool("ssl_ok", !data.SSL.Failed()),
		zap.Bool("lighthouse_ok", !data.Lighthouse.Failed()),
		zap.Bool("health_ok", !data.Health.Failed()),
		zap.Bool("draft_ok", !IsDraftError(result.EmailDraft)),
		zap.Duration("duration", elapsed),
	)

	return result, nil
}

func timeProbe[T any](name string, probe func() T, failed func(T) bool) T {
	start := time.Now()
	out := probe()
	metrics.ProbeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if failed(out) {
		metrics.ProbeFailures.WithLabelValues(name).Inc()
	}
	return out
}
