package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AuditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_audits_total",
			Help: "Site audits run, by entry point and outcome",
		},
		[]string{"source", "status"},
	)

	AuditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_audit_duration_seconds",
			Help:    "End-to-end site audit duration in seconds",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolio_probe_duration_seconds",
			Help:    "Duration of individual audit probes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"probe"},
	)

	ProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_probe_failures_total",
			Help: "Audit probes that reported an inline error",
		},
		[]string{"probe"},
	)

	BrokenLinksFound = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_broken_links_found",
			Help:    "Broken same-domain links found per crawl",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_llm_requests_total",
			Help: "Chat completion calls by purpose and outcome",
		},
		[]string{"purpose", "status"},
	)

	LeadScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_lead_score",
			Help:    "Lead scores assigned by the AI screener",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	LeadAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_lead_analyses_total",
			Help: "Lead analyses by outcome",
		},
		[]string{"status"},
	)

	Approvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_inquiry_approvals_total",
			Help: "Inquiry approval outcomes",
		},
		[]string{"result"},
	)

	BackgroundTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_background_tasks_total",
			Help: "In-process background tasks by name and outcome",
		},
		[]string{"task", "status"},
	)

	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_queue_jobs_total",
			Help: "Durable audit jobs by outcome",
		},
		[]string{"status"},
	)

	QueueBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portfolio_queue_backlog",
			Help: "Audit stream length and unacknowledged jobs",
		},
		[]string{"state"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_emails_sent_total",
			Help: "Outbound emails by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portfolio_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AuditsTotal,
			AuditDuration,
			ProbeDuration,
			ProbeFailures,
			BrokenLinksFound,
			LLMTokensUsed,
			LLMRequests,
			LeadScores,
			LeadAnalyses,
			Approvals,
			BackgroundTasks,
			QueueJobs,
			QueueBacklog,
			CacheHits,
			CacheMisses,
			EmailsSent,
			CircuitState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
