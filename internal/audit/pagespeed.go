package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/circuitbreaker"
	"github.com/missbott/backend/pkg/logger"
)

const DefaultPageSpeedEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

var pageSpeedCategories = []string{"performance", "accessibility", "seo"}

// PerformanceProbe produces the lighthouse section of a report.
type PerformanceProbe interface {
	Run(ctx context.Context, pageURL string) LighthouseResult
}

// PageSpeedCache stores successful PageSpeed results per audited URL.
type PageSpeedCache interface {
	GetPageSpeed(ctx context.Context, pageURL string) (*LighthouseResult, bool, error)
	SetPageSpeed(ctx context.Context, pageURL string, result LighthouseResult, ttl time.Duration) error
}

type PageSpeedConfig struct {
	APIKey   string
	Endpoint string
	Strategy string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type PageSpeedClient struct {
	cfg        PageSpeedConfig
	httpClient *http.Client
	cache      PageSpeedCache
	cb         *circuitbreaker.CircuitBreaker
}

type apiStatusError struct {
	code int
	body string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("Google API Failed: %d - %s", e.code, e.body)
}

type pageSpeedResponse struct {
	LighthouseResult struct {
		Categories map[string]struct {
			Score *float64 `json:"score"`
		} `json:"categories"`
	} `json:"lighthouseResult"`
	LoadingExperience struct {
		OverallCategory string `json:"overall_category"`
	} `json:"loadingExperience"`
}

// NewPageSpeedClient builds the hosted performance probe. cache may be nil.
func NewPageSpeedClient(cfg PageSpeedConfig, cache PageSpeedCache) *PageSpeedClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPageSpeedEndpoint
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "mobile"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("pagespeed", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
		// Client errors (bad URL, quota) say nothing about upstream health.
		IsFailure: func(err error) bool {
			var statusErr *apiStatusError
			if errors.As(err, &statusErr) {
				return statusErr.code >= http.StatusInternalServerError
			}
			return err != nil
		},
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &PageSpeedClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		cb:         cb,
	}
}

func (c *PageSpeedClient) Run(ctx context.Context, pageURL string) LighthouseResult {
	if c.cfg.APIKey == "" {
		return LighthouseResult{Error: "Missing GOOGLE_PAGESPEED_KEY in configuration"}
	}

	if c.cache != nil {
		cached, found, err := c.cache.GetPageSpeed(ctx, pageURL)
		if err != nil {
			logger.Warn("PageSpeed cache lookup failed", zap.Error(err))
		} else if found {
			metrics.CacheHits.WithLabelValues("pagespeed").Inc()
			return *cached
		}
		metrics.CacheMisses.WithLabelValues("pagespeed").Inc()
	}

	var result LighthouseResult
	err := c.cb.Execute(ctx, func() error {
		var err error
		result, err = c.fetch(ctx, pageURL)
		return err
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			logger.Warn("PageSpeed call skipped", zap.String("breaker", c.cb.Name()), zap.String("url", pageURL))
		}
		var statusErr *apiStatusError
		if errors.As(err, &statusErr) {
			return LighthouseResult{Error: statusErr.Error()}
		}
		return LighthouseResult{Error: fmt.Sprintf("Audit failed: %v", err)}
	}

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if err := c.cache.SetPageSpeed(ctx, pageURL, result, c.cfg.CacheTTL); err != nil {
			logger.Warn("Failed to cache PageSpeed result", zap.Error(err))
		}
	}

	return result
}

func (c *PageSpeedClient) fetch(ctx context.Context, pageURL string) (LighthouseResult, error) {
	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("key", c.cfg.APIKey)
	params.Set("strategy", c.cfg.Strategy)
	for _, category := range pageSpeedCategories {
		params.Add("category", category)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return LighthouseResult{}, fmt.Errorf("failed to build request: %w", err)
	}

	logger.Debug("Requesting PageSpeed audit", zap.String("url", pageURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LighthouseResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return LighthouseResult{}, &apiStatusError{code: resp.StatusCode, body: truncateRunes(string(body), 100)}
	}

	var payload pageSpeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return LighthouseResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	vitals := payload.LoadingExperience.OverallCategory
	if vitals == "" {
		vitals = VitalsUnknown
	}

	categories := payload.LighthouseResult.Categories
	score := func(name string) int {
		c, ok := categories[name]
		if !ok || c.Score == nil {
			return 0
		}
		return int(*c.Score * 100)
	}

	return LighthouseResult{
		PerformanceScore:   score("performance"),
		AccessibilityScore: score("accessibility"),
		SEOScore:           score("seo"),
		CoreWebVitals:      vitals,
	}, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
