package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const maxBrokenExamples = 3

// HealthProbe crawls a homepage for on-page basics and broken internal links.
type HealthProbe interface {
	Check(ctx context.Context, pageURL string) HealthResult
}

type CrawlerConfig struct {
	Timeout     time.Duration
	LinkTimeout time.Duration
	MaxLinks    int
	Workers     int
	UserAgent   string
}

type Crawler struct {
	cfg        CrawlerConfig
	client     *http.Client
	linkClient *http.Client
}

func NewCrawler(cfg CrawlerConfig) *Crawler {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.LinkTimeout == 0 {
		cfg.LinkTimeout = 5 * time.Second
	}
	if cfg.MaxLinks == 0 {
		cfg.MaxLinks = 20
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = browserUserAgent
	}

	return &Crawler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		// A redirect is a valid link; only the first response status counts.
		linkClient: &http.Client{
			Timeout: cfg.LinkTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Crawler) Check(ctx context.Context, pageURL string) HealthResult {
	base, err := url.Parse(pageURL)
	if err != nil {
		return HealthResult{Error: fmt.Sprintf("Crawl failed: %v", err)}
	}

	doc, err := c.fetch(ctx, pageURL)
	if err != nil {
		return HealthResult{Error: fmt.Sprintf("Crawl failed: %v", err)}
	}

	result := HealthResult{
		TitleTag:        presence(strings.TrimSpace(doc.Find("title").First().Text()) != ""),
		MetaDescription: presence(strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")) != ""),
		H1Tag:           presence(doc.Find("h1").Length() > 0),
		MobileViewport:  StatusGood,
	}
	if doc.Find(`meta[name="viewport"]`).Length() == 0 {
		result.MobileViewport = ViewportMissing
	}

	links := internalLinks(doc, base)
	if len(links) > c.cfg.MaxLinks {
		links = links[:c.cfg.MaxLinks]
	}

	broken := c.checkLinks(ctx, links)
	metrics.BrokenLinksFound.Observe(float64(len(broken)))

	result.BrokenLinksFound = len(broken)
	if len(broken) > maxBrokenExamples {
		broken = broken[:maxBrokenExamples]
	}
	result.BrokenLinkExamples = broken

	return result
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return goquery.NewDocumentFromReader(resp.Body)
}

// internalLinks returns unique http(s) links on the audited host, in document order.
func internalLinks(doc *goquery.Document, base *url.URL) []string {
	host := strings.ToLower(base.Hostname())
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if strings.ToLower(resolved.Hostname()) != host {
			return
		}

		target := resolved.String()
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		links = append(links, target)
	})

	return links
}

// checkLinks HEADs each link with bounded concurrency and returns the broken ones sorted.
func (c *Crawler) checkLinks(ctx context.Context, links []string) []string {
	var (
		mu     sync.Mutex
		broken []string
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.Workers)

	for _, link := range links {
		link := link
		g.Go(func() error {
			if status := c.linkStatus(ctx, link); status >= http.StatusBadRequest {
				mu.Lock()
				broken = append(broken, link)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(broken)
	return broken
}

// linkStatus reports 500 for any transport failure.
func (c *Crawler) linkStatus(ctx context.Context, link string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return http.StatusInternalServerError
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.linkClient.Do(req)
	if err != nil {
		logger.Debug("Link check failed", zap.String("link", link), zap.Error(err))
		return http.StatusInternalServerError
	}
	resp.Body.Close()

	return resp.StatusCode
}

func presence(ok bool) string {
	if ok {
		return StatusGood
	}
	return StatusMissing
}
