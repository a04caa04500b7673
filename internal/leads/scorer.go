package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/llm"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/tasks"
	"github.com/missbott/backend/pkg/logger"
)

var ErrAlreadyAnalyzed = errors.New("inquiry already analyzed")

// InquiryStore is the persistence the scorer needs.
type InquiryStore interface {
	GetInquiry(ctx context.Context, id int64) (*models.ServiceInquiry, error)
	SaveLeadAnalysis(ctx context.Context, id int64, a models.LeadAnalysisUpdate) (bool, error)
}

type ScorerConfig struct {
	Temperature float32
	Timeout     time.Duration
}

type Scorer struct {
	store InquiryStore
	llm   llm.Completer
	cfg   ScorerConfig
	log   *zap.Logger
}

func NewScorer(store InquiryStore, completer llm.Completer, cfg ScorerConfig) *Scorer {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Scorer{
		store: store,
		llm:   completer,
		cfg:   cfg,
		log:   logger.Named("leads.scorer"),
	}
}

const screenerSystemPrompt = `You are 'Miss Bott', a premium technical consultant specializing in custom React, Django, and Headless Commerce architectures.

Task 1: Evaluate the lead (Score 1-10).
Task 2: Write a HYPER-PERSONALIZED email draft to the client.
Task 3: Identify any red flags.

Scoring Criteria (1-10):
- 8-10 (Ideal): Budget > €6,000, specifically asks for React/Django/API work, clearly defined business goal (B2B/SaaS/E-commerce).
- 5-7 (Maybe): Budget unclear but project sounds complex/interesting. Good technical literacy.
- 1-4 (Avoid): Budget < €3,000, asking for Wordpress/Wix, vague "I need a website" requests, poor spelling/effort.

Email Draft Instructions:
- Tone: Professional, authoritative, yet warm.
- If Score > 6: Write an invitation. Reference their SPECIFIC project details. Prove you read it.
- If Score < 6: Write a polite decline (fully booked).
- Do NOT include the booking link or sign-off (the system adds these). Just the body.

Output JSON:
{
  "summary": "Executive summary...",
  "score": integer,
  "red_flags": [],
  "recommended_action": "APPROVE" or "REJECT",
  "email_draft": "Hi [Name],\n\n[Body text referencing their specific project needs...]"
}`

// Analyze scores one inquiry and stores the result. The row is left untouched
// on any failure so the analysis can be retried.
func (s *Scorer) Analyze(ctx context.Context, inquiryID int64) error {
	inq, err := s.store.GetInquiry(ctx, inquiryID)
	if err != nil {
		return fmt.Errorf("failed to load inquiry %d: %w", inquiryID, err)
	}

	if inq.IsAnalyzed {
		metrics.LeadAnalyses.WithLabelValues("skipped").Inc()
		return ErrAlreadyAnalyzed
	}

	analysis, err := s.score(ctx, inq)
	if err != nil {
		metrics.LeadAnalyses.WithLabelValues("failed").Inc()
		s.log.Error("AI analysis failed", zap.Int64("inquiry_id", inquiryID), zap.Error(err))
		return err
	}

	saved, err := s.store.SaveLeadAnalysis(ctx, inquiryID, models.LeadAnalysisUpdate{
		Summary:    analysis.Summary,
		Score:      analysis.Score,
		Raw:        analysis.RawSummary(),
		EmailDraft: analysis.EmailDraft,
	})
	if err != nil {
		metrics.LeadAnalyses.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to store analysis for inquiry %d: %w", inquiryID, err)
	}
	if !saved {
		metrics.LeadAnalyses.WithLabelValues("skipped").Inc()
		return ErrAlreadyAnalyzed
	}

	metrics.LeadAnalyses.WithLabelValues("analyzed").Inc()
	metrics.LeadScores.Observe(float64(analysis.Score))

	s.log.Info("Lead analyzed",
		zap.Int64("inquiry_id", inquiryID),
		zap.Int("score", analysis.Score),
		zap.String("action", analysis.RecommendedAction),
		zap.Int("red_flags", len(analysis.RedFlags)),
	)

	return nil
}

func (s *Scorer) score(ctx context.Context, inq *models.ServiceInquiry) (*LeadAnalysis, error) {
	if s.llm == nil || !s.llm.Configured() {
		return nil, llm.ErrNotConfigured
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: screenerSystemPrompt,
		UserPrompt:   leadMessage(inq),
		Temperature:  s.cfg.Temperature,
		Timeout:      s.cfg.Timeout,
		JSONMode:     true,
		Purpose:      "lead_analysis",
	})
	if err != nil {
		return nil, err
	}

	return ParseLeadAnalysis(resp.Content)
}

func leadMessage(inq *models.ServiceInquiry) string {
	service := inq.ServiceName
	if service == "" {
		service = "General"
	}

	var b strings.Builder
	b.WriteString("Analyze this lead:\n")
	fmt.Fprintf(&b, "Name: %s\n", inq.Name)
	fmt.Fprintf(&b, "Email: %s\n", inq.Email)
	fmt.Fprintf(&b, "Company: %s\n", inq.Company)
	fmt.Fprintf(&b, "Budget: %s\n", inq.BudgetLabel())
	fmt.Fprintf(&b, "Timeline: %s\n", inq.TimelineLabel())
	fmt.Fprintf(&b, "Service Interest: %s\n", service)
	fmt.Fprintf(&b, "Project Details: %s\n", inq.ProjectDetails)
	return b.String()
}

// Analyzer scores a stored inquiry.
type Analyzer interface {
	Analyze(ctx context.Context, inquiryID int64) error
}

// AnalysisTask wraps Analyze for the background runner, keyed per inquiry so
// the same inquiry is never scored twice at once.
func AnalysisTask(s Analyzer, inquiryID int64) tasks.Task {
	return tasks.Task{
		Name: "lead_analysis",
		Key:  fmt.Sprintf("lead_analysis:%d", inquiryID),
		Run: func(ctx context.Context) error {
			err := s.Analyze(ctx, inquiryID)
			if errors.Is(err, ErrAlreadyAnalyzed) {
				return nil
			}
			return err
		},
	}
}
