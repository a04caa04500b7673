package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/llm"
	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/pkg/logger"
	"github.com/missbott/backend/pkg/retry"
)

const draftErrorPrefix = "ERROR:"

// EmailDrafter writes the outreach email for an audited site. Failures are
// reported in-band as an "ERROR:" string so the report is always complete.
type EmailDrafter interface {
	Draft(ctx context.Context, pageURL string, data TechnicalData) string
}

type DrafterConfig struct {
	Attempts    int
	Timeout     time.Duration
	Temperature float32
	RetryDelay  time.Duration
}

type Drafter struct {
	llm     llm.Completer
	persona mail.Persona
	cfg     DrafterConfig
}

func NewDrafter(completer llm.Completer, persona mail.Persona, cfg DrafterConfig) *Drafter {
	if cfg.Attempts == 0 {
		cfg.Attempts = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &Drafter{llm: completer, persona: persona, cfg: cfg}
}

// IsDraftError reports whether draft is a failure sentinel rather than an email.
func IsDraftError(draft string) bool {
	return strings.HasPrefix(draft, draftErrorPrefix)
}

func (d *Drafter) Draft(ctx context.Context, pageURL string, data TechnicalData) string {
	if d.llm == nil || !d.llm.Configured() {
		return draftErrorPrefix + " OpenAI API Key not found. Please check your configuration."
	}

	prompt := d.buildPrompt(pageURL, data)

	content, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  d.cfg.Attempts,
		InitialDelay: d.cfg.RetryDelay,
		MaxDelay:     d.cfg.RetryDelay,
		Logger:       logger.GetLogger(),
	}, func() (string, error) {
		resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
			UserPrompt:  prompt,
			Temperature: d.cfg.Temperature,
			Timeout:     d.cfg.Timeout,
			Purpose:     "outreach_email",
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
	if err != nil {
		logger.Warn("Outreach email generation failed",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return fmt.Sprintf("%s OpenAI request failed after retries: %v", draftErrorPrefix, err)
	}

	return content
}

func (d *Drafter) buildPrompt(pageURL string, data TechnicalData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a high-end %s. You do not sell \"bug fixes\"; you sell high-performance digital transformations starting at €6,000.\n\n", d.persona.Name, d.persona.Title)
	fmt.Fprintf(&b, "Write a cold outreach email to a business owner based on this audit of their website: %s\n\n", pageURL)

	b.WriteString("**Audit Findings:**\n")
	fmt.Fprintf(&b, "- SSL/Security: %s\n", findingJSON(data.SSL))
	fmt.Fprintf(&b, "- Performance: %s\n", findingJSON(data.Lighthouse))
	fmt.Fprintf(&b, "- Health: %s\n\n", findingJSON(data.Health))

	b.WriteString(`**The Strategy (The "Why"):**
- Treat these errors not as "small bugs" but as "symptoms of Technical Debt" caused by their current platform (likely WordPress).
- Do NOT offer to "fix the links."
- Explain that their current site is a liability (slow, insecure, leaking leads).
- Propose a "Strategic Migration": rebuilding the site on a modern, custom architecture to permanently solve these issues while preserving their brand and content.

**Email Structure:**
1. **Subject:** tailored to the most critical error (e.g., "Strategic concern regarding [Domain] performance")
2. **The Hook:** Professional and concise. You analyzed their site as part of your market research.
3. **The Diagnosis:** Reveal the data. Be direct. "Your site is scoring X. This indicates the underlying platform is struggling to scale."
4. **The Pivot:** "Most agencies would offer to patch these errors for a fee. I advise against that. It's a temporary fix for a structural problem."
5. **The Solution:** Mention your premium service: a complete migration to a custom, high-speed stack.
6. **The CTA:** Invite them for a "15-minute Strategy Review" to walk through the report. No sales pressure, just expert advice.

**Tone:** authoritative, sophisticated, expensive, yet helpful. Like a doctor giving a diagnosis.

**Signature Requirements:**
- Always sign the email as:
`)
	b.WriteString(d.persona.Signature())
	b.WriteString("\n- The signature must appear exactly in this format at the end of the email.\n")

	return b.String()
}

func findingJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
