package leads

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"

	MinScore = 1
	MaxScore = 10
)

var ErrInvalidAnalysis = errors.New("invalid lead analysis")

// LeadAnalysis is the validated model response for one inquiry.
type LeadAnalysis struct {
	Summary           string
	Score             int
	RedFlags          []string
	RecommendedAction string
	EmailDraft        string
}

// wireAnalysis uses pointers so absent keys can be told apart from zero values.
type wireAnalysis struct {
	Summary           *string  `json:"summary"`
	Score             *float64 `json:"score"`
	RedFlags          []string `json:"red_flags"`
	RecommendedAction *string  `json:"recommended_action"`
	EmailDraft        *string  `json:"email_draft"`
}

// ParseLeadAnalysis decodes and validates a JSON-mode completion. red_flags may
// be omitted; every other field is required.
func ParseLeadAnalysis(content string) (*LeadAnalysis, error) {
	var w wireAnalysis
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidAnalysis, err)
	}

	var missing []string
	if w.Summary == nil || strings.TrimSpace(*w.Summary) == "" {
		missing = append(missing, "summary")
	}
	if w.Score == nil {
		missing = append(missing, "score")
	}
	if w.RecommendedAction == nil {
		missing = append(missing, "recommended_action")
	}
	if w.EmailDraft == nil {
		missing = append(missing, "email_draft")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidAnalysis, strings.Join(missing, ", "))
	}

	score := *w.Score
	if score != math.Trunc(score) || score < MinScore || score > MaxScore {
		return nil, fmt.Errorf("%w: score %v outside %d..%d", ErrInvalidAnalysis, score, MinScore, MaxScore)
	}

	action := strings.ToUpper(strings.TrimSpace(*w.RecommendedAction))
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: unknown recommended_action %q", ErrInvalidAnalysis, *w.RecommendedAction)
	}

	flags := make([]string, 0, len(w.RedFlags))
	for _, f := range w.RedFlags {
		if f = strings.TrimSpace(f); f != "" {
			flags = append(flags, f)
		}
	}

	return &LeadAnalysis{
		Summary:           strings.TrimSpace(*w.Summary),
		Score:             int(score),
		RedFlags:          flags,
		RecommendedAction: action,
		EmailDraft:        *w.EmailDraft,
	}, nil
}

// RawSummary renders the analysis block stored alongside the score.
func (a *LeadAnalysis) RawSummary() string {
	return fmt.Sprintf("Action: %s\nFlags: %s", a.RecommendedAction, strings.Join(a.RedFlags, ", "))
}
