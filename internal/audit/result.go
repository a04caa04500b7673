package audit

import (
	"encoding/json"
)

const (
	StatusGood     = "Good"
	StatusCritical = "Critical"
	StatusError    = "Error"
	StatusMissing  = "Missing"

	ViewportMissing = "Missing (Critical for Mobile)"
	VitalsUnknown   = "Unavailable"
)

// SSLResult is the certificate probe outcome. On failure only Error and
// Status ("Error") are reported.
type SSLResult struct {
	DaysRemaining int    `json:"days_remaining"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

func (r SSLResult) Failed() bool { return r.Error != "" }

func (r SSLResult) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(struct {
			Error  string `json:"error"`
			Status string `json:"status"`
		}{r.Error, StatusError})
	}
	return json.Marshal(struct {
		DaysRemaining int    `json:"days_remaining"`
		Status        string `json:"status"`
	}{r.DaysRemaining, r.Status})
}

// LighthouseResult holds PageSpeed category scores (0..100).
type LighthouseResult struct {
	PerformanceScore   int    `json:"performance_score"`
	AccessibilityScore int    `json:"accessibility_score"`
	SEOScore           int    `json:"seo_score"`
	CoreWebVitals      string `json:"core_web_vitals"`
	Error              string `json:"error,omitempty"`
}

func (r LighthouseResult) Failed() bool { return r.Error != "" }

func (r LighthouseResult) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return errorOnly(r.Error)
	}
	type plain LighthouseResult
	return json.Marshal(plain(r))
}

type HealthResult struct {
	TitleTag           string   `json:"title_tag"`
	MetaDescription    string   `json:"meta_description"`
	H1Tag              string   `json:"h1_tag"`
	MobileViewport     string   `json:"mobile_viewport"`
	BrokenLinksFound   int      `json:"broken_links_found"`
	BrokenLinkExamples []string `json:"broken_link_examples"`
	Error              string   `json:"error,omitempty"`
}

func (r HealthResult) Failed() bool { return r.Error != "" }

func (r HealthResult) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return errorOnly(r.Error)
	}
	type plain HealthResult
	p := plain(r)
	if p.BrokenLinkExamples == nil {
		p.BrokenLinkExamples = []string{}
	}
	return json.Marshal(p)
}

func errorOnly(msg string) ([]byte, error) {
	return json.Marshal(struct {
		Error string `json:"error"`
	}{msg})
}

// TechnicalData is stored verbatim as a site audit's audit_data.
type TechnicalData struct {
	SSL        SSLResult        `json:"ssl"`
	Lighthouse LighthouseResult `json:"lighthouse"`
	Health     HealthResult     `json:"health"`
}

type Result struct {
	URL           string        `json:"url"`
	Domain        string        `json:"domain"`
	TechnicalData TechnicalData `json:"technical_data"`
	EmailDraft    string        `json:"email_draft"`
}
