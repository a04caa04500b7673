package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/pkg/logger"
	"github.com/missbott/backend/pkg/retry"
	"github.com/missbott/backend/pkg/utils"
)

type MailchimpConfig struct {
	APIKey     string
	DataCenter string
	AudienceID string
	// BaseURL overrides https://<dc>.api.mailchimp.com/3.0.
	BaseURL string
	Timeout time.Duration
}

// Mailchimp upserts newsletter subscribers into one audience.
type Mailchimp struct {
	cfg        MailchimpConfig
	httpClient *http.Client
}

type mailchimpError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func NewMailchimp(cfg MailchimpConfig) *Mailchimp {
	if cfg.DataCenter == "" {
		// API keys end in "-<dc>", e.g. "abc123-us21".
		if i := strings.LastIndex(cfg.APIKey, "-"); i >= 0 {
			cfg.DataCenter = cfg.APIKey[i+1:]
		}
	}
	if cfg.BaseURL == "" && cfg.DataCenter != "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", cfg.DataCenter)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailchimp{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (m *Mailchimp) Configured() bool {
	return m.cfg.APIKey != "" && m.cfg.AudienceID != "" && m.cfg.BaseURL != ""
}

// Subscribe adds email to the audience, or leaves an existing member's status alone.
func (m *Mailchimp) Subscribe(ctx context.Context, email, firstName string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"email_address": strings.TrimSpace(email),
		"status_if_new": "subscribed",
	}
	if firstName != "" {
		payload["merge_fields"] = map[string]string{"FNAME": firstName}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber: %w", err)
	}

	endpoint := fmt.Sprintf("%s/lists/%s/members/%s", m.cfg.BaseURL, m.cfg.AudienceID, utils.SubscriberHash(email))

	cfg := retry.DefaultConfig()
	cfg.Logger = logger.GetLogger()

	err = retry.Do(ctx, cfg, func() error {
		return m.put(ctx, endpoint, body)
	})
	if err != nil {
		logger.Warn("Mailchimp subscribe failed", zap.Error(err))
		return err
	}

	logger.Info("Newsletter subscriber upserted", zap.String("audience", m.cfg.AudienceID))
	return nil
}

func (m *Mailchimp) put(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("anystring", m.cfg.APIKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailchimp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr mailchimpError
	detail := string(raw)
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Detail != "" {
		detail = apiErr.Title + ": " + apiErr.Detail
	}

	err = fmt.Errorf("mailchimp returned %d: %s", resp.StatusCode, detail)
	if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
