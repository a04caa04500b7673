package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/circuitbreaker"
	"github.com/missbott/backend/pkg/logger"
)

const defaultModel = "gpt-4o"

var (
	ErrNotConfigured = errors.New("llm client not configured: missing API key")
	ErrEmptyResponse = errors.New("llm returned no choices")
)

// Completer is the subset of the client used by the drafting and scoring services.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	// BaseURL overrides the OpenAI endpoint; used for proxies and tests.
	BaseURL string
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	// JSONMode asks the API for a single JSON object response.
	JSONMode bool
	Timeout  time.Duration
	// Purpose labels metrics and logs ("outreach_email", "lead_analysis").
	Purpose string
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	var client *openai.Client
	if cfg.APIKey != "" {
		oaCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oaCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(oaCfg)
	} else {
		logger.Warn("LLM client has no API key; AI features will report errors")
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.Bool("configured", client != nil),
	)

	return &Client{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
	}
}

func (c *Client) Configured() bool {
	return c.client != nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete performs exactly one chat completion call. Retry policy belongs to the
// caller, since drafting and scoring want different attempt counts.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = "completion"
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}

		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}

		metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

		logger.Debug("LLM completion generated",
			zap.String("purpose", purpose),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}

		return nil
	})

	if err != nil {
		metrics.LLMRequests.WithLabelValues(purpose, "error").Inc()
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			logger.Warn("LLM call skipped", zap.String("breaker", c.cb.Name()), zap.String("purpose", purpose))
		}
		return nil, err
	}

	metrics.LLMRequests.WithLabelValues(purpose, "ok").Inc()
	return result, nil
}
