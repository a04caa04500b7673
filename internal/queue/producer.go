package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

const (
	jobIDField      = "job_id"
	urlField        = "url"
	enqueuedAtField = "enqueued_at"

	defaultMaxStreamLen = 10000
)

// Producer enqueues audit jobs.
type Producer struct {
	streams      *Streams
	maxStreamLen int64
}

func NewProducer(streams *Streams, maxStreamLen int64) *Producer {
	if maxStreamLen <= 0 {
		maxStreamLen = defaultMaxStreamLen
	}
	return &Producer{streams: streams, maxStreamLen: maxStreamLen}
}

// Enqueue adds an audit job for pageURL and returns its job id.
func (p *Producer) Enqueue(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", errors.New("url cannot be empty")
	}

	jobID := uuid.NewString()
	values := map[string]any{
		jobIDField:      jobID,
		urlField:        pageURL,
		enqueuedAtField: time.Now().UTC().Format(time.RFC3339),
	}

	stream := p.streams.AuditStream()
	messageID, err := p.streams.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		metrics.QueueJobs.WithLabelValues("enqueue_failed").Inc()
		return "", fmt.Errorf("failed to enqueue audit to stream %s: %w", stream, err)
	}

	metrics.QueueJobs.WithLabelValues("enqueued").Inc()
	logger.Info("Audit job enqueued",
		zap.String("job_id", jobID),
		zap.String("message_id", messageID),
		zap.String("url", pageURL),
	)

	return jobID, nil
}
