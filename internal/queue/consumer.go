package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

const (
	defaultConsumerGroup = "auditors"
	defaultBlockTimeout  = 5 * time.Second
	defaultBatchSize     = 1
	defaultClaimMinIdle  = 10 * time.Minute
	defaultMaxDeliveries = 5

	maxPendingCheck = 100
	backlogInterval = 15 * time.Second
)

// Job is one audit request read from the stream.
type Job struct {
	MessageID  string
	JobID      string
	URL        string
	EnqueuedAt time.Time
}

// Handler processes a job. A nil error acknowledges it; any error leaves it
// pending so another consumer can reclaim it.
type Handler func(ctx context.Context, job Job) error

type ConsumerConfig struct {
	Group        string
	ConsumerID   string
	BlockTimeout time.Duration
	BatchSize    int64
	ClaimMinIdle time.Duration
	// MaxDeliveries caps how often a failing job is handed out before it is
	// acknowledged and dropped.
	MaxDeliveries int64
}

// Consumer reads audit jobs through a consumer group. Delivery is
// at-least-once.
type Consumer struct {
	streams      *Streams
	group        string
	consumerID   string
	blockTimeout time.Duration
	batchSize    int64
	claimMinIdle time.Duration
	maxDeliver   int64
	log          *zap.Logger
}

func NewConsumer(streams *Streams, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}
	if cfg.Group == "" {
		cfg.Group = defaultConsumerGroup
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}

	return &Consumer{
		streams:      streams,
		group:        cfg.Group,
		consumerID:   cfg.ConsumerID,
		blockTimeout: cfg.BlockTimeout,
		batchSize:    cfg.BatchSize,
		claimMinIdle: cfg.ClaimMinIdle,
		maxDeliver:   cfg.MaxDeliveries,
		log:          logger.Named("queue.consumer").With(zap.String("consumer", cfg.ConsumerID)),
	}, nil
}

func (c *Consumer) Initialize(ctx context.Context) error {
	return c.streams.EnsureGroup(ctx, c.group)
}

// Read returns reclaimed stale jobs first, otherwise new ones. It blocks for
// up to the block timeout when the stream is empty.
func (c *Consumer) Read(ctx context.Context) ([]Job, error) {
	if jobs := c.reclaimPending(ctx); len(jobs) > 0 {
		return jobs, nil
	}

	streams, err := c.streams.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.streams.AuditStream(), ">"},
		Count:    c.batchSize,
		Block:    c.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}

	var jobs []Job
	for _, stream := range streams {
		jobs = append(jobs, c.parseMessages(ctx, stream.Messages)...)
	}
	return jobs, nil
}

func (c *Consumer) Ack(ctx context.Context, job Job) error {
	return c.streams.client.XAck(ctx, c.streams.AuditStream(), c.group, job.MessageID).Err()
}

// Pending returns the number of delivered but unacknowledged jobs.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	pending, err := c.streams.client.XPending(ctx, c.streams.AuditStream(), c.group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return pending.Count, nil
}

// ProcessOnce reads one batch and hands each job to handler. It returns the
// number of jobs acknowledged.
func (c *Consumer) ProcessOnce(ctx context.Context, handler Handler) (int, error) {
	jobs, err := c.Read(ctx)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, job := range jobs {
		if err := handler(ctx, job); err != nil {
			metrics.QueueJobs.WithLabelValues("failed").Inc()
			c.log.Error("Audit job failed; left pending",
				zap.String("job_id", job.JobID),
				zap.String("url", job.URL),
				zap.Error(err),
			)
			continue
		}

		if err := c.Ack(ctx, job); err != nil {
			return acked, fmt.Errorf("failed to ack job %s: %w", job.JobID, err)
		}
		acked++
		metrics.QueueJobs.WithLabelValues("completed").Inc()
	}

	return acked, nil
}

// ReportBacklog publishes the stream length and the group's pending count.
func (c *Consumer) ReportBacklog(ctx context.Context) {
	depth, err := c.streams.Depth(ctx)
	if err != nil {
		c.log.Warn("Failed to read audit stream length", zap.Error(err))
		return
	}
	pending, err := c.Pending(ctx)
	if err != nil {
		c.log.Warn("Failed to read pending audit jobs", zap.Error(err))
		return
	}
	metrics.QueueBacklog.WithLabelValues("stream").Set(float64(depth))
	metrics.QueueBacklog.WithLabelValues("pending").Set(float64(pending))
}

// Run processes jobs until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.log.Info("Audit consumer started", zap.String("group", c.group))

	var lastReport time.Time
	for {
		if ctx.Err() != nil {
			c.log.Info("Audit consumer stopped")
			return nil
		}

		if time.Since(lastReport) >= backlogInterval {
			c.ReportBacklog(ctx)
			lastReport = time.Now()
		}

		if _, err := c.ProcessOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("Audit consumer read failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) reclaimPending(ctx context.Context) []Job {
	stream := c.streams.AuditStream()

	pending, err := c.streams.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("Failed to list pending jobs", zap.Error(err))
		}
		return nil
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle < c.claimMinIdle {
			continue
		}
		if entry.RetryCount >= c.maxDeliver {
			c.deadLetter(ctx, entry)
			continue
		}
		ids = append(ids, entry.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := c.streams.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		c.log.Warn("Failed to reclaim pending jobs", zap.Error(err))
		return nil
	}

	jobs := c.parseMessages(ctx, claimed)
	if len(jobs) > 0 {
		metrics.QueueJobs.WithLabelValues("reclaimed").Add(float64(len(jobs)))
		c.log.Info("Reclaimed stale audit jobs", zap.Int("count", len(jobs)))
	}
	return jobs
}

// deadLetter acknowledges a job that has failed on every delivery.
func (c *Consumer) deadLetter(ctx context.Context, entry redis.XPendingExt) {
	if err := c.streams.client.XAck(ctx, c.streams.AuditStream(), c.group, entry.ID).Err(); err != nil {
		c.log.Warn("Failed to ack exhausted audit job", zap.String("message_id", entry.ID), zap.Error(err))
		return
	}
	metrics.QueueJobs.WithLabelValues("dead_lettered").Inc()
	c.log.Error("Audit job exceeded delivery limit; dropped",
		zap.String("message_id", entry.ID),
		zap.Int64("deliveries", entry.RetryCount),
		zap.Int64("max_deliveries", c.maxDeliver),
	)
}

// parseMessages drops and acknowledges entries that cannot be decoded so they
// are not redelivered forever.
func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) []Job {
	jobs := make([]Job, 0, len(messages))
	for _, msg := range messages {
		job, err := parseMessage(msg)
		if err != nil {
			metrics.QueueJobs.WithLabelValues("malformed").Inc()
			c.log.Warn("Dropping malformed audit job", zap.String("message_id", msg.ID), zap.Error(err))
			if ackErr := c.streams.client.XAck(ctx, c.streams.AuditStream(), c.group, msg.ID).Err(); ackErr != nil {
				c.log.Warn("Failed to ack malformed job", zap.String("message_id", msg.ID), zap.Error(ackErr))
			}
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func parseMessage(msg redis.XMessage) (Job, error) {
	pageURL, ok := msg.Values[urlField].(string)
	if !ok || pageURL == "" {
		return Job{}, errors.New("missing url")
	}

	job := Job{MessageID: msg.ID, URL: pageURL}
	if id, ok := msg.Values[jobIDField].(string); ok {
		job.JobID = id
	}
	if job.JobID == "" {
		job.JobID = msg.ID
	}
	if ts, ok := msg.Values[enqueuedAtField].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			job.EnqueuedAt = t
		}
	}
	return job, nil
}

func (c *Consumer) ConsumerID() string {
	return c.consumerID
}
