// Package queue provides the Redis Streams backed audit job queue.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "portfolio"

// Streams wraps a Redis client with the stream names the audit queue uses.
type Streams struct {
	client *redis.Client
	prefix string
}

func NewStreams(client *redis.Client, prefix string) *Streams {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Streams{client: client, prefix: prefix}
}

// AuditStream returns the stream audit jobs are written to.
func (s *Streams) AuditStream() string {
	return fmt.Sprintf("%s:audits", s.prefix)
}

// EnsureGroup creates the consumer group (and stream) if it does not exist.
func (s *Streams) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.AuditStream(), group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Depth returns the number of entries in the audit stream.
func (s *Streams) Depth(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.AuditStream()).Result()
}

func (s *Streams) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
