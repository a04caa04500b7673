package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/pkg/config"
	"github.com/missbott/backend/pkg/logger"
	"github.com/missbott/backend/pkg/utils"
)

type Client struct {
	client *redis.Client
}

// NewClient connects using cfg.URL when set, otherwise host/port/password/db.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", opts.Addr))

	return &Client{client: client}, nil
}

// newFromClient wraps an existing go-redis client.
func newFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Redis exposes the underlying client for the job queue.
func (c *Client) Redis() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

func pageSpeedKey(pageURL string) string {
	return fmt.Sprintf("pagespeed:%s", utils.HashString(pageURL))
}

func (c *Client) SetPageSpeed(ctx context.Context, pageURL string, result audit.LighthouseResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal pagespeed result: %w", err)
	}

	if err := c.client.Set(ctx, pageSpeedKey(pageURL), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set pagespeed cache: %w", err)
	}

	logger.Debug("PageSpeed result cached", zap.String("url", pageURL), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetPageSpeed(ctx context.Context, pageURL string) (*audit.LighthouseResult, bool, error) {
	data, err := c.client.Get(ctx, pageSpeedKey(pageURL)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get pagespeed cache: %w", err)
	}

	var result audit.LighthouseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal pagespeed result: %w", err)
	}

	logger.Debug("PageSpeed cache hit", zap.String("url", pageURL))
	return &result, true, nil
}

// InvalidatePageSpeed drops every cached PageSpeed result.
func (c *Client) InvalidatePageSpeed(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "pagespeed:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("PageSpeed cache invalidated")
	return nil
}
