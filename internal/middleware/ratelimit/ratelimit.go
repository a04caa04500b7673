package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is a per-client token bucket guarding the public form endpoints.
type RateLimiter struct {
	buckets       map[string]*bucket
	mu            sync.RWMutex
	maxTokens     int
	refillRate    time.Duration
	keyFunc       func(*fiber.Ctx) string
	logger        *zap.Logger
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	// KeyFunc identifies the client; defaults to the remote IP.
	KeyFunc func(*fiber.Ctx) string
	Logger  *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 20
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets:       make(map[string]*bucket),
		maxTokens:     cfg.MaxRequestsPerMinute,
		refillRate:    cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		keyFunc:       cfg.KeyFunc,
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.keyFunc(c)

		if !rl.Allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if b, exists = rl.buckets[key]; !exists {
			b = &bucket{tokens: rl.maxTokens, lastRefill: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if add := int(now.Sub(b.lastRefill) / rl.refillRate); add > 0 {
		b.tokens = min(rl.maxTokens, b.tokens+add)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case now := <-rl.cleanupTicker.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				b.mu.Lock()
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(rl.buckets, key)
				}
				b.mu.Unlock()
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}
