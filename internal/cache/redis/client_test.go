package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/pkg/config"
)

func newTestCache(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newFromClient(rdb), mr
}

func TestPageSpeedCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	_, found, err := c.GetPageSpeed(ctx, "https://example.com")
	require.NoError(t, err)
	assert.False(t, found)

	want := audit.LighthouseResult{PerformanceScore: 71, AccessibilityScore: 93, SEOScore: 88, CoreWebVitals: "FAST"}
	require.NoError(t, c.SetPageSpeed(ctx, "https://example.com", want, time.Hour))

	got, found, err := c.GetPageSpeed(ctx, "https://example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, *got)

	assert.True(t, mr.Exists("pagespeed:c984d06aafbecf6bc55569f964148ea3"))

	mr.FastForward(2 * time.Hour)
	_, found, err = c.GetPageSpeed(ctx, "https://example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPageSpeedCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.SetPageSpeed(ctx, "https://a.example", audit.LighthouseResult{}, time.Hour))
	require.NoError(t, c.SetPageSpeed(ctx, "https://b.example", audit.LighthouseResult{}, time.Hour))
	require.NoError(t, mr.Set("other", "keep"))

	require.NoError(t, c.InvalidatePageSpeed(ctx))

	assert.Equal(t, []string{"other"}, mr.Keys())
}

func TestNewClient_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, config.RedisConfig{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}
