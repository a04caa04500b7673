package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/storage/models"
	"github.com/missbott/backend/internal/storage/sqlite"
)

func newStreams(t *testing.T) *Streams {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStreams(client, "test")
}

func newConsumer(t *testing.T, s *Streams, id string, minIdle time.Duration) *Consumer {
	t.Helper()
	c, err := NewConsumer(s, ConsumerConfig{
		ConsumerID:   id,
		BlockTimeout: 10 * time.Millisecond,
		ClaimMinIdle: minIdle,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestProducer_EnqueueWritesJob(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)

	jobID, err := NewProducer(s, 0).Enqueue(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Len(t, jobID, 36)

	depth, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	jobs, err := c.Read(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].JobID)
	assert.Equal(t, "https://example.com", jobs[0].URL)
	assert.False(t, jobs[0].EnqueuedAt.IsZero())
	assert.Equal(t, "test:audits", s.AuditStream())
}

func TestProducer_RejectsEmptyURL(t *testing.T) {
	_, err := NewProducer(newStreams(t), 0).Enqueue(context.Background(), "")
	assert.Error(t, err)
}

func TestConsumer_InitializeIsIdempotent(t *testing.T) {
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)
	assert.NoError(t, c.Initialize(context.Background()))
}

func TestNewConsumer_RequiresID(t *testing.T) {
	_, err := NewConsumer(newStreams(t), ConsumerConfig{})
	assert.Error(t, err)
}

func TestConsumer_EmptyStreamReturnsNothing(t *testing.T) {
	c := newConsumer(t, newStreams(t), "w1", time.Hour)
	jobs, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConsumer_AcksOnSuccessAndKeepsFailuresPending(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)
	p := NewProducer(s, 0)

	_, err := p.Enqueue(ctx, "https://ok.example")
	require.NoError(t, err)
	acked, err := c.ProcessOnce(ctx, func(context.Context, Job) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, acked)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = p.Enqueue(ctx, "https://broken.example")
	require.NoError(t, err)
	acked, err = c.ProcessOnce(ctx, func(context.Context, Job) error { return errors.New("db locked") })
	require.NoError(t, err)
	assert.Zero(t, acked)

	pending, err = c.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestConsumer_ReclaimsStaleJobs(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	first := newConsumer(t, s, "w1", time.Hour)

	jobID, err := NewProducer(s, 0).Enqueue(ctx, "https://example.com")
	require.NoError(t, err)

	_, err = first.ProcessOnce(ctx, func(context.Context, Job) error { return errors.New("crashed") })
	require.NoError(t, err)

	second := newConsumer(t, s, "w2", time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	var got []Job
	acked, err := second.ProcessOnce(ctx, func(_ context.Context, job Job) error {
		got = append(got, job)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	require.Len(t, got, 1)
	assert.Equal(t, jobID, got[0].JobID)

	pending, err := second.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConsumer_DropsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)

	require.NoError(t, s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.AuditStream(),
		Values: map[string]any{"job_id": "abc"},
	}).Err())

	calls := 0
	acked, err := c.ProcessOnce(ctx, func(context.Context, Job) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, acked)
	assert.Zero(t, calls)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConsumer_DropsJobAfterMaxDeliveries(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	c, err := NewConsumer(s, ConsumerConfig{
		ConsumerID:    "w1",
		BlockTimeout:  10 * time.Millisecond,
		ClaimMinIdle:  time.Millisecond,
		MaxDeliveries: 2,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(ctx))

	_, err = NewProducer(s, 0).Enqueue(ctx, "https://example.com")
	require.NoError(t, err)

	calls := 0
	failing := func(context.Context, Job) error {
		calls++
		return errors.New("pagespeed down")
	}

	for i := 0; i < 4; i++ {
		_, err := c.ProcessOnce(ctx, failing)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 2, calls)
	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConsumer_ReportBacklog(t *testing.T) {
	ctx := context.Background()
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)

	producer := NewProducer(s, 0)
	for i := 0; i < 3; i++ {
		_, err := producer.Enqueue(ctx, "https://example.com")
		require.NoError(t, err)
	}
	_, err := c.ProcessOnce(ctx, func(context.Context, Job) error { return errors.New("crashed") })
	require.NoError(t, err)

	c.ReportBacklog(ctx)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.QueueBacklog.WithLabelValues("stream")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QueueBacklog.WithLabelValues("pending")))
	assert.Equal(t, "w1", c.ConsumerID())
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	s := newStreams(t)
	c := newConsumer(t, s, "w1", time.Hour)
	_, err := NewProducer(s, 0).Enqueue(context.Background(), "https://example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	handled := make(chan struct{})
	var once sync.Once

	go func() {
		done <- c.Run(ctx, func(context.Context, Job) error {
			once.Do(func() { close(handled) })
			return nil
		})
	}()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) Run(_ context.Context, pageURL string) (*audit.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &audit.Result{
		URL:    pageURL,
		Domain: "example.com",
		TechnicalData: audit.TechnicalData{
			Lighthouse: audit.LighthouseResult{PerformanceScore: 80, AccessibilityScore: 95},
		},
		EmailDraft: "Subject: hello",
	}, nil
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

func TestAuditHandler_RedeliveryUpdatesSameRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	runner := &fakeRunner{}
	handler := AuditHandler(runner, store)

	job := Job{MessageID: "1-0", JobID: "job-1", URL: "https://example.com"}
	require.NoError(t, handler(ctx, job))
	require.NoError(t, handler(ctx, job))
	assert.Equal(t, 2, runner.calls)

	audits, err := store.ListAudits(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "job-1", *audits[0].JobID)
	require.NotNil(t, audits[0].PerformanceScore)
	assert.Equal(t, 80, *audits[0].PerformanceScore)
}

func TestAuditHandler_RunErrorLeavesJobPending(t *testing.T) {
	store := newStore(t)
	handler := AuditHandler(&fakeRunner{err: context.DeadlineExceeded}, store)
	assert.ErrorIs(t, handler(context.Background(), Job{JobID: "j", URL: "https://example.com"}), context.DeadlineExceeded)

	audits, err := store.ListAudits(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, audits)
}

type failingStore struct{}

func (failingStore) GetAuditByJobID(context.Context, string) (*models.SiteAudit, error) {
	return nil, errors.New("disk I/O error")
}

func (failingStore) SaveAuditResult(context.Context, string, string, *audit.Result, *models.SiteAudit) (*models.SiteAudit, error) {
	return nil, errors.New("unreachable")
}

func TestAuditHandler_StoreErrorLeavesJobPending(t *testing.T) {
	runner := &fakeRunner{}
	err := AuditHandler(runner, failingStore{})(context.Background(), Job{JobID: "j", URL: "https://example.com"})
	assert.Error(t, err)
	assert.Zero(t, runner.calls)
}
