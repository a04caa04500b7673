package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

var ErrNotRunning = errors.New("task runner is not running")

// Task is a unit of background work. Tasks sharing a non-empty Key never run
// or wait in the queue concurrently.
type Task struct {
	Name string
	Key  string
	Run  func(ctx context.Context) error
}

type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Runner executes tasks on a fixed set of goroutines fed by a buffered channel.
type Runner struct {
	cfg    Config
	queue  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{}
	started  bool
	closed   bool
}

func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		queue:    make(chan Task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}

	logger.Info("Background task runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize),
	)
}

// Submit enqueues t without blocking. It returns false when the queue is full,
// the runner is stopped, or a task with the same key is already pending.
func (r *Runner) Submit(t Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		metrics.BackgroundTasks.WithLabelValues(t.Name, "rejected").Inc()
		return false
	}

	if t.Key != "" {
		if _, busy := r.inflight[t.Key]; busy {
			metrics.BackgroundTasks.WithLabelValues(t.Name, "duplicate").Inc()
			logger.Debug("Task already in flight", zap.String("task", t.Name), zap.String("key", t.Key))
			return false
		}
	}

	select {
	case r.queue <- t:
		if t.Key != "" {
			r.inflight[t.Key] = struct{}{}
		}
		metrics.BackgroundTasks.WithLabelValues(t.Name, "queued").Inc()
		return true
	default:
		metrics.BackgroundTasks.WithLabelValues(t.Name, "dropped").Inc()
		logger.Warn("Background queue full, task dropped", zap.String("task", t.Name), zap.String("key", t.Key))
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx expires
// first, running tasks are cancelled and ctx's error is returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		logger.Info("Background task runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		logger.Warn("Background task runner stop timed out")
		return ctx.Err()
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	for t := range r.queue {
		r.execute(id, t)
	}
}

func (r *Runner) execute(worker int, t Task) {
	start := time.Now()
	defer r.release(t.Key)

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.TaskTimeout)
	defer cancel()

	err := safeRun(ctx, t)
	elapsed := time.Since(start)

	if err != nil {
		metrics.BackgroundTasks.WithLabelValues(t.Name, "failed").Inc()
		logger.Error("Background task failed",
			zap.String("task", t.Name),
			zap.String("key", t.Key),
			zap.Int("worker", worker),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return
	}

	metrics.BackgroundTasks.WithLabelValues(t.Name, "succeeded").Inc()
	logger.Debug("Background task finished",
		zap.String("task", t.Name),
		zap.String("key", t.Key),
		zap.Duration("duration", elapsed),
	)
}

func (r *Runner) release(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return t.Run(ctx)
}
