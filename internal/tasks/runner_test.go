package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsSubmittedTasks(t *testing.T) {
	r := NewRunner(Config{Workers: 3, QueueSize: 10})
	r.Start()

	var count int32
	for i := 0; i < 10; i++ {
		ok := r.Submit(Task{Name: "count", Run: func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}})
		require.True(t, ok)
	}

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRunner_DeduplicatesByKey(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 4})
	r.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32

	task := Task{Name: "lead_analysis", Key: "inquiry:1", Run: func(context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}

	require.True(t, r.Submit(task))
	<-started
	assert.False(t, r.Submit(task), "same key while running")

	close(release)
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRunner_KeyReleasedAfterCompletion(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 4})
	r.Start()

	done := make(chan struct{}, 2)
	task := Task{Name: "notify", Key: "k", Run: func(context.Context) error {
		done <- struct{}{}
		return nil
	}}

	require.True(t, r.Submit(task))
	<-done

	assert.Eventually(t, func() bool { return r.Submit(task) }, time.Second, 5*time.Millisecond)
	<-done
	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_FullQueueRejects(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 1})

	block := Task{Name: "block", Run: func(context.Context) error { return nil }}
	assert.True(t, r.Submit(block))
	assert.False(t, r.Submit(block), "queue of one is full before workers start")

	r.Start()
	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_RecoversPanicsAndErrors(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 4})
	r.Start()

	var after int32
	r.Submit(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }})
	r.Submit(Task{Name: "fails", Run: func(context.Context) error { return errors.New("nope") }})
	r.Submit(Task{Name: "after", Run: func(context.Context) error {
		atomic.StoreInt32(&after, 1)
		return nil
	}})

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

func TestRunner_SubmitAfterStop(t *testing.T) {
	r := NewRunner(Config{})
	r.Start()
	require.NoError(t, r.Stop(context.Background()))

	assert.False(t, r.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }}))
	assert.NoError(t, r.Stop(context.Background()))
}

func TestRunner_StopTimeoutCancelsTasks(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 1})
	r.Start()

	cancelled := make(chan struct{})
	r.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}
