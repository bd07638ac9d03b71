package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 8)
	p.Start()
	defer p.Stop()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := p.Submit(TaskFunc(func(ctx context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}))
		require.True(t, ok)
	}

	wg.Wait()
	assert.Equal(t, int32(5), ran.Load())
}

func TestPool_SubmitBackpressure(t *testing.T) {
	// No workers started, so the queue fills and Submit reports false
	// instead of blocking.
	p := NewPool(1, 2)

	noop := TaskFunc(func(ctx context.Context) error { return nil })
	assert.True(t, p.Submit(noop))
	assert.True(t, p.Submit(noop))
	assert.False(t, p.Submit(noop), "full queue must reject, not block")

	assert.Equal(t, 2, p.Stats().QueueLength)

	p.Start()
	p.Stop()
}

func TestPool_StopCancelsTaskContext(t *testing.T) {
	p := NewPool(1, 1)
	p.Start()

	started := make(chan struct{})
	finished := make(chan error, 1)
	require.True(t, p.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	})))

	<-started
	p.Stop()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestPool_Stats(t *testing.T) {
	p := NewPool(3, 4)
	stats := p.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, 3, p.Workers())
}

func TestPool_DefaultQueueCapacity(t *testing.T) {
	p := NewPool(1, 0)
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	ok := p.Submit(TaskFunc(func(ctx context.Context) error {
		close(done)
		return nil
	}))
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}
