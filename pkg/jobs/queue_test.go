package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomes struct {
	mu   sync.Mutex
	errs map[string]error
	done chan string
}

func newOutcomes() *outcomes {
	return &outcomes{errs: map[string]error{}, done: make(chan string, 16)}
}

func (o *outcomes) record(job Job, err error) {
	o.mu.Lock()
	o.errs[job.ID] = err
	o.mu.Unlock()
	o.done <- job.ID
}

func (o *outcomes) wait(t *testing.T, id string) error {
	t.Helper()
	select {
	case got := <-o.done:
		require.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not complete", id)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errs[id]
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	out := newOutcomes()
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond, OnComplete: out.record})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	assert.NoError(t, out.wait(t, "a"))

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestQueuePermanentFailureSkipsRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	out := newOutcomes()
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return Permanent(errors.New("bad payload"))
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond, OnComplete: out.record})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "b"}))
	err := out.wait(t, "b")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	out := newOutcomes()
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errors.New("down")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnComplete: out.record})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "c"}))
	err := out.wait(t, "c")
	require.EqualError(t, err, "down")
	assert.False(t, IsPermanent(err))
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}
