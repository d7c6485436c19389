package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-taskapi/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	events chan model.TaskEvent
}

func (s *chanSource) Next(ctx context.Context, blockFor time.Duration) (*model.TaskEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case ev := <-s.events:
		return &ev, nil
	case <-time.After(blockFor):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chanSource) Publish(_ context.Context, ev model.TaskEvent) error {
	s.events <- ev
	return nil
}

type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	recorded []model.TaskEvent
}

func (s *flakySink) AppendEvent(_ context.Context, ev model.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	s.recorded = append(s.recorded, ev)
	return nil
}

func (s *flakySink) snapshot() (int, []model.TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]model.TaskEvent(nil), s.recorded...)
}

func startPool(t *testing.T, sink *flakySink) *chanSource {
	src := &chanSource{events: make(chan model.TaskEvent, 8)}
	pool := &Pool{
		Source:      src,
		Sink:        sink,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollTimeout: 20 * time.Millisecond,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pool.Start(ctx, 2, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return src
}

func TestWorkerRecordsEvent(t *testing.T) {
	sink := &flakySink{}
	src := startPool(t, sink)

	src.events <- model.TaskEvent{TaskID: 1, Action: model.ActionCreated, Actor: "admin"}

	require.Eventually(t, func() bool {
		_, recorded := sink.snapshot()
		return len(recorded) == 1
	}, time.Second, 5*time.Millisecond)
	_, recorded := sink.snapshot()
	assert.Equal(t, int64(1), recorded[0].TaskID)
}

func TestWorkerRetriesFailedEvent(t *testing.T) {
	sink := &flakySink{failures: 2}
	src := startPool(t, sink)

	src.events <- model.TaskEvent{TaskID: 2, Action: model.ActionUpdated, Actor: "admin"}

	require.Eventually(t, func() bool {
		_, recorded := sink.snapshot()
		return len(recorded) == 1
	}, time.Second, 5*time.Millisecond)
	calls, recorded := sink.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, recorded[0].Attempts)
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	sink := &flakySink{failures: 10}
	startPool(t, sink).events <- model.TaskEvent{TaskID: 3, Action: model.ActionDeleted, Actor: "admin"}

	require.Eventually(t, func() bool {
		calls, _ := sink.snapshot()
		return calls == defaultMaxAttempts
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	calls, recorded := sink.snapshot()
	assert.Equal(t, defaultMaxAttempts, calls)
	assert.Empty(t, recorded)
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, exponential(1))
	assert.Equal(t, 8*time.Second, exponential(3))
}

func TestPendingRetryRequeuedOnShutdown(t *testing.T) {
	src := &chanSource{events: make(chan model.TaskEvent, 8)}
	sink := &flakySink{failures: 1}
	pool := &Pool{
		Source:      src,
		Sink:        sink,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollTimeout: 20 * time.Millisecond,
		Backoff:     func(int) time.Duration { return time.Hour },
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pool.Start(ctx, 1, &wg)

	src.events <- model.TaskEvent{TaskID: 4, Action: model.ActionCreated, Actor: "admin"}
	require.Eventually(t, func() bool {
		calls, _ := sink.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		cancel()
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait group did not drain after cancel")
	}

	_, recorded := sink.snapshot()
	if len(recorded) == 1 {
		assert.Equal(t, int64(4), recorded[0].TaskID)
		return
	}
	require.Len(t, src.events, 1, "retried event was lost")
	ev := <-src.events
	assert.Equal(t, int64(4), ev.TaskID)
	assert.Equal(t, 1, ev.Attempts)
}
