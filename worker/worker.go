// Package worker drains task events from the queue into the audit table.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go-taskapi/model"
)

type Source interface {
	Next(ctx context.Context, blockFor time.Duration) (*model.TaskEvent, error)
	Publish(ctx context.Context, ev model.TaskEvent) error
}

type Sink interface {
	AppendEvent(ctx context.Context, ev model.TaskEvent) error
}

const (
	defaultPollTimeout = 2 * time.Second
	defaultMaxAttempts = 3
)

type Pool struct {
	Source      Source
	Sink        Sink
	Logger      *slog.Logger
	PollTimeout time.Duration
	MaxAttempts int
	// Backoff returns the delay before an event is re-enqueued after its
	// attempt-th failure. Defaults to 2^attempt seconds.
	Backoff func(attempt int) time.Duration

	wg *sync.WaitGroup
}

func exponential(attempt int) time.Duration {
	return time.Second * time.Duration(1<<attempt)
}

// Start launches n workers that run until ctx is cancelled. Workers and
// pending retries are tracked in wg, so once wg.Wait returns every retried
// event has been handed back to the Source.
func (p *Pool) Start(ctx context.Context, n int, wg *sync.WaitGroup) {
	p.wg = wg
	if p.PollTimeout <= 0 {
		p.PollTimeout = defaultPollTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = exponential
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, p.Logger.With("worker", id))
		}(i + 1)
	}
}

func (p *Pool) run(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		default:
		}

		ev, err := p.Source.Next(ctx, p.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Warn("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if ev == nil {
			continue
		}
		p.handle(ctx, log, *ev)
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, ev model.TaskEvent) {
	err := p.Sink.AppendEvent(ctx, ev)
	if err == nil {
		log.Debug("recorded event", "task_id", ev.TaskID, "action", ev.Action)
		return
	}

	if ev.Attempts+1 >= p.MaxAttempts {
		log.Error("dropping event after retries",
			"task_id", ev.TaskID, "action", ev.Action, "attempts", ev.Attempts+1, "error", err)
		return
	}
	ev.Attempts++
	delay := p.Backoff(ev.Attempts)
	log.Warn("retrying event", "task_id", ev.TaskID, "action", ev.Action, "attempt", ev.Attempts, "delay", delay, "error", err)

	// Called from a worker goroutine, so the group count is non-zero here.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// put it back now so it is queued before the client closes
		}
		if err := p.Source.Publish(context.WithoutCancel(ctx), ev); err != nil {
			log.Error("re-enqueue failed", "task_id", ev.TaskID, "error", err)
		}
	}()
}
