package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/pkg/logger"
)

// Dispatcher runs best-effort side effects on a fixed worker pool. Dispatch
// never blocks: when the queue is full or closed the job is dropped and
// counted. Jobs are never retried.
type Dispatcher struct {
	queue   chan sideEffect
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

type sideEffect struct {
	kind string
	run  func(ctx context.Context) error
}

func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	d := &Dispatcher{
		queue:   make(chan sideEffect, queueSize),
		timeout: timeout,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Dispatch schedules fn and reports whether it was accepted.
func (d *Dispatcher) Dispatch(kind string, fn func(ctx context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(kind, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- sideEffect{kind: kind, run: fn}:
		return true
	default:
		d.drop(kind, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(kind, reason string) {
	metrics.SideEffectFailures.WithLabelValues(kind).Inc()
	logger.Warn().Str("kind", kind).Str("reason", reason).Msg("[SideEffect] dropped")
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		if err := d.run(job); err != nil {
			metrics.SideEffectFailures.WithLabelValues(job.kind).Inc()
			logger.Error().Err(err).Str("kind", job.kind).Msg("[SideEffect] failed")
		}
	}
}

func (d *Dispatcher) run(job sideEffect) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.run(ctx)
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	logger.Info().Msg("[SideEffect] dispatcher drained")
}
