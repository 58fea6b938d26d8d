package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
)

// RunFunc performs the slow part of handling a capture: recording it
// directly or publishing it to a queue. It must absorb its own errors.
type RunFunc func(ctx context.Context, c domain.Capture)

// AsyncDispatcher runs captures on background goroutines, at most
// maxInflight at a time. When all slots are busy the capture is dropped and
// counted; the HTTP response is never delayed.
type AsyncDispatcher struct {
	run     RunFunc
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncDispatcher bounds each run by timeout.
func NewAsyncDispatcher(run RunFunc, maxInflight int, timeout time.Duration) *AsyncDispatcher {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &AsyncDispatcher{
		run:     run,
		sem:     make(chan struct{}, maxInflight),
		timeout: timeout,
	}
}

// Dispatch implements Dispatcher.
func (d *AsyncDispatcher) Dispatch(c domain.Capture) {
	select {
	case d.sem <- struct{}{}:
	default:
		metrics.CapturesDroppedTotal.WithLabelValues("overflow").Inc()
		log.Warn("capture dropped, dispatcher saturated", "event_type", c.EventType)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		defer func() {
			if p := recover(); p != nil {
				log.Error("dispatch panic", "event_type", c.EventType, "panic", p)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.run(ctx, c)
	}()
}

// Inflight returns the number of captures currently running.
func (d *AsyncDispatcher) Inflight() int { return len(d.sem) }

// Wait blocks until in-flight captures finish or ctx is done.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
