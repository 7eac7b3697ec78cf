package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
)

// broadcaster wakes every goroutine currently waiting on it.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// wait returns a channel that is closed by the next broadcast.
func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}

// startWakeupListener subscribes to enqueue notifications and nudges idle
// runners on each one.
func (w *Worker) startWakeupListener(ctx context.Context) error {
	wakeups, err := w.wakeups.Subscribe(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to wake-ups: %w", err)
	}

	w.wg.Add(1)
	go w.listenWakeups(ctx, wakeups)
	return nil
}

func (w *Worker) listenWakeups(ctx context.Context, wakeups <-chan rabbitmq.Wakeup) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Wake-up listener stopped - context canceled")
			return

		case wakeup, ok := <-wakeups:
			if !ok {
				w.logger.Warn("Wake-up stream closed, falling back to polling")
				return
			}

			w.metrics.WakeupsReceived.Inc()
			w.logger.Debug("Wake-up received", slog.Int("count", wakeup.Count))
			w.wake.broadcast()
		}
	}
}
