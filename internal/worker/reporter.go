package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const statsTimeout = 10 * time.Second

// startStatsReporter logs the queue depth on StatsSchedule and mirrors it in
// the jobs gauge. The returned func stops the schedule and waits for a
// running report to finish.
func (w *Worker) startStatsReporter(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(w.statsSchedule, func() { w.reportStats(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", w.statsSchedule, err)
	}

	c.Start()
	w.logger.Info("Stats reporter started", slog.String("schedule", w.statsSchedule))

	return func() {
		<-c.Stop().Done()
	}, nil
}

func (w *Worker) reportStats(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	counts, err := w.store.CountByStatus(ctx)
	if err != nil {
		w.logger.Warn("Failed to collect queue stats", slog.Any("error", err))
		return
	}

	attrs := make([]any, 0, len(counts))
	gauge := make(map[string]int, len(counts))
	for status, n := range counts {
		attrs = append(attrs, slog.Int(status.String(), n))
		gauge[status.String()] = n
	}
	w.metrics.SetStatusCounts(gauge)
	w.logger.Info("Queue stats", slog.Group("jobs", attrs...))
}
