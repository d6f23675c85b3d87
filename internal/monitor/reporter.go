package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Snapshotter exposes the current active-session count
type Snapshotter interface {
	Snapshot() int64
}

// CountSink receives every reported count
type CountSink interface {
	PublishCount(count int64, at time.Time)
}

// Reporter periodically prints the active-session count
type Reporter struct {
	source   Snapshotter
	interval time.Duration
	out      io.Writer
	logger   *slog.Logger
	sinks    []CountSink
}

// NewReporter creates a reporter writing "Active sessions: <n>" lines to out
func NewReporter(source Snapshotter, interval time.Duration, out io.Writer, logger *slog.Logger, sinks ...CountSink) *Reporter {
	return &Reporter{
		source:   source,
		interval: interval,
		out:      out,
		logger:   logger,
		sinks:    sinks,
	}
}

// Run reports once per interval until ctx is cancelled
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("Session count reporter started", slog.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Session count reporter stopped")
			return
		case now := <-ticker.C:
			r.Report(now)
		}
	}
}

// Report takes one snapshot and emits it to the console and every sink
func (r *Reporter) Report(now time.Time) int64 {
	count := r.source.Snapshot()

	if _, err := fmt.Fprintf(r.out, "Active sessions: %d\n", count); err != nil {
		r.logger.Warn("Failed to write session count", slog.String("error", err.Error()))
	}

	r.logger.Debug("Active sessions", slog.Int64("count", count))

	for _, sink := range r.sinks {
		sink.PublishCount(count, now)
	}

	return count
}
