// Package worker runs the periodic finalization sweep
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nombah501/LiteAuction-sub001/internal/bidding"
	"github.com/Nombah501/LiteAuction-sub001/internal/events"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Sweeper is the finalizer entry point the worker drives
type Sweeper interface {
	SweepDue(ctx context.Context) ([]bidding.FinalizeResult, error)
}

// EventSink receives one event per finalized auction
type EventSink interface {
	Publish(ctx context.Context, evs ...models.AuctionEvent) error
}

// Worker sweeps due auctions on a fixed interval
type Worker struct {
	sweeper  Sweeper
	events   EventSink
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Worker. events may be nil.
func New(sweeper Sweeper, events EventSink, interval time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{sweeper: sweeper, events: events, interval: interval, log: log, now: time.Now}
}

// Run sweeps immediately and then on every tick until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep and publishes its results.
// It returns the number of auctions finalized.
func (w *Worker) RunOnce(ctx context.Context) int {
	results, err := w.sweeper.SweepDue(ctx)
	if err != nil {
		w.log.Error("Sweep failed", "err", err)
		return 0
	}
	if len(results) == 0 {
		return 0
	}

	w.log.Info("Sweep finalized auctions", "count", len(results))
	if w.events == nil {
		return len(results)
	}
	evs := make([]models.AuctionEvent, 0, len(results))
	for _, res := range results {
		evs = append(evs, events.FromFinalize(res, w.now()))
	}
	if err := w.events.Publish(ctx, evs...); err != nil {
		w.log.Warn("Failed to publish finalized events", "err", err)
	}
	return len(results)
}
