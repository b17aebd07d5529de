// Package worker re-applies webhook events whose first processing failed.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yangwenmai/letterlock/internal/model"
)

// Applier applies one payment event to the artifact state machine.
type Applier interface {
	Apply(ctx context.Context, ev model.PaymentEvent) error
}

// EventQueue provides atomic claim and status update operations on the webhook inbox.
type EventQueue interface {
	ClaimNextFailedEvent(ctx context.Context, maxAttempts int, minIdle time.Duration) (*model.InboxEvent, error)
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id string, cause error) error
}

// staleFactor is how many intervals an event may stay PROCESSING before the
// loop assumes its status write was lost and returns it to FAILED.
const staleFactor = 10

// Reconciler polls for FAILED events and re-applies them. Access is only ever
// granted by a successful apply; an event that keeps failing stays FAILED
// once its attempts are exhausted. An event is retried at most once per
// interval.
type Reconciler struct {
	queue       EventQueue
	applier     Applier
	interval    time.Duration
	maxAttempts int
	staleAfter  time.Duration
}

// New creates a new Reconciler.
func New(queue EventQueue, applier Applier, interval time.Duration, maxAttempts int) *Reconciler {
	return &Reconciler{
		queue:       queue,
		applier:     applier,
		interval:    interval,
		maxAttempts: maxAttempts,
		staleAfter:  staleFactor * interval,
	}
}

// Start resets events left PROCESSING by a previous run, then begins the
// polling loop. It blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.resetStale(ctx, 0)

	slog.Info("reconciler started", "interval", r.interval.String(), "max_attempts", r.maxAttempts)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		default:
		}

		if !r.RunOnce(ctx) {
			r.resetStale(ctx, r.staleAfter)
			r.sleep(ctx)
		}
	}
}

func (r *Reconciler) resetStale(ctx context.Context, olderThan time.Duration) {
	n, err := r.queue.ResetStaleProcessing(ctx, olderThan)
	if err != nil {
		slog.Warn("reset stale processing events", "error", err)
		return
	}
	if n > 0 {
		slog.Info("reset stale PROCESSING events to FAILED", "count", n)
	}
}

// RunOnce claims and re-applies at most one event that has been idle for a
// full interval. It reports whether an event was claimed.
func (r *Reconciler) RunOnce(ctx context.Context) bool {
	ev, err := r.queue.ClaimNextFailedEvent(ctx, r.maxAttempts, r.interval)
	if err != nil {
		slog.Error("reconciler claim error", "error", err)
		return false
	}
	if ev == nil {
		return false
	}

	log := slog.With("event_id", ev.ID, "attempt", ev.Attempts+1)
	log.Info("reconciling webhook event", "event_type", ev.GatewayType)
	if err := r.applier.Apply(ctx, ev.PaymentEvent); err != nil {
		log.Error("reconcile failed", "error", err)
		if sErr := r.queue.MarkEventFailed(ctx, ev.ID, err); sErr != nil {
			log.Error("failed to set FAILED status", "error", sErr)
		}
		if ev.Attempts+1 >= r.maxAttempts {
			log.Error("webhook event gave up after max attempts; needs manual review")
		}
		return true
	}

	if err := r.queue.MarkEventProcessed(ctx, ev.ID); err != nil {
		log.Error("failed to set PROCESSED status", "error", err)
	} else {
		log.Info("webhook event reconciled")
	}
	return true
}

func (r *Reconciler) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.interval):
	}
}
