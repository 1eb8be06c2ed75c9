package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
)

// MilestoneRecorder persists a fired milestone as a system mutation.
type MilestoneRecorder interface {
	RecordMilestone(ctx context.Context, ticketID string, milestone sla.Milestone) error
}

// TicketLister supplies the tickets under SLA watch.
type TicketLister interface {
	ListAll(ctx context.Context) ([]domain.Ticket, error)
}

// SLAWatcher sweeps open tickets every tick and records every milestone the
// tracker reports as newly crossed. Firing happens at most once per milestone
// per ticket; a sweep that lands past several thresholds fires them all.
type SLAWatcher struct {
	tracker  *sla.Tracker
	tickets  TicketLister
	recorder MilestoneRecorder
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewSLAWatcher constructs the watcher.
func NewSLAWatcher(tracker *sla.Tracker, tickets TicketLister, recorder MilestoneRecorder, clk clock.Clock, interval time.Duration, logger *zap.Logger) *SLAWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAWatcher{
		tracker:  tracker,
		tickets:  tickets,
		recorder: recorder,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until the context is cancelled.
func (w *SLAWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep evaluates every ticket once. Terminal tickets drop their fired-state
// so the tracker does not grow without bound.
func (w *SLAWatcher) Sweep(ctx context.Context) {
	tickets, err := w.tickets.ListAll(ctx)
	if err != nil {
		w.logger.Warn("sla sweep load failed", zap.Error(err))
		return
	}

	for i := range tickets {
		t := &tickets[i]
		if t.Status.Terminal() {
			w.tracker.Forget(t.ID)
			continue
		}
		for _, milestone := range w.tracker.Evaluate(t) {
			if err := w.recorder.RecordMilestone(ctx, t.ID, milestone); err != nil {
				w.logger.Warn("milestone record failed",
					zap.Error(err),
					zap.String("ticket", t.Code),
					zap.String("milestone", string(milestone)))
			}
		}
	}
}
