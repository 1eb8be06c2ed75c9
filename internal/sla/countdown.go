package sla

import (
	"context"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// FetchFunc reads the current ticket snapshot for a countdown tick.
type FetchFunc func(ctx context.Context) (*domain.Ticket, error)

// Countdown runs the live timer for one open ticket view. It only reads
// ticket state; milestone side effects go through the callbacks. Independent
// countdowns never block each other.
type Countdown struct {
	clock    clock.Clock
	tracker  *Tracker
	interval time.Duration

	// OnState receives the derived display value each tick.
	OnState func(State)
	// OnMilestone receives each milestone at most once per ticket lifetime.
	OnMilestone func(t *domain.Ticket, m Milestone)
}

// NewCountdown builds a countdown ticking at the given interval.
func NewCountdown(clk clock.Clock, tracker *Tracker, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{clock: clk, tracker: tracker, interval: interval}
}

// Run evaluates the ticket every interval until the context is cancelled or
// the ticket reaches a terminal status. On terminal status it emits one
// final completed-duration state and stops; fetch errors skip the tick
// rather than killing the timer.
func (c *Countdown) Run(ctx context.Context, ticketID string, fetch FetchFunc) error {
	defer c.tracker.Forget(ticketID)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		ticket, err := fetch(ctx)
		if err == nil {
			if ticket.Status.Terminal() {
				c.emitState(DisplayAt(ticket, c.clock.Now()))
				return nil
			}
			c.emitState(DisplayAt(ticket, c.clock.Now()))
			for _, m := range c.tracker.Evaluate(ticket) {
				if c.OnMilestone != nil {
					c.OnMilestone(ticket, m)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Countdown) emitState(s State) {
	if c.OnState != nil {
		c.OnState(s)
	}
}
