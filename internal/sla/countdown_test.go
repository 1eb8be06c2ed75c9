package sla

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

func TestCountdownStopsOnTerminalStatus(t *testing.T) {
	clk := clock.NewManual(t0.Add(time.Hour))
	tracker := NewTracker(clk, 4*time.Hour)
	countdown := NewCountdown(clk, tracker, 5*time.Millisecond)

	resolvedAt := t0.Add(30 * time.Minute)
	ticket := openTicket(t0.Add(8 * time.Hour))
	ticket.Status = domain.TicketStatusResolved
	ticket.ResolvedAt = &resolvedAt

	var mu sync.Mutex
	var last State
	countdown.OnState = func(s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := countdown.Run(ctx, ticket.ID, func(context.Context) (*domain.Ticket, error) {
		return ticket, nil
	})
	if err != nil {
		t.Fatalf("run on terminal ticket: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if last.Phase != PhaseCompleted || last.Label != "Completed (30m)" {
		t.Fatalf("final state = %+v", last)
	}
}

func TestCountdownFiresMilestonesViaCallback(t *testing.T) {
	clk := clock.NewManual(t0.Add(7*time.Hour + 35*time.Minute)) // 25m remaining
	tracker := NewTracker(clk, 4*time.Hour)
	countdown := NewCountdown(clk, tracker, 5*time.Millisecond)

	ticket := openTicket(t0.Add(8 * time.Hour))

	var mu sync.Mutex
	fired := map[Milestone]int{}
	countdown.OnMilestone = func(_ *domain.Ticket, m Milestone) {
		mu.Lock()
		fired[m]++
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := countdown.Run(ctx, ticket.ID, func(context.Context) (*domain.Ticket, error) {
		return ticket, nil
	}); err != context.DeadlineExceeded {
		t.Fatalf("run ended with %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fired[MilestoneOneHour] != 1 || fired[MilestoneThirtyMin] != 1 {
		t.Fatalf("fired = %v", fired)
	}
	if fired[MilestoneTenMin] != 0 || fired[MilestoneBreached] != 0 {
		t.Fatalf("premature milestones: %v", fired)
	}
}
