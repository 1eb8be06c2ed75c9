package sla

import (
	"reflect"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func openTicket(deadline time.Time) *domain.Ticket {
	return &domain.Ticket{
		ID:          "t-1",
		Code:        "T000000001",
		Status:      domain.TicketStatusOpen,
		Priority:    domain.TicketPriorityHigh,
		CreatedAt:   t0,
		SLADeadline: deadline,
	}
}

func TestFormatCompleted(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{26*time.Hour + 5*time.Minute, "1d 2h 5m"},
		{3*time.Hour + 4*time.Minute + 59*time.Second, "3h 4m"},
		{12 * time.Minute, "12m"},
		{30 * time.Second, "0m"},
	}
	for _, tc := range tests {
		if got := FormatCompleted(tc.d); got != tc.want {
			t.Errorf("FormatCompleted(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{49*time.Hour + 30*time.Minute, "2d 1h 30m"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
		{9*time.Minute + 59*time.Second, "9m 59s"},
	}
	for _, tc := range tests {
		if got := FormatRemaining(tc.d); got != tc.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatOverdue(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{25*time.Hour + 61*time.Second, "1d 1h 1m 1s"},
		{90 * time.Second, "1m 30s"},
		{5 * time.Second, "5s"},
	}
	for _, tc := range tests {
		if got := FormatOverdue(tc.d); got != tc.want {
			t.Errorf("FormatOverdue(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestDisplayAtPhases(t *testing.T) {
	ticket := openTicket(t0.Add(8 * time.Hour))

	active := DisplayAt(ticket, t0.Add(time.Hour))
	if active.Phase != PhaseActive || active.Label != "7h 0m 0s" {
		t.Fatalf("active state = %+v", active)
	}

	overdue := DisplayAt(ticket, t0.Add(8*time.Hour+90*time.Second))
	if overdue.Phase != PhaseOverdue || overdue.Label != "Overdue +1m 30s" {
		t.Fatalf("overdue state = %+v", overdue)
	}
}

func TestDisplayCompletedIsStable(t *testing.T) {
	ticket := openTicket(t0.Add(8 * time.Hour))
	resolvedAt := t0.Add(2*time.Hour + 15*time.Minute)
	ticket.Status = domain.TicketStatusResolved
	ticket.ResolvedAt = &resolvedAt

	first := DisplayAt(ticket, t0.Add(3*time.Hour))
	later := DisplayAt(ticket, t0.Add(300*time.Hour))
	if first != later {
		t.Fatalf("completed display drifted: %+v vs %+v", first, later)
	}
	if first.Label != "Completed (2h 15m)" {
		t.Fatalf("completed label = %q", first.Label)
	}
}

func TestBucketAt(t *testing.T) {
	ticket := openTicket(t0.Add(8 * time.Hour))
	atRisk := 4 * time.Hour

	tests := []struct {
		now  time.Time
		want Bucket
	}{
		{t0, BucketOnTime},
		{t0.Add(4 * time.Hour), BucketAtRisk},
		{t0.Add(8 * time.Hour), BucketOverdue},
		{t0.Add(9 * time.Hour), BucketOverdue},
	}
	for _, tc := range tests {
		if got := BucketAt(ticket, tc.now, atRisk); got != tc.want {
			t.Errorf("BucketAt(now=%v) = %q, want %q", tc.now, got, tc.want)
		}
	}
}

func TestEvaluateFiresEachMilestoneOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	tracker := NewTracker(clk, 4*time.Hour)
	ticket := openTicket(t0.Add(8 * time.Hour))

	if got := tracker.Evaluate(ticket); got != nil {
		t.Fatalf("fired with 8h remaining: %v", got)
	}

	clk.Set(t0.Add(7*time.Hour + 35*time.Minute)) // 25m remaining
	got := tracker.Evaluate(ticket)
	if !reflect.DeepEqual(got, []Milestone{MilestoneThirtyMin, MilestoneOneHour}) {
		t.Fatalf("25m remaining fired %v", got)
	}

	// Same instant again: nothing new.
	if got := tracker.Evaluate(ticket); got != nil {
		t.Fatalf("re-evaluation re-fired: %v", got)
	}

	clk.Set(t0.Add(8*time.Hour + time.Second))
	got = tracker.Evaluate(ticket)
	if !reflect.DeepEqual(got, []Milestone{MilestoneTenMin, MilestoneBreached}) {
		t.Fatalf("past deadline fired %v", got)
	}

	clk.Advance(time.Hour)
	if got := tracker.Evaluate(ticket); got != nil {
		t.Fatalf("breached re-fired: %v", got)
	}
}

func TestEvaluateSkipsTerminalTickets(t *testing.T) {
	clk := clock.NewManual(t0.Add(100 * time.Hour))
	tracker := NewTracker(clk, 4*time.Hour)
	ticket := openTicket(t0.Add(8 * time.Hour))
	ticket.Status = domain.TicketStatusClosed

	if got := tracker.Evaluate(ticket); got != nil {
		t.Fatalf("terminal ticket fired %v", got)
	}
}

func TestForgetResetsSessionState(t *testing.T) {
	clk := clock.NewManual(t0.Add(7*time.Hour + 30*time.Minute))
	tracker := NewTracker(clk, 4*time.Hour)
	ticket := openTicket(t0.Add(8 * time.Hour))

	if got := tracker.Evaluate(ticket); len(got) == 0 {
		t.Fatal("expected milestones on first evaluation")
	}
	tracker.Forget(ticket.ID)
	if got := tracker.Evaluate(ticket); len(got) == 0 {
		t.Fatal("milestones did not re-arm after Forget")
	}
}
