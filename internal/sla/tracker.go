// Package sla derives display state and milestone events from a ticket's
// deadline. The countdown ticks for active tickets; once a ticket resolves
// the completed duration is fixed to time-to-first-resolution and never
// changes again.
package sla

import (
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// Milestone tags a one-time SLA notification.
type Milestone string

const (
	MilestoneOneHour   Milestone = "1h-remaining"
	MilestoneThirtyMin Milestone = "30m-remaining"
	MilestoneTenMin    Milestone = "10m-remaining"
	MilestoneBreached  Milestone = "breached"
)

// Comment renders the milestone as a timeline comment.
func (m Milestone) Comment() string {
	switch m {
	case MilestoneOneHour:
		return "1 hour remaining"
	case MilestoneThirtyMin:
		return "30 minutes remaining"
	case MilestoneTenMin:
		return "10 minutes remaining"
	case MilestoneBreached:
		return "SLA breached"
	}
	return string(m)
}

// milestoneThresholds orders remaining-time milestones tightest first.
var milestoneThresholds = []struct {
	milestone Milestone
	remaining time.Duration
}{
	{MilestoneTenMin, 10 * time.Minute},
	{MilestoneThirtyMin, 30 * time.Minute},
	{MilestoneOneHour, time.Hour},
}

// Phase classifies the display state of the timer.
type Phase string

const (
	PhaseCompleted Phase = "completed"
	PhaseOverdue   Phase = "overdue"
	PhaseActive    Phase = "active"
)

// Bucket classifies a ticket for listing filters. Evaluated fresh per query
// from the deadline alone, independent of the milestone-firing set.
type Bucket string

const (
	BucketOnTime  Bucket = "on-time"
	BucketAtRisk  Bucket = "at-risk"
	BucketOverdue Bucket = "overdue"
)

// ParseBucket validates a bucket filter value.
func ParseBucket(s string) (Bucket, bool) {
	switch Bucket(s) {
	case BucketOnTime, BucketAtRisk, BucketOverdue:
		return Bucket(s), true
	}
	return "", false
}

// State is one evaluation of a ticket's SLA display.
type State struct {
	Phase    Phase
	Label    string
	Duration time.Duration
}

// Tracker computes SLA display state and fires milestone events at most once
// per ticket lifetime. Fired sets are process-local session state, created
// with the view and discarded with Forget.
type Tracker struct {
	clock  clock.Clock
	atRisk time.Duration

	mu    sync.Mutex
	fired map[string]map[Milestone]struct{}
}

// NewTracker builds a tracker with the given at-risk window.
func NewTracker(clk clock.Clock, atRisk time.Duration) *Tracker {
	if atRisk <= 0 {
		atRisk = 4 * time.Hour
	}
	return &Tracker{
		clock:  clk,
		atRisk: atRisk,
		fired:  make(map[string]map[Milestone]struct{}),
	}
}

// Display computes the timer state at the tracker's current clock reading.
func (tr *Tracker) Display(t *domain.Ticket) State {
	return DisplayAt(t, tr.clock.Now())
}

// DisplayAt computes the timer state at an explicit instant.
func DisplayAt(t *domain.Ticket, now time.Time) State {
	if t.Status.Terminal() {
		taken := t.FirstResolutionAt().Sub(t.CreatedAt)
		return State{
			Phase:    PhaseCompleted,
			Label:    fmt.Sprintf("Completed (%s)", FormatCompleted(taken)),
			Duration: taken,
		}
	}
	remaining := t.SLADeadline.Sub(now)
	if remaining <= 0 {
		over := -remaining
		return State{
			Phase:    PhaseOverdue,
			Label:    fmt.Sprintf("Overdue +%s", FormatOverdue(over)),
			Duration: over,
		}
	}
	return State{
		Phase:    PhaseActive,
		Label:    FormatRemaining(remaining),
		Duration: remaining,
	}
}

// Bucket classifies the ticket for listing filters at the current instant.
func (tr *Tracker) Bucket(t *domain.Ticket) Bucket {
	return BucketAt(t, tr.clock.Now(), tr.atRisk)
}

// BucketAt classifies by remaining time: on-time beyond the at-risk window,
// at-risk inside it, overdue at or past the deadline.
func BucketAt(t *domain.Ticket, now time.Time, atRisk time.Duration) Bucket {
	remaining := t.SLADeadline.Sub(now)
	switch {
	case remaining <= 0:
		return BucketOverdue
	case remaining <= atRisk:
		return BucketAtRisk
	default:
		return BucketOnTime
	}
}

// Evaluate returns milestones newly crossed at the current clock reading.
// Each fires at most once per ticket even when ticks are irregular: the test
// is "remaining at or below threshold and not yet fired", never equality.
// Terminal tickets are not evaluated.
func (tr *Tracker) Evaluate(t *domain.Ticket) []Milestone {
	if t.Status.Terminal() {
		return nil
	}
	remaining := t.SLADeadline.Sub(tr.clock.Now())

	tr.mu.Lock()
	defer tr.mu.Unlock()
	seen := tr.fired[t.ID]
	if seen == nil {
		seen = make(map[Milestone]struct{})
		tr.fired[t.ID] = seen
	}

	var crossed []Milestone
	for _, th := range milestoneThresholds {
		if remaining > th.remaining {
			continue
		}
		if _, done := seen[th.milestone]; done {
			continue
		}
		seen[th.milestone] = struct{}{}
		crossed = append(crossed, th.milestone)
	}
	if remaining <= 0 {
		if _, done := seen[MilestoneBreached]; !done {
			seen[MilestoneBreached] = struct{}{}
			crossed = append(crossed, MilestoneBreached)
		}
	}
	return crossed
}

// Forget discards the fired-milestone session state for a ticket. Called
// when its view closes; deadlines never change after creation, so state is
// only ever reset with the view itself.
func (tr *Tracker) Forget(ticketID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.fired, ticketID)
}
