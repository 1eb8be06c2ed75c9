// Package query evaluates ticket listings: visibility, free-text search,
// filters, the fixed priority sort, and pagination. Evaluation is a pure
// function of the ticket set and is re-run from scratch on every delivery
// from the change feed.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/policy"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
)

// PageSize is the fixed listing page size.
const PageSize = 10

// Date layouts matching the locale renderings the search matches against.
const (
	searchDateLayout     = "1/2/2006"
	searchDateTimeLayout = "1/2/2006, 3:04:05 PM"
)

// Filters are AND-combined listing criteria; nil fields are ignored.
type Filters struct {
	Priority    *domain.TicketPriority
	Status      *domain.TicketStatus
	Category    *string
	Assignee    *string
	SLABucket   *sla.Bucket
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Params is one listing request.
type Params struct {
	Search       string
	Filters      Filters
	AssignedOnly bool
	Page         int
}

// Result is one evaluated page.
type Result struct {
	Items []domain.Ticket
	Total int
	Page  int
}

// DisplayResolver maps a uid onto its rendered display identity. Unresolved
// uids yield an empty string and simply never match a name search.
type DisplayResolver func(uid string) string

// Engine evaluates listings against a consistent snapshot. It never takes
// per-ticket locks; queries run fully in parallel.
type Engine struct {
	resolve DisplayResolver
	atRisk  time.Duration
}

// NewEngine builds an engine with the given display resolver and at-risk
// window for SLA bucketing.
func NewEngine(resolve DisplayResolver, atRisk time.Duration) *Engine {
	if resolve == nil {
		resolve = func(string) string { return "" }
	}
	if atRisk <= 0 {
		atRisk = 4 * time.Hour
	}
	return &Engine{resolve: resolve, atRisk: atRisk}
}

// Evaluate derives the visible, ordered page for viewer at instant now.
func (e *Engine) Evaluate(tickets []domain.Ticket, viewer domain.UserRef, p Params, now time.Time) Result {
	matched := policy.Visible(viewer, tickets, p.AssignedOnly)

	if search := strings.ToLower(strings.TrimSpace(p.Search)); search != "" {
		kept := matched[:0]
		for i := range matched {
			if e.matchesSearch(&matched[i], search) {
				kept = append(kept, matched[i])
			}
		}
		matched = kept
	}

	matched = e.applyFilters(matched, p.Filters, now)
	sortTickets(matched)

	page := p.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * PageSize
	end := start + PageSize
	total := len(matched)
	if start >= total {
		return Result{Items: []domain.Ticket{}, Total: total, Page: page}
	}
	if end > total {
		end = total
	}
	return Result{Items: matched[start:end], Total: total, Page: page}
}

// matchesSearch checks the term against code, title, description, category,
// priority, status, resolved participant names, and the creation date
// rendered both date-only and date+time.
func (e *Engine) matchesSearch(t *domain.Ticket, search string) bool {
	fields := []string{
		t.Code,
		t.Title,
		t.Description,
		t.Category,
		string(t.Priority),
		string(t.Status),
		e.resolve(t.CreatedBy),
	}
	if t.AssignedTo != nil {
		fields = append(fields, e.resolve(*t.AssignedTo))
	}
	if !t.CreatedAt.IsZero() {
		fields = append(fields,
			t.CreatedAt.Format(searchDateLayout),
			t.CreatedAt.Format(searchDateTimeLayout),
		)
	}
	for _, field := range fields {
		if field != "" && strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (e *Engine) applyFilters(tickets []domain.Ticket, f Filters, now time.Time) []domain.Ticket {
	kept := tickets[:0]
	for i := range tickets {
		t := &tickets[i]
		if f.Priority != nil && t.Priority != *f.Priority {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Category != nil && t.Category != *f.Category {
			continue
		}
		if f.Assignee != nil {
			if t.AssignedTo == nil || *t.AssignedTo != *f.Assignee {
				continue
			}
		}
		if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && t.CreatedAt.After(endOfDay(*f.CreatedTo)) {
			continue
		}
		if f.SLABucket != nil && sla.BucketAt(t, now, e.atRisk) != *f.SLABucket {
			continue
		}
		kept = append(kept, tickets[i])
	}
	return kept
}

// sortTickets orders by priority weight descending, ties broken newest
// first.
func sortTickets(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		wi, wj := tickets[i].Priority.Weight(), tickets[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
}

// endOfDay widens the to-bound to the inclusive end of its calendar day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
