package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var (
	creator = domain.UserRef{UID: "user-1", Role: domain.RoleUser, Username: "dana"}
	agent   = domain.UserRef{UID: "agent-1", Role: domain.RoleAgent, Username: "sam"}
	admin   = domain.UserRef{UID: "admin-1", Role: domain.RoleAdmin, Username: "root"}
)

type memTicketRepo struct {
	mu      sync.Mutex
	seq     int64
	nextID  int
	tickets map[string]*domain.Ticket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *memTicketRepo) NextCode(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("T%09d", r.seq), nil
}

func (r *memTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		r.nextID++
		ticket.ID = fmt.Sprintf("id-%d", r.nextID)
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *memTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *memTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ticket.Clone(), nil
}

func (r *memTicketRepo) GetByCode(ctx context.Context, code string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.Code == code {
			return ticket.Clone(), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) GetByIdempotencyKey(ctx context.Context, creatorUID, key string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.CreatedBy == creatorUID && ticket.IdempotencyKey != nil && *ticket.IdempotencyKey == key {
			return ticket.Clone(), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		out = append(out, *ticket.Clone())
	}
	return out, nil
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo(users ...*domain.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		r.users[u.UID] = u
	}
	return r
}

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UID] = user
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, uid string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[uid]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *user
	return &out, nil
}

func (r *memUserRepo) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, user := range r.users {
		if user.Role == role && user.Active {
			out = append(out, *user)
		}
	}
	return out, nil
}

func (r *memUserRepo) AdjustWorkload(ctx context.Context, uid string, activeDelta, resolvedDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[uid]
	if !ok {
		return pgx.ErrNoRows
	}
	user.ActiveTickets += activeDelta
	if user.ActiveTickets < 0 {
		user.ActiveTickets = 0
	}
	user.TotalResolved += resolvedDelta
	return nil
}

func slaCfg() config.SLAConfig {
	return config.SLAConfig{LowHours: 48, MediumHours: 24, HighHours: 12, CriticalHours: 4, AtRiskHours: 4, TickSeconds: 1}
}

func newService(t *testing.T, clk *clock.Manual, agents ...*domain.User) (*TicketService, *memTicketRepo, *memUserRepo) {
	t.Helper()
	users := append([]*domain.User{
		{UID: "user-1", Username: "dana", CustomUID: "U123456", Role: domain.RoleUser, Active: true},
		{UID: "admin-1", Username: "root", CustomUID: "AD001", Role: domain.RoleAdmin, Active: true},
	}, agents...)
	ticketRepo := newMemTicketRepo()
	userRepo := newMemUserRepo(users...)
	svc := NewTicketService(TicketDependencies{
		TicketRepo: ticketRepo,
		UserRepo:   userRepo,
		Clock:      clk,
		SLA:        slaCfg(),
	})
	return svc, ticketRepo, userRepo
}

func agentUser(uid string, active int) *domain.User {
	return &domain.User{UID: uid, Username: "ag-" + uid, CustomUID: "AG" + uid, Role: domain.RoleAgent, Active: true, ActiveTickets: active}
}

func create(t *testing.T, svc *TicketService, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := svc.CreateTicket(context.Background(), creator, CreateInput{
		Title:    "printer offline",
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ticket
}

func TestCreateTicketComputesDeadlineAndCode(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)

	ticket := create(t, svc, domain.TicketPriorityHigh)

	if ticket.Code != "T000000001" {
		t.Fatalf("code = %q", ticket.Code)
	}
	if want := t0.Add(12 * time.Hour); !ticket.SLADeadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", ticket.SLADeadline, want)
	}
	if ticket.Status != domain.TicketStatusOpen || ticket.Version != 1 {
		t.Fatalf("status=%v version=%d", ticket.Status, ticket.Version)
	}
	if len(ticket.Timeline) != 1 || ticket.Timeline[0].Action != domain.ActionCreated {
		t.Fatalf("timeline = %+v", ticket.Timeline)
	}

	second := create(t, svc, domain.TicketPriorityLow)
	if second.Code != "T000000002" {
		t.Fatalf("second code = %q", second.Code)
	}
	if want := t0.Add(48 * time.Hour); !second.SLADeadline.Equal(want) {
		t.Fatalf("low deadline = %v, want %v", second.SLADeadline, want)
	}
}

func TestCreateTicketAutoAssignsLeastLoaded(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, userRepo := newService(t, clk, agentUser("a1", 5), agentUser("a2", 2))

	ticket := create(t, svc, domain.TicketPriorityMedium)

	if ticket.AssignedTo == nil || *ticket.AssignedTo != "a2" {
		t.Fatalf("assigned to %v, want a2", ticket.AssignedTo)
	}
	if ticket.Version != 2 {
		t.Fatalf("version after auto-assign = %d, want 2", ticket.Version)
	}
	if ticket.Timeline[1].Action != domain.ActionAutoAssigned {
		t.Fatalf("second entry = %+v", ticket.Timeline[1])
	}
	a2, _ := userRepo.GetByID(context.Background(), "a2")
	if a2.ActiveTickets != 3 {
		t.Fatalf("a2 active = %d, want 3", a2.ActiveTickets)
	}
}

func TestCreateTicketIdempotency(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	key := "req-42"

	first, err := svc.CreateTicket(context.Background(), creator, CreateInput{
		Title: "a", Priority: domain.TicketPriorityLow, IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateTicket(context.Background(), creator, CreateInput{
		Title: "a", Priority: domain.TicketPriorityLow, IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != first.ID || second.Code != first.Code {
		t.Fatalf("idempotent create returned a new ticket: %q vs %q", second.Code, first.Code)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)

	if _, err := svc.CreateTicket(context.Background(), creator, CreateInput{Title: "  ", Priority: domain.TicketPriorityLow}); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("blank title: %v", err)
	}
	if _, err := svc.CreateTicket(context.Background(), creator, CreateInput{Title: "x", Priority: "Urgent"}); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("bad priority: %v", err)
	}
}

func TestMutateVersionConflictLeavesStateUnchanged(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, repo, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	status := domain.TicketStatusInProgress
	_, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{
		ExpectedVersion: ticket.Version + 7,
		Status:          &status,
	})
	if !util.IsCode(err, "CONFLICT") {
		t.Fatalf("stale version: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), ticket.ID)
	if stored.Version != ticket.Version || stored.Status != domain.TicketStatusOpen {
		t.Fatalf("conflict mutated state: %+v", stored)
	}
}

func TestMutateRequiresExactlyOneKind(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	status := domain.TicketStatusInProgress
	comment := "also this"
	_, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{
		ExpectedVersion: ticket.Version,
		Status:          &status,
		Comment:         &comment,
	})
	if !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("two kinds: %v", err)
	}
	_, err = svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: ticket.Version})
	if !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("zero kinds: %v", err)
	}
}

func TestMutateInvisibleTicketReadsAsNotFound(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	stranger := domain.UserRef{UID: "user-9", Role: domain.RoleUser}
	comment := "hi"
	_, err := svc.Mutate(context.Background(), stranger, ticket.ID, MutationInput{
		ExpectedVersion: ticket.Version,
		Comment:         &comment,
		ReplyTo:         &ticket.Timeline[0].Index,
	})
	if !util.IsCode(err, "NOT_FOUND") {
		t.Fatalf("invisible ticket: %v", err)
	}
}

func TestStatusLifecycleAndVersions(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	steps := []struct {
		caller domain.UserRef
		status domain.TicketStatus
	}{
		{agent, domain.TicketStatusInProgress},
		{agent, domain.TicketStatusResolved},
		{admin, domain.TicketStatusClosed},
	}
	version := ticket.Version
	current := ticket
	for _, step := range steps {
		var err error
		status := step.status
		current, err = svc.Mutate(context.Background(), step.caller, ticket.ID, MutationInput{
			ExpectedVersion: version,
			Status:          &status,
		})
		if err != nil {
			t.Fatalf("to %s: %v", step.status, err)
		}
		version++
		if current.Version != version {
			t.Fatalf("version after %s = %d, want %d", step.status, current.Version, version)
		}
	}

	if current.ResolvedAt == nil || !current.ResolvedAt.Equal(t0) {
		t.Fatalf("resolved_at = %v", current.ResolvedAt)
	}
	if current.ClosedAt == nil {
		t.Fatal("closed_at not stamped")
	}
	// One entry per accepted mutation on top of creation.
	if len(current.Timeline) != 1+len(steps) {
		t.Fatalf("timeline entries = %d", len(current.Timeline))
	}
}

func TestStatusTransitionMatrix(t *testing.T) {
	cases := []struct {
		name     string
		caller   domain.UserRef
		from     domain.TicketStatus
		to       domain.TicketStatus
		wantCode string
	}{
		{"agent starts work", agent, domain.TicketStatusOpen, domain.TicketStatusInProgress, ""},
		{"agent resolves directly", agent, domain.TicketStatusOpen, domain.TicketStatusResolved, ""},
		{"agent returns work to the queue", agent, domain.TicketStatusInProgress, domain.TicketStatusOpen, ""},
		{"agent reverts a resolution to open", agent, domain.TicketStatusResolved, domain.TicketStatusOpen, ""},
		{"agent resumes a resolved ticket", agent, domain.TicketStatusResolved, domain.TicketStatusInProgress, ""},
		{"admin closes from open", admin, domain.TicketStatusOpen, domain.TicketStatusClosed, ""},
		{"admin closes from in progress", admin, domain.TicketStatusInProgress, domain.TicketStatusClosed, ""},
		{"admin closes from resolved", admin, domain.TicketStatusResolved, domain.TicketStatusClosed, ""},
		{"agent cannot close", agent, domain.TicketStatusOpen, domain.TicketStatusClosed, "FORBIDDEN"},
		{"user cannot change status", creator, domain.TicketStatusOpen, domain.TicketStatusInProgress, "FORBIDDEN"},
		{"same status is rejected", agent, domain.TicketStatusOpen, domain.TicketStatusOpen, "INVALID_ARGUMENT"},
		{"closed exits only through reopen", agent, domain.TicketStatusClosed, domain.TicketStatusInProgress, "INVALID_ARGUMENT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clk := clock.NewManual(t0)
			svc, repo, _ := newService(t, clk)
			ticket := create(t, svc, domain.TicketPriorityHigh)
			if tc.from != domain.TicketStatusOpen {
				stored, err := repo.GetByID(context.Background(), ticket.ID)
				if err != nil {
					t.Fatalf("load: %v", err)
				}
				stored.Status = tc.from
				if err := repo.Update(context.Background(), stored); err != nil {
					t.Fatalf("seed status: %v", err)
				}
			}

			status := tc.to
			current, err := svc.Mutate(context.Background(), tc.caller, ticket.ID, MutationInput{
				ExpectedVersion: ticket.Version,
				Status:          &status,
			})
			if tc.wantCode != "" {
				if !util.IsCode(err, tc.wantCode) {
					t.Fatalf("%s -> %s: err = %v, want %s", tc.from, tc.to, err, tc.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
			}
			if current.Status != tc.to {
				t.Fatalf("status = %v, want %v", current.Status, tc.to)
			}
			if current.Version != ticket.Version+1 {
				t.Fatalf("version = %d, want %d", current.Version, ticket.Version+1)
			}
			last := current.Timeline[len(current.Timeline)-1]
			if want := string(tc.from) + " -> " + string(tc.to); last.Comment != want {
				t.Fatalf("entry comment = %q, want %q", last.Comment, want)
			}
		})
	}
}

func TestAgentCannotClose(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	status := domain.TicketStatusClosed
	_, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{
		ExpectedVersion: ticket.Version,
		Status:          &status,
	})
	if !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("agent close: %v", err)
	}
}

func TestReopenOnlyOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	resolved := domain.TicketStatusResolved
	closed := domain.TicketStatusClosed
	open := domain.TicketStatusOpen

	current, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: 1, Status: &resolved})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	current, err = svc.Mutate(context.Background(), admin, ticket.ID, MutationInput{ExpectedVersion: current.Version, Status: &closed})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	firstResolution := *current.ResolvedAt

	clk.Advance(time.Hour)
	current, err = svc.Mutate(context.Background(), creator, ticket.ID, MutationInput{ExpectedVersion: current.Version, Status: &open})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if current.Status != domain.TicketStatusOpen || current.ReopenCount != 1 {
		t.Fatalf("after reopen: status=%v reopen=%d", current.Status, current.ReopenCount)
	}
	if !current.SLADeadline.Equal(ticket.SLADeadline) {
		t.Fatal("reopen moved the SLA deadline")
	}
	if !current.ResolvedAt.Equal(firstResolution) {
		t.Fatal("reopen touched the first resolution timestamp")
	}

	// Second cycle: resolve, close, reopen again must be rejected.
	current, _ = svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: current.Version, Status: &resolved})
	if !current.ResolvedAt.Equal(firstResolution) {
		t.Fatal("re-resolution overwrote the first resolution timestamp")
	}
	current, _ = svc.Mutate(context.Background(), admin, ticket.ID, MutationInput{ExpectedVersion: current.Version, Status: &closed})
	_, err = svc.Mutate(context.Background(), creator, ticket.ID, MutationInput{ExpectedVersion: current.Version, Status: &open})
	if !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("second reopen: %v", err)
	}
}

func TestCommentThreading(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	comment := "have you tried rebooting"
	current, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{
		ExpectedVersion: 1,
		Comment:         &comment,
	})
	if err != nil {
		t.Fatalf("staff comment: %v", err)
	}

	rootIndex := current.Timeline[len(current.Timeline)-1].Index
	reply := "yes, twice"
	current, err = svc.Mutate(context.Background(), creator, ticket.ID, MutationInput{
		ExpectedVersion: current.Version,
		Comment:         &reply,
		ReplyTo:         &rootIndex,
	})
	if err != nil {
		t.Fatalf("creator reply: %v", err)
	}
	last := current.Timeline[len(current.Timeline)-1]
	if last.ReplyTo == nil || *last.ReplyTo != rootIndex {
		t.Fatalf("reply entry = %+v", last)
	}

	// End-users may not start threads.
	topLevel := "me first"
	if _, err := svc.Mutate(context.Background(), creator, ticket.ID, MutationInput{
		ExpectedVersion: current.Version,
		Comment:         &topLevel,
	}); !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("user top-level comment: %v", err)
	}
}

func TestDeleteTimelineEntryBumpsVersionWithoutAppending(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	comment := "oops"
	current, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: 1, Comment: &comment})
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	entries := len(current.Timeline)
	index := current.Timeline[entries-1].Index

	current, err = svc.DeleteTimelineEntry(context.Background(), agent, ticket.ID, index)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(current.Timeline) != entries {
		t.Fatalf("delete changed entry count: %d -> %d", entries, len(current.Timeline))
	}
	if !current.Timeline[entries-1].Deleted {
		t.Fatal("entry not tombstoned")
	}
	if current.Version != 3 {
		t.Fatalf("version after delete = %d, want 3", current.Version)
	}
}

func TestTransferRecordsWithoutReassigning(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk, agentUser("a1", 0))
	ticket := create(t, svc, domain.TicketPriorityHigh)

	if _, err := svc.Transfer(context.Background(), agent, ticket.ID, "   "); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("blank reason: %v", err)
	}
	if _, err := svc.Transfer(context.Background(), admin, ticket.ID, "beyond me"); !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("admin using agent transfer: %v", err)
	}

	current, err := svc.Transfer(context.Background(), agent, ticket.ID, "needs billing access")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(current.TransferHistory) != 1 || current.TransferHistory[0].Reason != "needs billing access" {
		t.Fatalf("history = %+v", current.TransferHistory)
	}
	if current.AssignedTo == nil || *current.AssignedTo != "a1" {
		t.Fatal("transfer changed the assignment")
	}
	if current.Status != domain.TicketStatusOpen {
		t.Fatal("transfer changed the status")
	}
}

func TestAdminTransferSetsAssignee(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, userRepo := newService(t, clk, agentUser("a1", 0), agentUser("a2", 9))
	ticket := create(t, svc, domain.TicketPriorityHigh) // auto-assigns a1

	current, err := svc.AdminTransfer(context.Background(), admin, ticket.ID, "a2", "a1 is on leave")
	if err != nil {
		t.Fatalf("admin transfer: %v", err)
	}
	if current.AssignedTo == nil || *current.AssignedTo != "a2" {
		t.Fatalf("assignee = %v", current.AssignedTo)
	}
	record := current.TransferHistory[len(current.TransferHistory)-1]
	if record.FromUID != "a1" || record.ToUID != "a2" {
		t.Fatalf("record = %+v", record)
	}
	a1, _ := userRepo.GetByID(context.Background(), "a1")
	a2, _ := userRepo.GetByID(context.Background(), "a2")
	if a1.ActiveTickets != 0 || a2.ActiveTickets != 10 {
		t.Fatalf("workloads a1=%d a2=%d", a1.ActiveTickets, a2.ActiveTickets)
	}

	if _, err := svc.AdminTransfer(context.Background(), admin, ticket.ID, "user-1", "nope"); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("transfer to non-staff: %v", err)
	}
}

func TestSubmitFeedbackOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	if _, err := svc.SubmitFeedback(context.Background(), creator, ticket.ID, 4, "fine"); !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("feedback on open ticket: %v", err)
	}

	resolved := domain.TicketStatusResolved
	current, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: 1, Status: &resolved})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := svc.SubmitFeedback(context.Background(), creator, ticket.ID, 6, ""); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("rating out of range: %v", err)
	}

	current, err = svc.SubmitFeedback(context.Background(), creator, ticket.ID, 5, "great, thanks")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if current.Rating == nil || *current.Rating != 5 || current.FeedbackAt == nil {
		t.Fatalf("feedback fields: %+v", current)
	}

	if _, err := svc.SubmitFeedback(context.Background(), creator, ticket.ID, 3, "changed my mind"); !util.IsCode(err, "INVALID_ARGUMENT") {
		t.Fatalf("second feedback: %v", err)
	}
}

func TestRecordMilestoneSkipsTerminal(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, repo, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	if err := svc.RecordMilestone(context.Background(), ticket.ID, sla.MilestoneOneHour); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), ticket.ID)
	if stored.Version != 2 {
		t.Fatalf("version after milestone = %d, want 2", stored.Version)
	}
	last := stored.Timeline[len(stored.Timeline)-1]
	if last.Action != domain.ActionSLAMilestone || last.Comment != "1 hour remaining" || last.Actor != nil {
		t.Fatalf("milestone entry = %+v", last)
	}

	resolved := domain.TicketStatusResolved
	if _, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{ExpectedVersion: 2, Status: &resolved}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.RecordMilestone(context.Background(), ticket.ID, sla.MilestoneBreached); err != nil {
		t.Fatalf("milestone on terminal: %v", err)
	}
	stored, _ = repo.GetByID(context.Background(), ticket.ID)
	if stored.Version != 3 {
		t.Fatalf("terminal milestone advanced version to %d", stored.Version)
	}
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, repo, _ := newService(t, clk)
	ticket := create(t, svc, domain.TicketPriorityHigh)

	const writers = 16
	var wg sync.WaitGroup
	accepted := make(chan struct{}, writers)
	comment := "racing"

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Mutate(context.Background(), agent, ticket.ID, MutationInput{
				ExpectedVersion: 1,
				Comment:         &comment,
			})
			if err == nil {
				accepted <- struct{}{}
			} else if !util.IsCode(err, "CONFLICT") {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(accepted)

	wins := 0
	for range accepted {
		wins++
	}
	if wins != 1 {
		t.Fatalf("accepted %d racing mutations with the same expected version", wins)
	}
	stored, _ := repo.GetByID(context.Background(), ticket.ID)
	if stored.Version != 2 {
		t.Fatalf("final version = %d, want 2", stored.Version)
	}
}

func TestLeastLoadedAgentDeterministicTieBreak(t *testing.T) {
	clk := clock.NewManual(t0)
	svc, _, _ := newService(t, clk, agentUser("b", 1), agentUser("a", 1))

	agentPick, err := svc.LeastLoadedAgent(context.Background())
	if err != nil {
		t.Fatalf("least loaded: %v", err)
	}
	if agentPick == nil || agentPick.UID != "a" {
		t.Fatalf("picked %+v, want uid a", agentPick)
	}
}
