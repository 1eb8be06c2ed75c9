package service

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// LeastLoadedAgent picks the active agent with the fewest open assignments.
// Ties break on uid so the choice is deterministic. No active agents returns
// nil without error.
func (s *TicketService) LeastLoadedAgent(ctx context.Context) (*domain.User, error) {
	agents, err := s.users.ListByRole(ctx, domain.RoleAgent)
	if err != nil {
		return nil, util.MapError(err)
	}

	var best *domain.User
	for i := range agents {
		agent := &agents[i]
		if !agent.Active {
			continue
		}
		if best == nil ||
			agent.ActiveTickets < best.ActiveTickets ||
			(agent.ActiveTickets == best.ActiveTickets && agent.UID < best.UID) {
			best = agent
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}
