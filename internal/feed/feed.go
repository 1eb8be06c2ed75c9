package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/clock"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// Loader fetches the full ticket set from the source of truth.
type Loader func(ctx context.Context) ([]domain.Ticket, error)

// Subscriber listens on the change channel and keeps a Snapshot current.
type Subscriber struct {
	redis    *persistence.Redis
	channel  string
	load     Loader
	snapshot *Snapshot
	clock    clock.Clock
	logger   *zap.Logger
}

// NewSubscriber wires a subscriber onto an existing snapshot.
func NewSubscriber(r *persistence.Redis, channel string, load Loader, snapshot *Snapshot, clk clock.Clock, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		redis:    r,
		channel:  channel,
		load:     load,
		snapshot: snapshot,
		clock:    clk,
		logger:   logger,
	}
}

// Run performs an initial load, then reloads on every channel delivery until
// the context is cancelled. Reload failures keep the previous snapshot and
// mark it stale.
func (s *Subscriber) Run(ctx context.Context) error {
	s.reload(ctx)

	sub, err := s.redis.Subscribe(ctx, s.channel)
	if err != nil {
		s.snapshot.MarkStale()
		return err
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				s.snapshot.MarkStale()
				return nil
			}
			s.logger.Debug("change notice received", zap.String("channel", msg.Channel))
			s.reload(ctx)
		}
	}
}

func (s *Subscriber) reload(ctx context.Context) {
	tickets, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("snapshot reload failed; serving stale data", zap.Error(err))
		s.snapshot.MarkStale()
		return
	}
	s.snapshot.Replace(tickets, s.clock.Now())
}
