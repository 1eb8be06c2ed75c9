package feed

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
)

// Publisher forwards dispatcher events onto the Redis change channel so every
// process's subscriber reloads its snapshot.
type Publisher struct {
	redis   *persistence.Redis
	channel string
	logger  *zap.Logger
}

// NewPublisher builds a publisher for the given channel.
func NewPublisher(r *persistence.Redis, channel string, logger *zap.Logger) *Publisher {
	return &Publisher{redis: r, channel: channel, logger: logger}
}

// Register subscribes the publisher to every ticket event type.
func (p *Publisher) Register(dispatcher events.Dispatcher) {
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketMutated,
		events.EventTicketTransferred,
		events.EventFeedbackSubmitted,
		events.EventSLAMilestone,
	} {
		dispatcher.Subscribe(eventType, p.handle)
	}
}

func (p *Publisher) handle(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.redis.Publish(ctx, p.channel, payload); err != nil {
		p.logger.Warn("change notice publish failed", zap.Error(err), zap.String("ticket", event.TicketCode))
		return err
	}
	return nil
}
