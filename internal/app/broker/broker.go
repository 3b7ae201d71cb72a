package broker

import (
	"context"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
)

// Publisher emits one event per completed decision
type Publisher interface {
	Publish(ctx context.Context, ev *model.DecisionEvent) error
}

var _ Publisher = (*Log)(nil)

// Log is the publisher used when no broker is configured
type Log struct{}

func (p *Log) LoggerComponent() string {
	return "Broker.Log"
}

func (p *Log) Publish(ctx context.Context, ev *model.DecisionEvent) error {
	l := logger.Get(ctx, p)
	l.Info().
		Str("transaction_id", ev.TransactionID).
		Str("action", ev.Action).
		Str("status", string(ev.Status)).
		Str("actor", ev.Actor).
		Msg("Decision event")
	return nil
}

// RoutingKey of the decision event
func RoutingKey(ev *model.DecisionEvent) string {
	return "decision." + ev.Action
}
