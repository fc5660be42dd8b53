package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
)

// Publisher sends domain events. Delivery failures are logged and counted
// but never fail the operation that produced the event.
type Publisher struct {
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPublisher(p events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if p == nil {
		p = events.Nop{}
	}
	return &Publisher{events: p, metrics: m, logger: logger}
}

func (p *Publisher) publish(ctx context.Context, e events.Event) {
	err := p.events.Publish(context.WithoutCancel(ctx), e)
	p.metrics.Event(e.Type, err)
	if err != nil {
		p.logger.Warn("publish event failed", zap.String("type", e.Type), zap.String("id", e.ID), zap.Error(err))
	}
}
