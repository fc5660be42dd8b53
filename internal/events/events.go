// Package events publishes domain events about form progress and entities.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types.
const (
	StepCompleted  = "form.step.completed"
	StepSkipped    = "form.step.skipped"
	FormSubmitted  = "form.submitted"
	EntityCreated  = "entity.created"
	WaitlistJoined = "entity.waitlist.joined"
	RouteChanged   = "route.transition"
)

// Event is the JSON body of every published message.
type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	UserID string         `json:"userId,omitempty"`
	Time   string         `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(typ, userID string, data map[string]any) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		UserID: userID,
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Data:   data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes each event on {prefix}.{type}.
type NATSPublisher struct {
	nc     conn
	prefix string
	logger *zap.Logger
}

// Connect dials the NATS server at url.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("grantflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATSPublisher(nc, prefix, logger), nil
}

func newNATSPublisher(nc conn, prefix string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject is the subject an event of type typ is published on.
func (p *NATSPublisher) Subject(typ string) string {
	if p.prefix == "" {
		return typ
	}
	return p.prefix + "." + typ
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("id", e.ID))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned from Publish and nothing is recorded.
	Err error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
