package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/harborfund/vaultd/internal/domain"
)

// EventChannel is the pub/sub channel and stream name used for vault events.
// Live subscribers (websocket hub, external consumers) listen on the
// channel; the stream keeps a capped, replayable history.
const EventChannel = "vault.events"

// envelope is the wire form of a published event: the kind tag plus the
// event's own fields.
type envelope struct {
	Event string       `json:"event"`
	Data  domain.Event `json:"data"`
}

// EventPublisher implements domain.EventSink by fanning keeper events out to
// the redis bus. Delivery is best-effort: failures are logged and never
// propagate back into the custody operation that emitted the event.
type EventPublisher struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher. bus may be nil, in which case
// events are dropped (useful in tests and single-process setups).
func NewEventPublisher(bus domain.EventBus, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "event_publisher")),
	}
}

// Emit publishes the event to the pub/sub channel and appends it to the
// durable stream.
func (p *EventPublisher) Emit(ctx context.Context, e domain.Event) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(envelope{Event: e.Kind(), Data: e})
	if err != nil {
		p.logger.WarnContext(ctx, "event marshal failed",
			slog.String("event", e.Kind()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, EventChannel, payload); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", e.Kind()),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, EventChannel, payload); err != nil {
		p.logger.WarnContext(ctx, "event stream append failed",
			slog.String("event", e.Kind()),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.EventSink = (*EventPublisher)(nil)
