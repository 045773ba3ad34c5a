// Package relay bridges events published by workers to live client
// connections. Delivery is best-effort: nothing is persisted or replayed, and
// a slow connection drops events rather than stalling the publisher.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/amishk599/hunter/internal/model"
)

// DefaultChannel is the pub/sub topic carrying live-client events.
const DefaultChannel = "hunter:ws_broadcast"

// Bus is a topic-based pub/sub channel. Each subscriber sees messages in
// publish order; messages published before Subscribe returns are not seen.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// Publisher encodes events onto a bus channel.
type Publisher struct {
	bus     Bus
	channel string
}

var _ model.EventPublisher = (*Publisher)(nil)

// NewPublisher returns a publisher writing to channel on bus.
func NewPublisher(bus Bus, channel string) *Publisher {
	return &Publisher{bus: bus, channel: channel}
}

// Publish succeeds whether or not anyone is subscribed.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type, err)
	}
	return nil
}

// Forward subscribes to channel and broadcasts every message to the
// registry until ctx is done.
func Forward(ctx context.Context, bus Bus, channel string, reg *Registry, logger *slog.Logger) error {
	msgs, unsubscribe, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	defer unsubscribe()

	logger.Info("relay forwarding", "channel", channel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", channel)
			}
			if dropped := reg.Broadcast(msg); dropped > 0 {
				logger.Debug("slow connections dropped an event", "dropped", dropped)
			}
		}
	}
}
