package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/events"
	"github.com/tecu23/room-server/pkg/messages"
)

const relayTimeout = 2 * time.Second

// Relay forwards global events to other coordinator instances.
type Relay interface {
	Publish(ctx context.Context, data []byte) error
}

// Gateway delivers encoded events to connected clients. Delivery is best effort and at most
// once: a peer that cannot take a message right now simply misses it.
type Gateway struct {
	registry  *Registry
	relay     Relay
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewGateway creates a gateway over the registry's peers
func NewGateway(registry *Registry, publisher *events.Publisher, logger *zap.Logger) *Gateway {
	return &Gateway{
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(messages.OutboundMessage{Event: event, Payload: payload})
}

// SendTo delivers an event to a single client
func (g *Gateway) SendTo(id, event string, payload interface{}) bool {
	data, err := encode(event, payload)
	if err != nil {
		g.logger.Error("Error marshaling JSON", zap.String("event", event), zap.Error(err))
		return false
	}

	peer, ok := g.registry.Peer(id)
	if !ok {
		return false
	}

	return g.deliver(id, "", peer, data)
}

// sendToMembers delivers an event to the listed members of a session. Called with the
// session lock held so updates leave in commit order.
func (g *Gateway) sendToMembers(key string, ids []string, event string, payload interface{}) int {
	data, err := encode(event, payload)
	if err != nil {
		g.logger.Error("Error marshaling JSON", zap.String("event", event), zap.Error(err))
		return 0
	}

	sent := 0
	for _, id := range ids {
		peer, ok := g.registry.Peer(id)
		if !ok {
			continue
		}

		if g.deliver(id, key, peer, data) {
			sent++
		}
	}

	return sent
}

// BroadcastToAll delivers an event to every connected client and hands it to the relay,
// if one is configured.
func (g *Gateway) BroadcastToAll(event string, payload interface{}) int {
	data, err := encode(event, payload)
	if err != nil {
		g.logger.Error("Error marshaling JSON", zap.String("event", event), zap.Error(err))
		return 0
	}

	if g.relay != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
			defer cancel()

			if err := g.relay.Publish(ctx, data); err != nil {
				g.logger.Warn("relay publish failed", zap.String("event", event), zap.Error(err))
			}
		}()
	}

	return g.DeliverLocal(data)
}

// DeliverLocal sends an already encoded event to every client of this instance. Relays call
// it for events that originated elsewhere.
func (g *Gateway) DeliverLocal(data []byte) int {
	sent := 0
	for id, peer := range g.registry.peers() {
		if g.deliver(id, "", peer, data) {
			sent++
		}
	}

	return sent
}

func (g *Gateway) deliver(id, key string, peer Peer, data []byte) bool {
	if peer.Send(data) {
		return true
	}

	g.logger.Warn("message dropped - client buffer full",
		zap.String("client_id", id),
		zap.String("session", key))

	g.publisher.Publish(events.Event{
		Type:       events.EventDeliveryDropped,
		SessionKey: key,
		ClientID:   id,
	})

	return false
}
