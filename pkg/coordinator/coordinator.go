// Package coordinator maps connections to game sessions, owns one authoritative position
// per session, serializes moves against it and fans updates out to session members.
//
// Operations of one client are serialized by a per-client lock; operations touching one
// session are serialized by a per-session lock. Unrelated sessions never wait on each other.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/events"
	"github.com/tecu23/room-server/pkg/messages"
	"github.com/tecu23/room-server/pkg/rules"
)

// Options tune session reclamation
type Options struct {
	// Retention keeps empty sessions dormant for this long. Zero reclaims them immediately.
	Retention time.Duration
	// ReapInterval is how often dormant sessions are checked. Defaults to Retention/2.
	ReapInterval time.Duration
}

// Stats is a point in time view of coordinator load
type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
}

// Coordinator is the single entry point the transport talks to.
type Coordinator struct {
	registry   *Registry
	directory  *Directory
	store      *Store
	dispatcher *Dispatcher
	gateway    *Gateway
	engine     rules.Engine

	publisher *events.Publisher
	logger    *zap.Logger
	opts      Options

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a coordinator around a rules engine
func New(engine rules.Engine, publisher *events.Publisher, logger *zap.Logger, opts Options) *Coordinator {
	logger = logger.With(zap.String("component", "coordinator"))

	registry := NewRegistry()
	store := NewStore(logger)
	directory := NewDirectory(store, engine, opts.Retention, logger)

	return &Coordinator{
		registry:   registry,
		directory:  directory,
		store:      store,
		dispatcher: NewDispatcher(directory, store, engine, logger),
		gateway:    NewGateway(registry, publisher, logger),
		engine:     engine,
		publisher:  publisher,
		logger:     logger,
		opts:       opts,
	}
}

// SetRelay forwards global broadcasts to other instances. Call before Start.
func (c *Coordinator) SetRelay(relay Relay) {
	c.gateway.relay = relay
}

// Gateway exposes the broadcast gateway, e.g. for relays delivering remote events.
func (c *Coordinator) Gateway() *Gateway {
	return c.gateway
}

// Start launches the reaper for dormant sessions when a retention period is configured.
func (c *Coordinator) Start(ctx context.Context) {
	if c.opts.Retention <= 0 {
		return
	}

	interval := c.opts.ReapInterval
	if interval <= 0 {
		interval = c.opts.Retention / 2
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Reap(now)
			}
		}
	}()
}

// Reap reclaims dormant sessions idle for longer than the retention period.
func (c *Coordinator) Reap(now time.Time) []string {
	reaped := c.directory.Reap(now)
	for _, key := range reaped {
		c.logger.Info("reclaimed dormant session", zap.String("session", key))
		c.publisher.Publish(events.Event{Type: events.EventSessionReclaimed, SessionKey: key})
	}

	return reaped
}

// Close stops background work
func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.logger.Info("coordinator stopped", zap.Int("sessions", c.directory.Len()))
}

// Connect registers a new connection and announces it to every client.
func (c *Coordinator) Connect(id string, peer Peer) {
	if !c.registry.Join(id, peer) {
		return
	}

	c.logger.Info("client connected",
		zap.String("client_id", id),
		zap.Int("connections", c.registry.Len()))

	c.publisher.Publish(events.Event{Type: events.EventConnectionOpened, ClientID: id})
	c.gateway.BroadcastToAll(messages.EventNewConnection, messages.NewConnectionPayload{ID: id})
}

// Disconnect removes the client from its session and from the registry. A move of the same
// client that is already running finishes first; later ones are discarded.
func (c *Coordinator) Disconnect(id string) {
	cl, ok := c.registry.lookup(id)
	if !ok {
		return
	}

	cl.mu.Lock()
	if cl.gone {
		cl.mu.Unlock()
		return
	}
	cl.gone = true
	c.leave(id)
	c.registry.Leave(id)
	cl.mu.Unlock()

	c.logger.Info("client disconnected",
		zap.String("client_id", id),
		zap.Int("connections", c.registry.Len()))

	c.publisher.Publish(events.Event{Type: events.EventConnectionClosed, ClientID: id})
}

// withClient runs fn while holding the client's lock. Clients that are not connected, or are
// disconnecting, get ErrUnknownClient.
func (c *Coordinator) withClient(id string, fn func() error) error {
	cl, ok := c.registry.lookup(id)
	if !ok {
		return ErrUnknownClient
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.gone {
		return ErrUnknownClient
	}

	return fn()
}

// JoinSession attaches the client to key, creating the session on first use, leaving any
// other session first. The current position is sent to every member, the joiner included,
// and returned.
func (c *Coordinator) JoinSession(id, key string) (string, error) {
	if err := ValidateSessionKey(key); err != nil {
		return "", err
	}

	var fen string
	err := c.withClient(id, func() error {
		if current, ok := c.directory.SessionOf(id); ok && current != key {
			c.leave(id)
		}

		created, err := c.directory.Join(id, key, func(members []string, pos rules.Position) {
			fen = c.engine.Serialize(pos)
			c.gateway.sendToMembers(key, members, messages.EventUpdate, c.update(key, pos))
		})
		if err != nil {
			return err
		}

		if created {
			c.logger.Info("session created", zap.String("session", key), zap.String("client_id", id))
			c.publisher.Publish(events.Event{Type: events.EventSessionCreated, SessionKey: key, ClientID: id})
		}
		c.publisher.Publish(events.Event{Type: events.EventSessionJoined, SessionKey: key, ClientID: id})

		return nil
	})

	return fen, err
}

// SessionOf returns the session key the client belongs to
func (c *Coordinator) SessionOf(id string) (string, bool) {
	return c.directory.SessionOf(id)
}

// LeaveSession detaches the client from its session without disconnecting it.
func (c *Coordinator) LeaveSession(id string) error {
	return c.withClient(id, func() error {
		c.leave(id)
		return nil
	})
}

// leave must be called with the client lock held.
func (c *Coordinator) leave(id string) {
	key, reclaimed := c.directory.Leave(id)
	if key == "" {
		return
	}

	c.publisher.Publish(events.Event{Type: events.EventSessionLeft, SessionKey: key, ClientID: id})

	if reclaimed {
		c.logger.Info("reclaimed empty session", zap.String("session", key))
		c.publisher.Publish(events.Event{Type: events.EventSessionReclaimed, SessionKey: key})
	}
}

// Move submits a coordinate move for the client's session. On success every member gets an
// update and the new position is returned; otherwise nothing changes and nothing is sent.
func (c *Coordinator) Move(id, raw string) (string, error) {
	var (
		fen string
		key string
	)

	err := c.withClient(id, func() error {
		var ok bool
		key, ok = c.directory.SessionOf(id)
		if !ok {
			return ErrNotInSession
		}

		pos, err := c.dispatcher.Apply(id, key, raw, func(members []string, pos rules.Position) {
			c.gateway.sendToMembers(key, members, messages.EventUpdate, c.update(key, pos))
		})
		if err != nil {
			return err
		}

		fen = c.engine.Serialize(pos)
		return nil
	})
	if err != nil {
		if key != "" {
			c.publisher.Publish(events.Event{
				Type:       events.EventMoveRejected,
				SessionKey: key,
				ClientID:   id,
				Payload:    string(ReasonOf(err)),
			})
		}

		c.logger.Debug("move rejected",
			zap.String("client_id", id),
			zap.String("session", key),
			zap.String("move", raw),
			zap.Error(err))

		return "", err
	}

	c.publisher.Publish(events.Event{Type: events.EventMoveApplied, SessionKey: key, ClientID: id, Payload: raw})

	return fen, nil
}

// Board returns the position of the client's own session
func (c *Coordinator) Board(id string) (messages.UpdatePayload, error) {
	var out messages.UpdatePayload
	err := c.withClient(id, func() error {
		key, ok := c.directory.SessionOf(id)
		if !ok {
			return ErrNotInSession
		}

		var err error
		out, err = c.Snapshot(key)
		return err
	})

	return out, err
}

// State returns the serialized position of a session
func (c *Coordinator) State(key string) (string, error) {
	fen, _, err := c.dispatcher.State(key)
	return fen, err
}

// Snapshot returns the update payload describing a session
func (c *Coordinator) Snapshot(key string) (messages.UpdatePayload, error) {
	fen, st, err := c.dispatcher.State(key)
	if err != nil {
		return messages.UpdatePayload{}, err
	}

	return payloadFor(key, fen, st), nil
}

// Members returns the member ids of a session
func (c *Coordinator) Members(key string) ([]string, error) {
	return c.directory.Members(key)
}

// BroadcastToSession delivers an event to every connected member of key.
func (c *Coordinator) BroadcastToSession(key, event string, payload interface{}) error {
	_, err := c.directory.withSession(key, false, func(s *session) error {
		c.gateway.sendToMembers(key, s.memberIDs(), event, payload)
		return nil
	})

	return err
}

// BroadcastToAll delivers an event to every connected client
func (c *Coordinator) BroadcastToAll(event string, payload interface{}) {
	c.gateway.BroadcastToAll(event, payload)
}

// SendTo delivers an event to one client
func (c *Coordinator) SendTo(id, event string, payload interface{}) bool {
	return c.gateway.SendTo(id, event, payload)
}

// Stats reports live connections and sessions
func (c *Coordinator) Stats() Stats {
	return Stats{
		Connections: c.registry.Len(),
		Sessions:    c.directory.Len(),
	}
}

func (c *Coordinator) update(key string, pos rules.Position) messages.UpdatePayload {
	return payloadFor(key, c.engine.Serialize(pos), c.engine.Status(pos))
}

func payloadFor(key, fen string, st rules.Status) messages.UpdatePayload {
	return messages.UpdatePayload{
		Session:  key,
		Position: fen,
		Turn:     string(st.Turn),
		LastMove: st.LastMove,
		Outcome:  st.Outcome,
		Method:   st.Method,
	}
}
