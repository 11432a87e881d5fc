package coordinator

import (
	"sort"
	"sync"
)

// Peer delivers encoded events to one client. Send must not block: it reports false when
// the message could not be queued.
type Peer interface {
	Send(data []byte) bool
}

// client is the registry record of one live connection. mu serializes every operation
// the client performs, including its own disconnect.
type client struct {
	id   string
	peer Peer

	mu   sync.Mutex
	gone bool
}

// Registry tracks which client identities are currently connected.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*client),
	}
}

// Join registers a newly connected identity. It reports false, and changes nothing, when
// the identity is already present.
func (r *Registry) Join(id string, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; ok {
		return false
	}

	r.clients[id] = &client{id: id, peer: peer}
	return true
}

// Leave deregisters id. Unknown identities are ignored.
func (r *Registry) Leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}

	delete(r.clients, id)
	return true
}

// Has reports whether id is connected
func (r *Registry) Has(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

// Peer returns the delivery handle for id
func (r *Registry) Peer(id string) (Peer, bool) {
	c, ok := r.lookup(id)
	if !ok {
		return nil, false
	}

	return c.peer, true
}

// Len returns the number of connected clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// IDs returns the sorted identities of every connected client
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// peers returns a snapshot of every connected peer keyed by identity.
func (r *Registry) peers() map[string]Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Peer, len(r.clients))
	for id, c := range r.clients {
		out[id] = c.peer
	}

	return out
}

func (r *Registry) lookup(id string) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}
